package persistence

import (
	"database/sql"
	"fmt"
)

// SaveScenario upserts a scenario record.
func (db *DB) SaveScenario(r ScenarioRecord) error {
	_, err := db.conn.Exec(`INSERT INTO scenarios
		(id, name, description, world_config_json, agent_templates_json, max_steps, tick_delay_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
			world_config_json=excluded.world_config_json, agent_templates_json=excluded.agent_templates_json,
			max_steps=excluded.max_steps, tick_delay_seconds=excluded.tick_delay_seconds`,
		r.ID, r.Name, r.Description, r.WorldConfigJSON, r.TemplatesJSON, r.MaxSteps, r.TickDelay, nowString())
	return err
}

// GetScenario loads a scenario by id.
func (db *DB) GetScenario(id string) (*ScenarioRecord, error) {
	var r ScenarioRecord
	var createdAt string
	err := db.conn.QueryRowx(`SELECT id, name, description, world_config_json, agent_templates_json, max_steps, tick_delay_seconds, created_at
		FROM scenarios WHERE id = ?`, id).Scan(&r.ID, &r.Name, &r.Description, &r.WorldConfigJSON, &r.TemplatesJSON, &r.MaxSteps, &r.TickDelay, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveRun upserts a run's top-level record (status, step counter, world
// state, metrics, evaluation, timestamps).
func (db *DB) SaveRun(r RunRecord) error {
	_, err := db.conn.Exec(`INSERT INTO runs
		(id, scenario_id, status, current_step, max_steps, seed, world_state_json, metrics_json, evaluation_json, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, current_step=excluded.current_step,
			world_state_json=excluded.world_state_json, metrics_json=excluded.metrics_json,
			evaluation_json=excluded.evaluation_json, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		r.ID, r.ScenarioID, r.Status, r.CurrentStep, r.MaxSteps, r.Seed, r.WorldStateJSON, r.MetricsJSON,
		r.EvaluationJSON, r.CreatedAt, r.StartedAt, r.CompletedAt)
	return err
}

// GetRun loads a run by id.
func (db *DB) GetRun(id string) (*RunRecord, error) {
	var r RunRecord
	err := db.conn.Get(&r, `SELECT id, scenario_id, status, current_step, max_steps, seed,
		world_state_json, metrics_json, evaluation_json, created_at, started_at, completed_at
		FROM runs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs, optionally restricted to scenarioID, newest
// first, paginated.
func (db *DB) ListRuns(scenarioID string, limit, offset int) ([]RunRecord, error) {
	var runs []RunRecord
	var err error
	if scenarioID != "" {
		err = db.conn.Select(&runs, `SELECT id, scenario_id, status, current_step, max_steps, seed,
			world_state_json, metrics_json, evaluation_json, created_at, started_at, completed_at
			FROM runs WHERE scenario_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, scenarioID, limit, offset)
	} else {
		err = db.conn.Select(&runs, `SELECT id, scenario_id, status, current_step, max_steps, seed,
			world_state_json, metrics_json, evaluation_json, created_at, started_at, completed_at
			FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	}
	return runs, err
}

// SaveAgents full-replaces the run_agents rows for runID — called by the
// engine with every run snapshot write (Run.SaveSnapshot), from run
// creation on.
func (db *DB) SaveAgents(runID string, records []AgentRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_agents WHERE run_id = ?`, runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO run_agents
		(run_id, agent_id, name, role, location_id, health, stress, is_active, inventory_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range records {
		invJSON, err := marshal(a.Inventory)
		if err != nil {
			return err
		}
		active := 0
		if a.IsActive {
			active = 1
		}
		if _, err := stmt.Exec(runID, a.AgentID, a.Name, a.Role, a.LocationID, a.Health, a.Stress, active, invJSON); err != nil {
			return fmt.Errorf("insert agent %s: %w", a.AgentID, err)
		}
	}

	return tx.Commit()
}

// GetAgents returns every agent row for runID.
func (db *DB) GetAgents(runID string) ([]AgentRecord, error) {
	rows, err := db.conn.Queryx(`SELECT agent_id, name, role, location_id, health, stress, is_active, inventory_json
		FROM run_agents WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		var a AgentRecord
		var active int
		var invJSON string
		if err := rows.Scan(&a.AgentID, &a.Name, &a.Role, &a.LocationID, &a.Health, &a.Stress, &active, &invJSON); err != nil {
			return nil, err
		}
		a.RunID = runID
		a.IsActive = active != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveStep writes one step record and all messages produced that tick in
// a single transaction — spec.md section 6.4 forbids partial persistence
// of a step.
func (db *DB) SaveStep(step StepRecord, msgs []MessageRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	worldJSON, err := marshal(step.WorldState)
	if err != nil {
		return err
	}
	actionsJSON, err := marshal(step.Actions)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO steps
		(run_id, step_index, world_state_json, actions_json, avg_health, avg_stress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_index) DO UPDATE SET world_state_json=excluded.world_state_json,
			actions_json=excluded.actions_json, avg_health=excluded.avg_health, avg_stress=excluded.avg_stress`,
		step.RunID, step.StepIndex, worldJSON, actionsJSON, step.AvgHealth, step.AvgStress, nowString()); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	msgStmt, err := tx.Preparex(`INSERT INTO messages
		(id, run_id, step_index, sequence, from_agent_id, to_target, message_type, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer msgStmt.Close()

	for _, m := range msgs {
		metaJSON, err := marshal(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := msgStmt.Exec(m.ID, step.RunID, step.StepIndex, m.Sequence, m.FromAgentID, m.ToTarget, m.MessageType, m.Content, metaJSON, nowString()); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetSteps returns steps for runID, chronological, paginated.
func (db *DB) GetSteps(runID string, limit, offset int) ([]StepRecord, error) {
	rows, err := db.conn.Queryx(`SELECT step_index, world_state_json, actions_json, avg_health, avg_stress, created_at
		FROM steps WHERE run_id = ? ORDER BY step_index ASC LIMIT ? OFFSET ?`, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var s StepRecord
		var worldJSON, actionsJSON, createdAt string
		if err := rows.Scan(&s.StepIndex, &worldJSON, &actionsJSON, &s.AvgHealth, &s.AvgStress, &createdAt); err != nil {
			return nil, err
		}
		s.RunID = runID
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetMessages returns messages for runID, optionally restricted to
// agentID (sender or recipient is not tracked at this layer — callers
// filter by sender only, matching spec.md's from_agent_id field),
// chronological, paginated.
func (db *DB) GetMessages(runID, agentID string, limit, offset int) ([]MessageRecord, error) {
	var rows *sql.Rows
	var err error
	base := `SELECT id, step_index, sequence, from_agent_id, to_target, message_type, content, metadata_json, created_at
		FROM messages WHERE run_id = ?`
	if agentID != "" {
		rows, err = db.conn.Query(base+` AND from_agent_id = ? ORDER BY step_index ASC, sequence ASC LIMIT ? OFFSET ?`, runID, agentID, limit, offset)
	} else {
		rows, err = db.conn.Query(base+` ORDER BY step_index ASC, sequence ASC LIMIT ? OFFSET ?`, runID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.StepIndex, &m.Sequence, &m.FromAgentID, &m.ToTarget, &m.MessageType, &m.Content, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		m.RunID = runID
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecoverRunningRuns resets every run in status "running" to "paused",
// per spec.md section 6.4's restart recovery rule: current_step stays at
// the last persisted step.
func (db *DB) RecoverRunningRuns() (int64, error) {
	res, err := db.conn.Exec(`UPDATE runs SET status = 'paused' WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
