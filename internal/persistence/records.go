package persistence

import "time"

// RunStatus mirrors engine.Status without importing the engine package —
// persistence never depends on engine; engine depends on persistence.
type RunStatus string

// ActionRecord is one executed action within a step, per spec.md
// section 3's Step Record action list.
type ActionRecord struct {
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Success    bool           `json:"success"`
}

// StepRecord is one tick's persisted snapshot.
type StepRecord struct {
	RunID       string         `json:"run_id"`
	StepIndex   int            `json:"step_index"`
	WorldState  map[string]any `json:"world_state"`
	Actions     []ActionRecord `json:"actions"`
	AvgHealth   float64        `json:"avg_health"`
	AvgStress   float64        `json:"avg_stress"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MessageRecord is one persisted message, per spec.md section 3.
type MessageRecord struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	StepIndex   int            `json:"step_index"`
	Sequence    int            `json:"sequence"`
	FromAgentID string         `json:"from_agent_id"`
	ToTarget    string         `json:"to_target,omitempty"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AgentRecord is one run-scoped agent's persisted dynamic state.
type AgentRecord struct {
	RunID      string `json:"run_id"`
	AgentID    string `json:"agent_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	LocationID string `json:"location_id"`
	Health     float64 `json:"health"`
	Stress     float64 `json:"stress"`
	IsActive   bool    `json:"is_active"`
	Inventory  []string `json:"inventory"`
}

// ScenarioRecord is the persisted form of a scenario template.
type ScenarioRecord struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	WorldConfigJSON string    `json:"world_config_json"`
	TemplatesJSON   string    `json:"agent_templates_json"`
	MaxSteps        int       `json:"max_steps"`
	TickDelay       float64   `json:"tick_delay_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunRecord is the persisted form of a Run.
type RunRecord struct {
	ID             string     `json:"id"`
	ScenarioID     string     `json:"scenario_id"`
	Status         string     `json:"status"`
	CurrentStep    int        `json:"current_step"`
	MaxSteps       int        `json:"max_steps"`
	Seed           *int64     `json:"seed,omitempty"`
	WorldStateJSON string     `json:"world_state_json"`
	MetricsJSON    string     `json:"metrics_json"`
	EvaluationJSON *string    `json:"evaluation_json,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
