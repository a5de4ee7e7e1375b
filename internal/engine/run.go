package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/llm"
	"github.com/emotionsim/engine/internal/location"
	"github.com/emotionsim/engine/internal/loopdetect"
	"github.com/emotionsim/engine/internal/persistence"
	"github.com/emotionsim/engine/internal/runtime"
	"github.com/emotionsim/engine/internal/scenario"
)

// controlCmd is one control_run command (spec.md section 6.1), carried
// over Run.control and acknowledged synchronously via done.
type controlCmd struct {
	action string // pause, resume, stop, step, cancel
	done   chan error
}

// Run is one scenario instantiation's mutable state: world_state, agents,
// bus, conversation manager, cooperation coordinator, step counter, and
// status — exactly the ownership list in spec.md section 3.
type Run struct {
	ID         uuid.UUID
	ScenarioID uuid.UUID
	Scenario   *scenario.Scenario

	Status      Status
	CurrentStep int
	MaxSteps    int
	Seed        int64

	World   *runtime.World
	Oracle  llm.Oracle
	DB      *persistence.DB
	Emitter *EventEmitter

	LastMetrics Metrics
	Evaluation  *llm.Response

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	control     chan controlCmd
	stepActions []runtime.ActionResult
}

// NewRun instantiates a fresh Run from sc: one Instance per agent
// template, a fresh location graph, and the bus/conversation/cooperation/
// loop-detector state every tick mutates. oracle may be a *llm.Client in
// production or a *llm.FakeOracle in tests; db may be nil to run without
// persistence.
func NewRun(sc *scenario.Scenario, seed int64, maxSteps int, oracle llm.Oracle, db *persistence.DB) *Run {
	if maxSteps <= 0 {
		maxSteps = sc.MaxSteps
	}

	rng := rand.New(rand.NewSource(seed))
	graph := sc.BuildGraph()

	agentMap := make(map[string]*agents.Instance, len(sc.AgentTemplates))
	order := make([]string, 0, len(sc.AgentTemplates))
	var goals []string
	for _, tmpl := range sc.AgentTemplates {
		inst := agents.NewInstance(tmpl)
		agentMap[inst.ID.String()] = inst
		order = append(order, inst.ID.String())
		goals = append(goals, tmpl.Goals...)
	}

	run := &Run{
		ID:         uuid.New(),
		ScenarioID: sc.ID,
		Scenario:   sc,
		Status:     StatusPending,
		MaxSteps:   maxSteps,
		Seed:       seed,
		Emitter:    NewEventEmitter(),
		DB:         db,
		Oracle:     oracle,
		CreatedAt:  time.Now(),
		control:    make(chan controlCmd, 8),
	}

	world := &runtime.World{
		Graph:    graph,
		Resolver: location.NewResolver(graph, rng),
		Rng:      rng,
		State: &runtime.WorldState{
			HazardLevel: sc.World.HazardLevel,
			TimeOfDay:   string(sc.World.TimeOfDay),
			Weather:     sc.World.Weather,
			Extra:       sc.World.Extra,
		},
		Agents:       agentMap,
		AgentOrder:   order,
		Cooperation:  cooperation.New(goals),
		LoopDetector: loopdetect.New(),
		Emitter:      &runEmitter{run: run},
	}
	world.Conversations = conversation.New()
	world.Bus = bus.New(
		func(locationID string) []string { return agentsAtLocation(world, locationID) },
		func() []string { return world.ActiveAgentIDs() },
	)
	run.World = world
	return run
}

func agentsAtLocation(w *runtime.World, locationID string) []string {
	var out []string
	for id, a := range w.Agents {
		if a.IsActive && string(a.LocationID) == locationID {
			out = append(out, id)
		}
	}
	return out
}

// runEmitter adapts Run to the runtime.Emitter interface so the runtime
// package never imports the engine package (engine depends on runtime,
// never the reverse).
type runEmitter struct {
	run *Run
}

func (e *runEmitter) Emit(eventType string, data map[string]any) {
	e.run.emit(eventType, data)
}

func (r *Run) emit(eventType string, data map[string]any) {
	r.Emitter.Broadcast(Event{Type: eventType, Data: data, Timestamp: time.Now()})
}

// enqueue sends a control command and blocks until it has been applied,
// matching spec.md section 6.1's synchronous ack semantics for
// control_run: by the run's loop goroutine while one is running, or on the
// caller's goroutine for a pending or terminal run, which has no loop to
// receive it.
func (r *Run) enqueue(action string) error {
	cmd := controlCmd{action: action, done: make(chan error, 1)}
	switch r.Status {
	case StatusPending, StatusCompleted, StatusStopped, StatusCancelled, StatusError:
		r.applyControl(context.Background(), cmd)
	default:
		r.control <- cmd
	}
	return <-cmd.done
}

// drainControl applies every control command already queued without
// blocking. It runs between agent turns and at the top of each loop
// iteration (the tick-delay wait also receives commands); a command that
// arrives during an oracle call, event delivery or persistence write is
// applied at the next of those points.
func (r *Run) drainControl(ctx context.Context) {
	for {
		select {
		case cmd := <-r.control:
			r.applyControl(ctx, cmd)
		default:
			return
		}
	}
}

func (r *Run) applyControl(ctx context.Context, cmd controlCmd) {
	var err error
	switch cmd.action {
	case "pause":
		if r.Status != StatusRunning {
			err = fmt.Errorf("cannot pause run in status %s", r.Status)
		} else {
			r.Status = StatusPaused
			r.emit("run_status", map[string]any{"status": string(r.Status)})
			r.SaveSnapshot()
		}
	case "resume":
		if r.Status != StatusPaused {
			err = fmt.Errorf("cannot resume run in status %s", r.Status)
		} else {
			r.Status = StatusRunning
			r.emit("run_status", map[string]any{"status": string(r.Status)})
			r.SaveSnapshot()
		}
	case "stop":
		if r.Status != StatusRunning && r.Status != StatusPaused {
			err = fmt.Errorf("cannot stop run in status %s", r.Status)
		} else {
			r.Status = StatusStopped
			r.emit("run_stopped", map[string]any{"step": r.CurrentStep})
			r.SaveSnapshot()
		}
	case "cancel":
		if r.Status != StatusPending {
			err = fmt.Errorf("cannot cancel run in status %s", r.Status)
		} else {
			r.Status = StatusCancelled
			r.emit("run_status", map[string]any{"status": string(r.Status)})
			r.SaveSnapshot()
		}
	case "step":
		if r.Status != StatusPaused {
			err = fmt.Errorf("cannot step run in status %s", r.Status)
		} else {
			r.Status = StatusRunning
			r.step(ctx)
			if r.Status == StatusRunning {
				r.Status = StatusPaused
			}
		}
	default:
		err = fmt.Errorf("unknown control action %q", cmd.action)
	}
	if cmd.done != nil {
		cmd.done <- err
	}
}

// step executes the 13-step tick procedure from spec.md section 4.7.
func (r *Run) step(ctx context.Context) {
	if r.Status != StatusRunning {
		return
	}

	r.CurrentStep++
	r.World.CurrentStep = r.CurrentStep
	r.World.Resolver.ClearFailedCache()
	r.World.Bus.ResetStepSequence()
	r.stepActions = r.stepActions[:0]
	r.World.StepEvents = r.World.StepEvents[:0]

	r.emit("step_started", map[string]any{"step": r.CurrentStep})

	runtime.AdvanceTravel(r.World)

	// Passing the previous step closes only votes opened before it: a vote
	// opened in tick N stays open for all of tick N+1 and closes here at
	// the start of tick N+2.
	if v := r.World.Cooperation.CloseVoteIfOpen(r.CurrentStep - 1); v != nil {
		r.emit("vote_closed", map[string]any{"vote_id": v.ID.String(), "winner": v.Winner})
	}

	created, ended := r.World.Conversations.Scan(r.World.AgentLocations())
	for _, c := range created {
		r.emit("conversation_started", map[string]any{
			"conversation_id": c.ID.String(), "participants": c.Participants, "location_id": c.LocationID,
		})
	}
	for _, c := range ended {
		r.emit("conversation_ended", map[string]any{"conversation_id": c.ID.String()})
	}

	for _, id := range runtime.EnvironmentAgentIDs(r.World) {
		if r.Status != StatusRunning {
			break
		}
		r.runTurn(ctx, id)
		r.drainControl(ctx)
	}
	for _, id := range runtime.HumanAgentIDs(r.World) {
		if r.Status != StatusRunning {
			break
		}
		r.runTurn(ctx, id)
		r.drainControl(ctx)
	}
	for _, id := range runtime.DesignerAgentIDs(r.World) {
		if r.Status != StatusRunning {
			break
		}
		r.runTurn(ctx, id)
		r.drainControl(ctx)
	}

	// Every active conversation's index advances exactly once per tick,
	// whether or not its current speaker actually produced a message —
	// spec.md section 4.3's "no starvation" rule.
	for _, c := range r.World.Conversations.All() {
		if c.Status == conversation.StatusActive {
			c.AdvanceTurn()
		}
	}

	for _, c := range r.World.Conversations.AdvanceAll() {
		r.emit("conversation_paused", map[string]any{"conversation_id": c.ID.String()})
	}
	r.World.Conversations.Cleanup()

	metrics := computeMetrics(r.World)
	r.LastMetrics = metrics

	if r.DB != nil {
		if err := r.persistStep(metrics); err != nil {
			r.Status = StatusError
			r.emit("error", map[string]any{"error": err.Error()})
			return
		}
	}

	r.emit("step_completed", map[string]any{
		"step": r.CurrentStep, "avg_health": metrics.AvgHealth, "avg_stress": metrics.AvgStress,
		"action_count": len(r.stepActions),
	})
	r.SaveSnapshot()

	if r.CurrentStep >= r.MaxSteps {
		r.complete(ctx)
	}
}

func (r *Run) runTurn(ctx context.Context, agentID string) {
	res := runtime.Tick(ctx, r.World, agentID, r.Oracle)
	r.stepActions = append(r.stepActions, res.Actions...)
}

// complete runs the evaluator once (spec.md section 4.6) and transitions
// the run to its terminal completed status.
func (r *Run) complete(ctx context.Context) {
	for _, id := range runtime.EvaluatorAgentIDs(r.World) {
		res := runtime.Tick(ctx, r.World, id, r.Oracle)
		if res.Response != nil {
			r.Evaluation = res.Response
		}
	}
	r.Status = StatusCompleted
	now := time.Now()
	r.CompletedAt = &now
	r.emit("run_completed", map[string]any{
		"step": r.CurrentStep, "avg_health": r.LastMetrics.AvgHealth, "avg_stress": r.LastMetrics.AvgStress,
	})
	r.SaveSnapshot()
}

func (r *Run) persistStep(metrics Metrics) error {
	actions := make([]persistence.ActionRecord, 0, len(r.stepActions))
	for _, a := range r.stepActions {
		actions = append(actions, persistence.ActionRecord{
			AgentID: a.AgentID, ActionType: a.ActionType, Target: a.Target,
			Parameters: a.Parameters, Success: a.Success,
		})
	}

	stepRec := persistence.StepRecord{
		RunID:      r.ID.String(),
		StepIndex:  r.CurrentStep,
		WorldState: r.worldStateSnapshot(),
		Actions:    actions,
		AvgHealth:  metrics.AvgHealth,
		AvgStress:  metrics.AvgStress,
	}

	msgs := r.World.Bus.History(bus.Filter{FromStep: r.CurrentStep, ToStep: r.CurrentStep})
	msgRecs := make([]persistence.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		msgRecs = append(msgRecs, persistence.MessageRecord{
			ID: m.ID.String(), RunID: r.ID.String(), StepIndex: m.Step, Sequence: m.Sequence,
			FromAgentID: m.From, ToTarget: m.ToTarget, MessageType: string(m.Type),
			Content: m.Content, Metadata: m.Metadata,
		})
	}

	// Persistence failures are retried once before being treated as fatal,
	// per spec.md section 7's error propagation policy.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = r.DB.SaveStep(stepRec, msgRecs); err == nil {
			return nil
		}
	}
	return fmt.Errorf("persist step %d: %w", r.CurrentStep, err)
}

func (r *Run) worldStateSnapshot() map[string]any {
	return map[string]any{
		"hazard_level": r.World.State.HazardLevel,
		"time_of_day":  r.World.State.TimeOfDay,
		"weather":      r.World.State.Weather,
		"extra":        r.World.State.Extra,
	}
}

// SaveSnapshot persists the run's top-level record (status, current_step,
// world_state, metrics, evaluation) and replaces its agent rows with every
// agent's current dynamic state. It is a full upsert, safe to call at any
// transition point. No-op if the run was created without a DB.
func (r *Run) SaveSnapshot() error {
	if r.DB == nil {
		return nil
	}
	rec, err := r.toRunRecord()
	if err != nil {
		return err
	}
	if err := r.DB.SaveRun(rec); err != nil {
		return err
	}
	recs := make([]persistence.AgentRecord, 0, len(r.World.AgentOrder))
	for _, id := range r.World.AgentOrder {
		a := r.World.Agents[id]
		var inv []string
		for _, it := range a.Inventory {
			inv = append(inv, it.Name)
		}
		recs = append(recs, persistence.AgentRecord{RunID: rec.ID, AgentID: id, Name: a.Name(), Role: string(a.Role()),
			LocationID: string(a.LocationID), Health: a.Health, Stress: a.Stress, IsActive: a.IsActive, Inventory: inv})
	}
	return r.DB.SaveAgents(rec.ID, recs)
}

func (r *Run) toRunRecord() (persistence.RunRecord, error) {
	worldJSON, err := json.Marshal(r.worldStateSnapshot())
	if err != nil {
		return persistence.RunRecord{}, err
	}
	metricsJSON, err := json.Marshal(r.LastMetrics)
	if err != nil {
		return persistence.RunRecord{}, err
	}
	var evalJSON *string
	if r.Evaluation != nil {
		b, err := json.Marshal(r.Evaluation)
		if err != nil {
			return persistence.RunRecord{}, err
		}
		s := string(b)
		evalJSON = &s
	}
	seed := r.Seed

	return persistence.RunRecord{
		ID:             r.ID.String(),
		ScenarioID:     r.ScenarioID.String(),
		Status:         string(r.Status),
		CurrentStep:    r.CurrentStep,
		MaxSteps:       r.MaxSteps,
		Seed:           &seed,
		WorldStateJSON: string(worldJSON),
		MetricsJSON:    string(metricsJSON),
		EvaluationJSON: evalJSON,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}, nil
}
