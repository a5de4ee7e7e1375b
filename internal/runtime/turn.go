package runtime

import (
	"context"
	"time"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/llm"
)

// TurnResult is what one agent's scheduled turn produced, handed back to
// the engine for step-record assembly.
type TurnResult struct {
	AgentID  string
	Skipped  bool // response-probability gate suppressed this turn
	Errored  bool // oracle/parse error; agent_error already emitted
	Actions  []ActionResult
	Response *llm.Response // full parsed response; the engine uses this for the evaluator's opaque output
}

// Tick runs one full scheduled turn for agentID: context assembly, the
// response-probability gate (human only), oracle invocation with
// per-agent timeout, response validation, and action/state/message
// application — grounded on the teacher's buildTier2Context ->
// GenerateTier2Decision -> applyTier2Decision pipeline, generalized from
// a single decision list to the full actions/message/state_changes
// schema and from one role to all four.
func Tick(ctx context.Context, w *World, agentID string, oracle llm.Oracle) TurnResult {
	a, ok := w.Agents[agentID]
	if !ok || !a.IsActive {
		return TurnResult{AgentID: agentID, Skipped: true}
	}

	if a.Role() == agents.RoleHuman {
		if w.Rng.Float64() > a.ResponseProbability() {
			return TurnResult{AgentID: agentID, Skipped: true}
		}
	}

	view := buildContextView(w, a)
	system := llm.SystemPrompt(view)
	user := llm.UserPrompt(view)

	timeout := w.OracleTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tokens, results := oracle.Stream(callCtx, a.Template.ModelID, system, user, 0.8)

	var resp *llm.Response
	var streamErr error
	tokensOpen, resultsOpen := true, true
	for tokensOpen || resultsOpen {
		select {
		case tok, ok := <-tokens:
			if !ok {
				tokensOpen = false
				tokens = nil
				continue
			}
			w.emit("stream_token", map[string]any{"agent_id": agentID, "token": tok.Text})
		case r, ok := <-results:
			if !ok {
				resultsOpen = false
				results = nil
				continue
			}
			resp, streamErr = r.Response, r.Err
		}
	}

	if streamErr != nil || resp == nil {
		w.emit("agent_error", map[string]any{"agent_id": agentID, "error": errString(streamErr)})
		return TurnResult{AgentID: agentID, Errored: true}
	}

	actionResults := applyActions(w, agentID, resp.Actions)
	for _, r := range actionResults {
		w.emit("agent_action", map[string]any{
			"agent_id": r.AgentID, "action_type": r.ActionType, "target": r.Target, "success": r.Success,
		})
	}

	applyStateChanges(w, a, resp.StateChanges)
	publishMessage(w, agentID, resp.Message)

	return TurnResult{AgentID: agentID, Actions: actionResults, Response: resp}
}

func errString(err error) string {
	if err == nil {
		return "empty response"
	}
	return err.Error()
}
