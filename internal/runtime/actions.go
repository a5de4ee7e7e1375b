package runtime

import (
	"github.com/google/uuid"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/llm"
	"github.com/emotionsim/engine/internal/location"
)

// ActionResult records one executed action for the step record, per
// spec.md section 3's Step Record action list shape.
type ActionResult struct {
	AgentID    string
	ActionType string
	Target     string
	Parameters map[string]any
	Success    bool
	Reason     string
}

// applyActions executes a, in order, against w on behalf of agentID.
// A failing action is recorded but never aborts subsequent actions, per
// spec.md section 4.6.
func applyActions(w *World, agentID string, actions []llm.Action) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, act := range actions {
		r := applyOneAction(w, agentID, act)
		results = append(results, r)
		w.LoopDetector.RecordAction(agentID, act.ActionType, act.Target)
	}
	return results
}

func applyOneAction(w *World, agentID string, act llm.Action) ActionResult {
	a, ok := w.Agents[agentID]
	if !ok {
		return ActionResult{AgentID: agentID, ActionType: act.ActionType, Target: act.Target, Success: false, Reason: "agent not found"}
	}

	base := ActionResult{AgentID: agentID, ActionType: act.ActionType, Target: act.Target, Parameters: act.Parameters}

	if !permitted(a.Role(), act.ActionType) {
		base.Success = false
		base.Reason = "insufficient permission"
		return base
	}

	switch act.ActionType {
	case "move":
		return applyMove(w, a, act, base)
	case "take":
		return applyTake(w, a, act, base)
	case "drop":
		return applyDrop(w, a, act, base)
	case "use":
		return applyUse(w, a, act, base)
	case "interact":
		return applyInteract(w, a, act, base)
	case "search":
		return applySearch(w, a, base)
	case "wait", "reflect":
		base.Success = true
		return base
	case "help":
		return applyHelp(w, a, act, base)
	case "join_conversation":
		return applyJoinConversation(w, a, base)
	case "leave_conversation":
		return applyLeaveConversation(w, a, base)
	case "propose_task":
		return applyProposeTask(w, a, act, base)
	case "accept_task":
		return applyAcceptTask(w, a, act, base)
	case "report_progress":
		return applyReportProgress(w, act, base)
	case "call_for_vote":
		return applyCallForVote(w, a, act, base)
	case "cast_vote":
		return applyCastVote(w, a, act, base)
	case "environment_update":
		return applyEnvironmentUpdate(w, act, base)
	case "affect_agent":
		return applyAffectAgent(w, act, base)
	default:
		base.Success = false
		base.Reason = "unknown action type"
		return base
	}
}

// permitted enforces the two environment-only actions from spec.md
// section 4.6's action table.
func permitted(role agents.Role, actionType string) bool {
	switch actionType {
	case "environment_update", "affect_agent":
		return role == agents.RoleEnvironment
	default:
		return true
	}
}

func applyMove(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	target := location.ID(act.Target)
	outcome := w.Resolver.Resolve(a.ID.String(), a.LocationID, target)

	if outcome.Created {
		w.emit("location_created", map[string]any{"location_id": string(outcome.CreatedLocation)})
	}

	switch outcome.Kind {
	case location.OutcomeNoOp:
		base.Success = true
		base.Reason = "already at target"
		return base
	case location.OutcomeMoved:
		a.LocationID = outcome.NewLocation
		a.TravelPath = nil
		base.Success = true
		recordArrival(w, a, outcome.NewLocation)
		w.emit("agent_moved", map[string]any{"agent_id": a.ID.String(), "location_id": string(outcome.NewLocation)})
		return base
	case location.OutcomeTravelling:
		a.LocationID = outcome.NextHop
		a.TravelPath = outcome.RemainingPath[1:]
		base.Success = true
		w.emit("travel_started", map[string]any{"agent_id": a.ID.String(), "path": outcome.Path})
		w.emit("agent_moved", map[string]any{"agent_id": a.ID.String(), "location_id": string(outcome.NextHop)})
		return base
	default: // OutcomeFailed
		base.Success = false
		base.Reason = outcome.Reason
		if !outcome.AlreadyReported {
			w.emit("movement_failed", map[string]any{"agent_id": a.ID.String(), "target": act.Target, "reason": outcome.Reason})
		}
		return base
	}
}

func applyTake(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	loc, ok := w.Graph.Get(a.LocationID)
	if !ok {
		base.Success = false
		base.Reason = "location not found"
		return base
	}
	it, ok := loc.TakeItem(act.Target)
	if !ok {
		base.Success = false
		base.Reason = "item absent"
		return base
	}
	a.AddToInventory(it)
	base.Success = true
	return base
}

func applyDrop(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	it, ok := a.TakeFromInventory(act.Target)
	if !ok {
		base.Success = false
		base.Reason = "item absent"
		return base
	}
	loc, ok := w.Graph.Get(a.LocationID)
	if !ok {
		base.Success = false
		base.Reason = "location not found"
		return base
	}
	loc.DropItem(it)
	base.Success = true
	return base
}

func applyUse(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	for _, it := range a.Inventory {
		if it.Name != act.Target {
			continue
		}
		if heal, ok := it.Properties["heal"]; ok {
			if delta, ok := toFloat(heal); ok {
				a.ApplyHealthDelta(delta)
				w.emit("state_change", map[string]any{"agent_id": a.ID.String(), "health": a.Health})
			}
		}
		base.Success = true
		return base
	}
	base.Success = false
	base.Reason = "item absent"
	return base
}

func applyInteract(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	if act.Target == "" {
		base.Success = false
		base.Reason = "target absent"
		return base
	}
	base.Success = true
	w.emit("agent_interacted", map[string]any{"agent_id": a.ID.String(), "target": act.Target})
	return base
}

func applySearch(w *World, a *agents.Instance, base ActionResult) ActionResult {
	loc, ok := w.Graph.Get(a.LocationID)
	if !ok {
		base.Success = false
		base.Reason = "location not found"
		return base
	}
	revealed := loc.RevealHidden()
	base.Success = true
	base.Parameters = map[string]any{"revealed": revealed}
	return base
}

func applyHelp(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	target, ok := w.Agents[act.Target]
	if !ok {
		base.Success = false
		base.Reason = "target absent"
		return base
	}
	if target.LocationID != a.LocationID {
		base.Success = false
		base.Reason = "target out of location"
		return base
	}
	target.ApplyStressDelta(-1)
	target.ApplyHealthDelta(1)
	w.emit("state_change", map[string]any{"agent_id": target.ID.String(), "health": target.Health, "stress": target.Stress})
	base.Success = true
	return base
}

func applyJoinConversation(w *World, a *agents.Instance, base ActionResult) ActionResult {
	conv := w.Conversations.ForLocation(string(a.LocationID))
	if conv == nil {
		base.Success = false
		base.Reason = "not co-located"
		return base
	}
	for _, p := range conv.Participants {
		if p == a.ID.String() {
			base.Success = true
			return base
		}
	}
	conv.Participants = append(conv.Participants, a.ID.String())
	base.Success = true
	return base
}

func applyLeaveConversation(w *World, a *agents.Instance, base ActionResult) ActionResult {
	conv := w.Conversations.ForParticipant(a.ID.String())
	if conv == nil {
		base.Success = false
		base.Reason = "not co-located"
		return base
	}
	kept := conv.Participants[:0:0]
	for _, p := range conv.Participants {
		if p != a.ID.String() {
			kept = append(kept, p)
		}
	}
	conv.Participants = kept
	if len(conv.Participants) < 2 {
		conv.Status = "ended"
	}
	base.Success = true
	return base
}

func applyProposeTask(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	desc, _ := act.Parameters["description"].(string)
	if desc == "" {
		desc = act.Target
	}
	priority := 5
	if p, ok := toFloat(act.Parameters["priority"]); ok {
		priority = int(p)
	}
	var skills []string
	if raw, ok := act.Parameters["required_skills"].([]any); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				skills = append(skills, str)
			}
		}
	}
	t := w.Cooperation.ProposeTask(a.ID.String(), desc, priority, skills, w.CurrentStep)
	base.Success = true
	base.Parameters = map[string]any{"task_id": t.ID.String()}
	return base
}

func applyAcceptTask(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	id, err := parseUUID(act.Target)
	if err != nil {
		base.Success = false
		base.Reason = "task not found"
		return base
	}
	if _, ok := w.Cooperation.AcceptTask(a.ID.String(), id); !ok {
		base.Success = false
		base.Reason = "task not found"
		return base
	}
	base.Success = true
	return base
}

func applyReportProgress(w *World, act llm.Action, base ActionResult) ActionResult {
	id, err := parseUUID(act.Target)
	if err != nil {
		base.Success = false
		base.Reason = "task not found"
		return base
	}
	progress := 0
	if p, ok := toFloat(act.Parameters["progress"]); ok {
		progress = int(p)
	}
	status, _ := act.Parameters["status"].(string)
	if _, ok := w.Cooperation.ReportProgress(id, progress, statusFromString(status)); !ok {
		base.Success = false
		base.Reason = "task not found"
		return base
	}
	base.Success = true
	return base
}

func applyCallForVote(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	var options []string
	if raw, ok := act.Parameters["options"].([]any); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				options = append(options, s)
			}
		}
	}
	v, ok := w.Cooperation.CallForVote(a.ID.String(), act.Target, options, w.CurrentStep)
	if !ok {
		base.Success = false
		base.Reason = "a vote is already open"
		return base
	}
	base.Success = true
	base.Parameters = map[string]any{"vote_id": v.ID.String()}
	return base
}

// applyCastVote records act.Target (the chosen option) as agent a's ballot
// in the currently open vote. spec.md section 4.4 describes a vote's
// majority tally but leaves how agents register a choice unstated; this
// delegates to the coordinator's own CastBallot, which already validates
// the option against the open vote.
func applyCastVote(w *World, a *agents.Instance, act llm.Action, base ActionResult) ActionResult {
	if !w.Cooperation.CastBallot(a.ID.String(), act.Target) {
		base.Success = false
		base.Reason = "no open vote or invalid option"
		return base
	}
	base.Success = true
	return base
}

func applyEnvironmentUpdate(w *World, act llm.Action, base ActionResult) ActionResult {
	switch act.Target {
	case "hazard_level":
		if v, ok := toFloat(act.Parameters["value"]); ok {
			w.State.HazardLevel = clampInt(int(v), 0, 10)
			base.Success = true
			return base
		}
	case "time_of_day":
		if v, ok := act.Parameters["value"].(string); ok {
			switch v {
			case "dawn", "day", "dusk", "night":
				w.State.TimeOfDay = v
				base.Success = true
				return base
			}
		}
	case "weather":
		if v, ok := act.Parameters["value"].(string); ok && v != "" {
			w.State.Weather = v
			base.Success = true
			return base
		}
	default:
		if w.State.Extra == nil {
			w.State.Extra = make(map[string]any)
		}
		w.State.Extra[act.Target] = act.Parameters["value"]
		base.Success = true
		return base
	}
	base.Success = false
	base.Reason = "invalid value for reserved key"
	return base
}

func applyAffectAgent(w *World, act llm.Action, base ActionResult) ActionResult {
	target, ok := w.Agents[act.Target]
	if !ok {
		base.Success = false
		base.Reason = "target absent"
		return base
	}
	if v, ok := toFloat(act.Parameters["health"]); ok {
		target.ApplyHealthDelta(v)
	}
	if v, ok := toFloat(act.Parameters["stress"]); ok {
		target.ApplyStressDelta(v)
	}
	w.emit("state_change", map[string]any{"agent_id": target.ID.String(), "health": target.Health, "stress": target.Stress})
	base.Success = true
	return base
}

// recordArrival updates an agent's memory on a completed move (single-hop
// or the final hop of a multi-hop travel): spec.md section 3's
// "arrival context string" plus a low-weight episodic event.
func recordArrival(w *World, a *agents.Instance, dest location.ID) {
	if a.Memory == nil {
		return
	}
	desc := string(dest)
	if loc, ok := w.Graph.Get(dest); ok && loc.Description != "" {
		desc = loc.Description
	}
	a.Memory.ArrivalContext = "You arrived at " + string(dest) + ": " + desc
	a.Memory.AddEvent(w.CurrentStep, "moved to "+string(dest), 0.2)
}

// recentConversationCap bounds the rolling excerpt of a conversation's
// most recent lines carried in AgentMemory.recent_conversation, per
// spec.md section 3.
const recentConversationCap = 5

// publishMessage publishes resp.Message on behalf of agentID, if present,
// after all actions and state changes have applied (spec.md section 4.6
// ordering).
func publishMessage(w *World, agentID string, msg *llm.OutgoingMessage) *bus.Message {
	if msg == nil || msg.Content == "" {
		return nil
	}
	msgType := bus.MessageType(msg.MessageType)
	switch msgType {
	case bus.Direct, bus.Room, bus.Broadcast:
	default:
		msgType = bus.Direct
	}
	published := w.Bus.Publish(w.CurrentStep, agentID, msgType, msg.ToTarget, msg.Content, msg.Metadata)
	w.emit("message", map[string]any{
		"from": agentID, "to_target": msg.ToTarget, "message_type": string(msgType), "content": msg.Content,
	})
	if conv := w.Conversations.ForParticipant(agentID); conv != nil {
		conv.RecordMessage(agentID, published.ID.String())
	}
	recordMessageMemory(w, agentID, msgType, msg)
	recordTopic(w, agentID, msg)
	return published
}

// recordTopic feeds the loop detector's conversation-topic window
// (spec.md section 4.5). An agent may self-report what it's talking
// about via metadata.topic in its response; absent that, falls back to
// the message content itself, which still lets the detector catch an
// agent repeating the exact same line.
func recordTopic(w *World, agentID string, msg *llm.OutgoingMessage) {
	topic := msg.Content
	if t, ok := msg.Metadata["topic"].(string); ok && t != "" {
		topic = t
	}
	w.LoopDetector.RecordTopic(agentID, topic)
}

// recordMessageMemory appends the message to the sender's rolling
// recent-conversation excerpt and episodic log; for a direct message it
// also appends it to the recipient's excerpt and records the interaction
// in both agents' relationship maps — spec.md section 3's
// "relationship map" and "recent conversation excerpts".
func recordMessageMemory(w *World, agentID string, msgType bus.MessageType, msg *llm.OutgoingMessage) {
	sender, ok := w.Agents[agentID]
	if !ok || sender.Memory == nil {
		return
	}
	line := sender.Name() + ": " + msg.Content
	appendRecentConversation(sender, line)
	sender.Memory.AddEvent(w.CurrentStep, "said: "+msg.Content, 0.3)

	if msgType != bus.Direct {
		return
	}
	recipient, ok := w.Agents[msg.ToTarget]
	if !ok || recipient.Memory == nil {
		return
	}
	appendRecentConversation(recipient, line)
	sender.Memory.RecordInteraction(recipient.ID.String(), w.CurrentStep, 0.1, agents.SentimentNeutral, "")
	recipient.Memory.RecordInteraction(sender.ID.String(), w.CurrentStep, 0.1, agents.SentimentNeutral, "")
}

func appendRecentConversation(a *agents.Instance, line string) {
	a.Memory.RecentConversation = append(a.Memory.RecentConversation, line)
	if n := len(a.Memory.RecentConversation); n > recentConversationCap {
		a.Memory.RecentConversation = a.Memory.RecentConversation[n-recentConversationCap:]
	}
}

// applyStateChanges applies bounded deltas from the response's
// state_changes field, clamped per spec.md section 4.6.
func applyStateChanges(w *World, a *agents.Instance, sc *llm.StateChanges) {
	if sc == nil {
		return
	}
	changed := false
	if sc.Health != nil {
		a.ApplyHealthDelta(*sc.Health)
		changed = true
	}
	if sc.Stress != nil {
		a.ApplyStressDelta(*sc.Stress)
		changed = true
	}
	if changed {
		w.emit("state_change", map[string]any{"agent_id": a.ID.String(), "health": a.Health, "stress": a.Stress})
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func statusFromString(s string) cooperation.TaskStatus {
	return cooperation.TaskStatus(s)
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
