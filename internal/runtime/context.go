package runtime

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/llm"
)

const inboxWindow = 10

// buildContextView assembles the ordered context string fields from
// spec.md section 4.6: preamble, goals, world state summary, own dynamic
// state, inbox, step events, cooperation context, loop suggestion, and
// active conversation transcript.
func buildContextView(w *World, a *agents.Instance) *llm.ContextView {
	v := &llm.ContextView{
		AgentName: a.Name(),
		Role:      string(a.Role()),
		Goals:     a.Template.Goals,

		HazardLevel: w.State.HazardLevel,
		Weather:     w.State.Weather,
		TimeOfDay:   w.State.TimeOfDay,
		LocationID:  string(a.LocationID),

		Health: a.Health,
		Stress: a.Stress,

		LoopSuggestion: w.LoopDetector.Suggestion(a.ID.String()),
	}

	if a.Template.Persona != nil {
		p := a.Template.Persona
		v.PersonaLine = fmt.Sprintf(
			"You are a %d-year-old %s. Openness %.2f, conscientiousness %.2f, extraversion %.2f, agreeableness %.2f, neuroticism %.2f.",
			p.Age, p.Occupation, p.Openness, p.Conscientiousness, p.Extraversion, p.Agreeableness, p.Neuroticism,
		)
	}

	if loc, ok := w.Graph.Get(a.LocationID); ok {
		v.LocationDesc = loc.Description
		for _, it := range loc.Items {
			v.VisibleItems = append(v.VisibleItems, it.Name)
		}
		for _, n := range loc.Nearby {
			v.NearbyLocations = append(v.NearbyLocations, string(n))
		}
	}

	for _, it := range a.Inventory {
		v.Inventory = append(v.Inventory, it.Name)
	}

	v.Inbox = renderMessages(w.Bus.Inbox(a.ID.String(), inboxWindow))

	v.StepEvents = append([]string(nil), w.StepEvents...)

	v.CooperationGoals = append([]string(nil), w.Cooperation.SharedGoals...)
	for _, t := range w.Cooperation.VisibleTasks() {
		v.CooperationTasks = append(v.CooperationTasks, fmt.Sprintf("%s [%s, priority %d, progress %d%%]", t.Description, t.Status, t.Priority, t.Progress))
	}
	if vote := w.Cooperation.ActiveVote; vote != nil && !vote.Closed {
		v.ActiveVote = fmt.Sprintf("%s: options %v", vote.Proposal, vote.Options)
	}

	if conv := w.Conversations.ForParticipant(a.ID.String()); conv != nil {
		v.ConversationTranscript = renderTranscript(w.Bus, conv.Transcript)
		v.ConversationTurn = turnHint(w, conv, a.ID.String())
	}

	if a.Memory != nil {
		v.ArrivalContext = a.Memory.ArrivalContext
		v.RecentConversation = a.Memory.RecentConversation
		for _, ev := range a.Memory.RecentEvents(5) {
			v.RecentMemories = append(v.RecentMemories, ev.Content)
		}
		v.Relationships = renderRelationships(w, a.Memory)
	}

	return v
}

// renderRelationships formats each tracked relationship as a one-line
// summary naming the other agent, not its ID, falling back to the raw ID
// if the agent is no longer in the run.
func renderRelationships(w *World, m *agents.Memory) []string {
	if len(m.Relationships) == 0 {
		return nil
	}
	out := make([]string, 0, len(m.Relationships))
	for otherID, rel := range m.Relationships {
		name := otherID
		if other, ok := w.Agents[otherID]; ok {
			name = other.Name()
		}
		out = append(out, fmt.Sprintf("%s: trust %.1f, %s", name, rel.TrustLevel, rel.Sentiment))
	}
	sort.Strings(out)
	return out
}

// turnHint renders conv's round-robin state as an advisory line for
// agentID: spec.md section 4.3 names the current speaker but explicitly
// makes conversations "context — not gates," so this never suppresses a
// message, only informs whose turn the index currently names.
func turnHint(w *World, conv *conversation.Conversation, agentID string) string {
	speaker := conv.CurrentSpeaker()
	if speaker == "" {
		return ""
	}
	if speaker == agentID {
		return "It is your turn to speak."
	}
	name := speaker
	if other, ok := w.Agents[speaker]; ok {
		name = other.Name()
	}
	return fmt.Sprintf("It is %s's turn; you may still speak if you choose.", name)
}

func renderMessages(msgs []*bus.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fmt.Sprintf("%s: %s", m.From, m.Content))
	}
	return out
}

func renderTranscript(b *bus.Bus, messageIDs []string) []string {
	if len(messageIDs) == 0 {
		return nil
	}
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	all := b.History(bus.Filter{})
	out := make([]string, 0, len(messageIDs))
	for _, m := range all {
		if want[m.ID.String()] {
			out = append(out, fmt.Sprintf("%s: %s", m.From, m.Content))
		}
	}
	return out
}

// sortedAgentIDs returns agent ids in template declaration order,
// restricted to those with role r and currently active.
func sortedAgentIDs(w *World, r agents.Role) []string {
	var out []string
	for _, id := range w.AgentOrder {
		a, ok := w.Agents[id]
		if !ok || !a.IsActive {
			continue
		}
		if a.Role() == r {
			out = append(out, id)
		}
	}
	return out
}

// permutation returns ids shuffled by a Fisher-Yates draw from rng,
// leaving the input slice untouched.
func permutation(rng *rand.Rand, ids []string) []string {
	out := append([]string(nil), ids...)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
