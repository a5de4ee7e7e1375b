package llm

import (
	"fmt"
	"strings"
)

// ContextView is the fully assembled per-tick context handed to a role's
// prompt builder, matching the ordered fields in spec.md section 4.6:
// preamble, goals, world state summary, own dynamic state, inbox, step
// events, cooperation context, loop suggestion, conversation transcript.
type ContextView struct {
	AgentName   string
	Role        string
	PersonaLine string // empty for non-human roles
	Goals       []string

	HazardLevel     int
	Weather         string
	TimeOfDay       string
	LocationID      string
	LocationDesc    string
	VisibleItems    []string
	NearbyLocations []string

	Health    float64
	Stress    float64
	Inventory []string

	Inbox []string // last N messages, rendered

	StepEvents []string

	CooperationGoals []string
	CooperationTasks []string
	ActiveVote       string

	LoopSuggestion string

	ConversationTranscript []string
	ConversationTurn       string // whose turn the round-robin index currently names, advisory only

	ArrivalContext     string   // set once, on the tick a move completes
	RecentMemories     []string // most recent episodic events, newest first
	RecentConversation []string // rolling excerpt independent of any one active conversation
	Relationships      []string // rendered "name: trust X, sentiment Y" lines
}

// SystemPrompt builds the role-preamble system prompt shared by every
// role, grounded on the teacher's buildOracleSystemPrompt pattern of an
// fmt.Sprintf persona preamble ending in explicit output-format
// instructions.
func SystemPrompt(v *ContextView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, participating in a social simulation.\n", v.AgentName)
	if v.PersonaLine != "" {
		b.WriteString(v.PersonaLine)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Your role is %s.\n\n", v.Role)
	b.WriteString("Respond ONLY with a single JSON object of the form:\n")
	b.WriteString(`{"actions":[{"action_type":"...","target":"...","parameters":{}}],"message":{"content":"...","to_target":"...","message_type":"direct|room|broadcast"}|null,"state_changes":{"health":0,"stress":0},"reasoning":"..."}`)
	b.WriteString("\n")
	return b.String()
}

// UserPrompt assembles the ordered context string from spec.md section
// 4.6: preamble (handled by SystemPrompt), goals, world state summary,
// own state, inbox, step events, cooperation context, loop suggestion,
// and conversation transcript.
func UserPrompt(v *ContextView) string {
	var b strings.Builder

	if len(v.Goals) > 0 {
		fmt.Fprintf(&b, "Your goals: %s\n\n", strings.Join(v.Goals, "; "))
	}

	fmt.Fprintf(&b, "World: hazard_level=%d, weather=%s, time_of_day=%s.\n", v.HazardLevel, v.Weather, v.TimeOfDay)
	fmt.Fprintf(&b, "You are at %s: %s\n", v.LocationID, v.LocationDesc)
	if len(v.VisibleItems) > 0 {
		fmt.Fprintf(&b, "Items here: %s\n", strings.Join(v.VisibleItems, ", "))
	}
	if len(v.NearbyLocations) > 0 {
		fmt.Fprintf(&b, "Nearby locations: %s\n", strings.Join(v.NearbyLocations, ", "))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Your state: health=%.1f, stress=%.1f\n", v.Health, v.Stress)
	if len(v.Inventory) > 0 {
		fmt.Fprintf(&b, "Your inventory: %s\n", strings.Join(v.Inventory, ", "))
	}
	b.WriteString("\n")

	if len(v.Inbox) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range v.Inbox {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	if len(v.StepEvents) > 0 {
		b.WriteString("Events this step:\n")
		for _, e := range v.StepEvents {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	if len(v.CooperationGoals) > 0 || len(v.CooperationTasks) > 0 || v.ActiveVote != "" {
		b.WriteString("Cooperation:\n")
		if len(v.CooperationGoals) > 0 {
			fmt.Fprintf(&b, "- shared goals: %s\n", strings.Join(v.CooperationGoals, "; "))
		}
		for _, t := range v.CooperationTasks {
			fmt.Fprintf(&b, "- task: %s\n", t)
		}
		if v.ActiveVote != "" {
			fmt.Fprintf(&b, "- active vote: %s\n", v.ActiveVote)
		}
		b.WriteString("\n")
	}

	if v.LoopSuggestion != "" {
		fmt.Fprintf(&b, "Note: %s\n\n", v.LoopSuggestion)
	}

	if len(v.ConversationTranscript) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, line := range v.ConversationTranscript {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}
	if v.ConversationTurn != "" {
		fmt.Fprintf(&b, "%s\n\n", v.ConversationTurn)
	}

	if v.ArrivalContext != "" {
		fmt.Fprintf(&b, "%s\n\n", v.ArrivalContext)
	}

	if len(v.RecentMemories) > 0 {
		b.WriteString("What you remember:\n")
		for _, m := range v.RecentMemories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	if len(v.RecentConversation) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, line := range v.RecentConversation {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	if len(v.Relationships) > 0 {
		b.WriteString("Your relationships:\n")
		for _, r := range v.Relationships {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	b.WriteString("What do you do this turn? Respond with a single JSON object.")
	return b.String()
}
