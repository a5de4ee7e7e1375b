// Package conversation implements the conversation manager: co-location
// scanning, lifecycle, and round-robin turn allocation. See design doc
// component 4.3.
package conversation

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Status is the conversation lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// DefaultMaxTurnsPerAgent is used when a scenario does not declare one.
const DefaultMaxTurnsPerAgent = 20

// silenceTimeoutTicks is how many consecutive ticks without a message from
// any participant before a conversation pauses (spec.md section 4.3).
const silenceTimeoutTicks = 2

// Conversation tracks one active dialogue among co-located agents.
type Conversation struct {
	ID                  uuid.UUID `json:"id"`
	Participants        []string  `json:"participants"` // ordered, stable
	LocationID          string    `json:"location_id"`
	CurrentSpeakerIndex int       `json:"current_speaker_index"`
	TurnCount           int       `json:"turn_count"`
	MaxTurnsPerAgent    int       `json:"max_turns_per_agent"`
	Status              Status    `json:"status"`
	Transcript          []string  `json:"transcript,omitempty"` // message ids, insertion order

	ticksSinceMessage int
	messagedThisTick  bool
	turnsByAgent      map[string]int
	key               string // sorted participant tuple, used as the manager index key
}

// CurrentSpeaker returns the participant whose turn it currently is.
func (c *Conversation) CurrentSpeaker() string {
	if len(c.Participants) == 0 {
		return ""
	}
	return c.Participants[c.CurrentSpeakerIndex%len(c.Participants)]
}

// AdvanceTurn moves to the next participant's turn unconditionally — used
// both when a participant speaks and when they pass, so no participant is
// ever starved of a turn.
func (c *Conversation) AdvanceTurn() {
	if len(c.Participants) == 0 {
		return
	}
	c.TurnCount++
	c.CurrentSpeakerIndex = (c.CurrentSpeakerIndex + 1) % len(c.Participants)
}

func participantKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// LocationLookup resolves each active agent's current location id, used
// by Scan to detect co-location.
type LocationLookup func() map[string]string // agentID -> locationID

// Manager holds every conversation currently known to a run, keyed by the
// sorted participant-id tuple so repeated scans of the same co-located
// group are idempotent.
type Manager struct {
	byKey map[string]*Conversation
}

// New creates an empty conversation manager.
func New() *Manager {
	return &Manager{byKey: make(map[string]*Conversation)}
}

// All returns every conversation the manager currently tracks, in no
// particular order.
func (m *Manager) All() []*Conversation {
	out := make([]*Conversation, 0, len(m.byKey))
	for _, c := range m.byKey {
		out = append(out, c)
	}
	return out
}

// ForLocation returns the active conversation at locationID, if any.
func (m *Manager) ForLocation(locationID string) *Conversation {
	for _, c := range m.byKey {
		if c.LocationID == locationID && c.Status != StatusEnded {
			return c
		}
	}
	return nil
}

// ForParticipant returns the conversation agentID currently participates
// in, if any.
func (m *Manager) ForParticipant(agentID string) *Conversation {
	for _, c := range m.byKey {
		if c.Status == StatusEnded {
			continue
		}
		for _, p := range c.Participants {
			if p == agentID {
				return c
			}
		}
	}
	return nil
}

// Scan groups agentLocations (agent id -> location id, active agents
// only) by location and creates a new conversation for any group of >=2
// agents sharing a location with no live conversation there. It also
// removes participants who have moved away from an existing conversation's
// location, ending conversations that drop below two participants.
func (m *Manager) Scan(agentLocations map[string]string) (created []*Conversation, ended []*Conversation) {
	byLoc := make(map[string][]string)
	for agent, loc := range agentLocations {
		byLoc[loc] = append(byLoc[loc], agent)
	}
	for _, ids := range byLoc {
		sort.Strings(ids)
	}

	// Remove participants who left; end conversations that drop below 2.
	for _, c := range m.byKey {
		if c.Status == StatusEnded {
			continue
		}
		stillPresent := byLoc[c.LocationID]
		present := make(map[string]bool, len(stillPresent))
		for _, id := range stillPresent {
			present[id] = true
		}
		kept := c.Participants[:0:0]
		for _, p := range c.Participants {
			if present[p] {
				kept = append(kept, p)
			}
		}
		if len(kept) != len(c.Participants) {
			c.Participants = kept
			if c.CurrentSpeakerIndex >= len(c.Participants) && len(c.Participants) > 0 {
				c.CurrentSpeakerIndex = c.CurrentSpeakerIndex % len(c.Participants)
			}
		}
		if len(c.Participants) < 2 && c.Status != StatusEnded {
			c.Status = StatusEnded
			ended = append(ended, c)
		}
	}

	// Create new conversations for co-located groups without one.
	for loc, ids := range byLoc {
		if len(ids) < 2 {
			continue
		}
		if m.ForLocation(loc) != nil {
			continue
		}
		key := participantKey(ids)
		c := &Conversation{
			ID:               uuid.New(),
			Participants:     ids,
			LocationID:       loc,
			MaxTurnsPerAgent: DefaultMaxTurnsPerAgent,
			Status:           StatusActive,
			turnsByAgent:     make(map[string]int),
			key:              key,
		}
		m.byKey[key] = c
		created = append(created, c)
	}

	return created, ended
}

// RecordMessage registers that participantID spoke this tick: resets the
// silence timer, resumes a paused conversation, counts the turn against
// the per-agent cap (ending the conversation if exceeded), and appends
// messageID to the transcript.
func (c *Conversation) RecordMessage(participantID, messageID string) {
	c.ticksSinceMessage = 0
	c.messagedThisTick = true
	if c.Status == StatusPaused {
		c.Status = StatusActive
	}
	if c.turnsByAgent == nil {
		c.turnsByAgent = make(map[string]int)
	}
	c.turnsByAgent[participantID]++
	if messageID != "" {
		c.Transcript = append(c.Transcript, messageID)
	}
	if c.turnsByAgent[participantID] > c.MaxTurnsPerAgent {
		c.Status = StatusEnded
	}
}

// AdvanceAll advances the silence timer by one tick for every still-active
// or paused conversation that received no message this tick, pausing any
// that have gone silent long enough. The engine calls this once per tick
// after agent turns (spec.md section 4.7 step 8).
func (m *Manager) AdvanceAll() (paused []*Conversation) {
	for _, c := range m.byKey {
		if c.Status == StatusEnded {
			continue
		}
		if c.messagedThisTick {
			c.messagedThisTick = false
			continue
		}
		c.ticksSinceMessage++
		if c.ticksSinceMessage >= silenceTimeoutTicks && c.Status == StatusActive {
			c.Status = StatusPaused
			paused = append(paused, c)
		}
	}
	return paused
}

// Cleanup removes every ended conversation from the manager's index.
func (m *Manager) Cleanup() {
	for k, c := range m.byKey {
		if c.Status == StatusEnded {
			delete(m.byKey, k)
		}
	}
}
