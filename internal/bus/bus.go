// Package bus implements the run-scoped message bus: direct, room, and
// broadcast routing over an insertion-ordered, unbounded log. See design
// doc component 4.2.
package bus

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MessageType selects the routing rule applied to a message on publish.
type MessageType string

const (
	Direct    MessageType = "direct"
	Room      MessageType = "room"
	Broadcast MessageType = "broadcast"
)

// Message is one published record. Step and Sequence together define the
// insertion order used by History.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Step      int            `json:"step"`
	Sequence  int            `json:"sequence"` // publish order within Step
	From      string         `json:"from"`
	ToTarget  string         `json:"to_target,omitempty"`
	Type      MessageType    `json:"message_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Recipients []string      `json:"recipients"` // resolved at publish time
}

// LocationLookup resolves which agents are currently at a given location,
// used to resolve room-scoped delivery. The bus never imports the agent
// or location packages directly; the engine supplies this function.
type LocationLookup func(locationID string) []string

// ActiveAgents resolves the current roster of active agent ids, used to
// resolve broadcast delivery.
type ActiveAgents func() []string

// Bus is the run-scoped message log with per-agent and per-room indexes.
// One Bus belongs to one Run; it is mutated only from within the active
// agent's turn, matching the ownership discipline in spec.md section 5.
type Bus struct {
	mu       sync.RWMutex
	messages []*Message
	byAgent  map[string][]*Message
	byRoom   map[string][]*Message

	seq int // publish sequence within the current step

	AgentsAt LocationLookup
	Active   ActiveAgents
}

// New creates an empty message bus. lookup and active may be nil and set
// later, but must be set before Publish is called with room/broadcast
// messages.
func New(lookup LocationLookup, active ActiveAgents) *Bus {
	return &Bus{
		byAgent:  make(map[string][]*Message),
		byRoom:   make(map[string][]*Message),
		AgentsAt: lookup,
		Active:   active,
	}
}

// ResetStepSequence resets the per-step publish sequence counter. The
// engine calls this once at the start of every tick.
func (b *Bus) ResetStepSequence() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq = 0
}

// Publish appends a message to the log and resolves its recipients
// according to its Type. The returned Message is the stored record
// (including assigned ID, Sequence, and Recipients).
func (b *Bus) Publish(step int, from string, msgType MessageType, toTarget, content string, metadata map[string]any) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := &Message{
		ID:       uuid.New(),
		Step:     step,
		Sequence: b.seq,
		From:     from,
		ToTarget: toTarget,
		Type:     msgType,
		Content:  content,
		Metadata: metadata,
	}
	b.seq++

	switch msgType {
	case Direct:
		if toTarget != "" {
			msg.Recipients = []string{toTarget}
		}
	case Room:
		if b.AgentsAt != nil {
			msg.Recipients = b.AgentsAt(toTarget)
		}
		b.byRoom[toTarget] = append(b.byRoom[toTarget], msg)
	case Broadcast:
		if b.Active != nil {
			msg.Recipients = b.Active()
		}
	}

	b.messages = append(b.messages, msg)
	for _, r := range msg.Recipients {
		b.byAgent[r] = append(b.byAgent[r], msg)
	}
	// Sender always has a copy of its own sent message in its history view.
	if !contains(msg.Recipients, from) {
		b.byAgent[from] = append(b.byAgent[from], msg)
	}

	return msg
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Filter restricts History to a specific agent, room, or step range. A
// zero value for a field means "no restriction" on that dimension.
type Filter struct {
	AgentID     string
	RoomID      string
	FromStep    int
	ToStep      int // inclusive; 0 means unbounded
}

// History returns messages matching filter, insertion-ordered by
// (step, sequence).
func (b *Bus) History(filter Filter) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var source []*Message
	switch {
	case filter.AgentID != "":
		source = b.byAgent[filter.AgentID]
	case filter.RoomID != "":
		source = b.byRoom[filter.RoomID]
	default:
		source = b.messages
	}

	out := make([]*Message, 0, len(source))
	for _, m := range source {
		if m.Step < filter.FromStep {
			continue
		}
		if filter.ToStep != 0 && m.Step > filter.ToStep {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// Inbox returns the last n messages visible to agentID, insertion-ordered,
// oldest first. n<=0 returns the full history for that agent.
func (b *Bus) Inbox(agentID string, n int) []*Message {
	all := b.History(Filter{AgentID: agentID})
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}
