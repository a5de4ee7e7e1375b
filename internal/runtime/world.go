// Package runtime implements the agent runtime: per-role tick dispatch,
// context assembly, oracle invocation, response validation, and action
// execution. See design doc component 4.6.
package runtime

import (
	"math/rand"
	"time"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/bus"
	"github.com/emotionsim/engine/internal/cooperation"
	"github.com/emotionsim/engine/internal/conversation"
	"github.com/emotionsim/engine/internal/loopdetect"
	"github.com/emotionsim/engine/internal/location"
)

// WorldState is the mutable reserved world-state plus scenario-defined
// extras, per SPEC_FULL.md section 3's typed-reserved-key addition.
type WorldState struct {
	HazardLevel int    // 0-10
	TimeOfDay   string // dawn, day, dusk, night
	Weather     string

	Extra map[string]any
}

// Emitter is the narrow surface the runtime needs from the engine's event
// emitter. Defined here (not imported from internal/engine) so the
// runtime package never depends on the engine package — the engine
// depends on the runtime, not the reverse.
type Emitter interface {
	Emit(eventType string, data map[string]any)
}

// World bundles every piece of per-run shared state the runtime mutates
// during a tick. The engine owns all of these; World is just a lens onto
// them handed to the runtime so ownership stays with the engine's Run.
type World struct {
	Graph         *location.Graph
	Resolver      *location.Resolver
	Bus           *bus.Bus
	Conversations *conversation.Manager
	Cooperation   *cooperation.Coordinator
	LoopDetector  *loopdetect.Detector
	Rng           *rand.Rand
	State         *WorldState
	Emitter       Emitter

	Agents     map[string]*agents.Instance // keyed by Instance.ID.String()
	AgentOrder []string                    // template declaration order

	CurrentStep   int
	StepEvents    []string // human-readable summaries, reset each tick by the engine
	OracleTimeout time.Duration
}

// ActiveAgentIDs returns the ids of every currently active agent.
func (w *World) ActiveAgentIDs() []string {
	out := make([]string, 0, len(w.AgentOrder))
	for _, id := range w.AgentOrder {
		if a, ok := w.Agents[id]; ok && a.IsActive {
			out = append(out, id)
		}
	}
	return out
}

// AgentLocations returns a snapshot of active-agent-id -> location-id,
// for the conversation manager's co-location scan.
func (w *World) AgentLocations() map[string]string {
	out := make(map[string]string, len(w.Agents))
	for id, a := range w.Agents {
		if a.IsActive {
			out[id] = string(a.LocationID)
		}
	}
	return out
}

func (w *World) emit(eventType string, data map[string]any) {
	if w.Emitter != nil {
		w.Emitter.Emit(eventType, data)
	}
}
