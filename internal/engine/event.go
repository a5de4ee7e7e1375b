package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one envelope delivered to subscribers, matching the wire shape
// in spec.md section 6.2.
type Event struct {
	Type      string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// sinkBuffer is the per-subscriber channel depth. A subscriber that falls
// further behind than this blocks the engine — spec.md section 4.8's
// backpressure rule — rather than dropping events.
const sinkBuffer = 64

// EventEmitter is a registry of named subscriber sinks, grounded on the
// teacher's Subscribe/Unsubscribe SSE pattern in internal/api/server.go
// (handleStream), generalized from a single SSE use site into a reusable
// multi-sink registry so the websocket handler (section 6.2) and any
// persistence-side listener can both subscribe independently.
type EventEmitter struct {
	mu    sync.RWMutex
	sinks map[string]chan Event
}

// NewEventEmitter creates an empty subscriber registry.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{sinks: make(map[string]chan Event)}
}

// Subscribe registers a new sink and returns its id and receive-only
// channel. The caller must eventually call Unsubscribe with the same id.
func (e *EventEmitter) Subscribe() (string, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan Event, sinkBuffer)
	e.sinks[id] = ch
	return id, ch
}

// Unsubscribe removes a sink. The channel is not closed — left for the
// garbage collector once its reader stops — so a Broadcast racing with an
// Unsubscribe can never send on a closed channel.
func (e *EventEmitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sinks, id)
}

// Broadcast delivers ev to every subscribed sink, blocking on any sink
// that is full rather than dropping the event.
func (e *EventEmitter) Broadcast(ev Event) {
	e.mu.RLock()
	sinks := make([]chan Event, 0, len(e.sinks))
	for _, ch := range e.sinks {
		sinks = append(sinks, ch)
	}
	e.mu.RUnlock()

	for _, ch := range sinks {
		ch <- ev
	}
}

// SubscriberCount reports how many sinks are currently registered.
func (e *EventEmitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sinks)
}
