// Package engine implements the simulation engine: the Run state machine,
// the 13-step tick procedure, and the event emitter. See design doc
// component 4.7/4.8.
package engine

// Status is the run lifecycle state machine from spec.md section 4.7.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)
