package api

import "time"

// EventType identifies a run history event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
)

// Event is a minimal append-only history record for audit/debugging.
// It is intentionally small and stable; richer history can be layered later.
type Event struct {
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	Type  EventType `json:"type"`

	// Optional node context; ActionID is zero for run-level events.
	ActionID    uint64        `json:"action_id,omitempty"`
	Kind        string        `json:"kind,omitempty"`
	Description string        `json:"description,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`

	// Small, human-oriented details (e.g. error string).
	// Keep this low-volume: do NOT dump large payloads here.
	Detail string `json:"detail,omitempty"`
}
