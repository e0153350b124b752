// Package persistence stores run history: an append-only log of the run and
// node events an engine emits. The log is for auditing and debugging; it is
// not execution state and cannot resume a run.
package persistence

import (
	"context"

	"github.com/petrijr/arbor/pkg/api"
)

// EventStore is an append-only history store for run events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error

	// ListEvents returns the events of one run in append order.
	ListEvents(ctx context.Context, runID string) ([]api.Event, error)

	// ListRuns returns the ids of every recorded run, oldest first.
	ListRuns(ctx context.Context) ([]string, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListRuns(ctx context.Context) ([]string, error)      { return nil, nil }
func (NoopEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	return nil, nil
}
