package persistence

import (
	"context"
	"slices"
	"sync"

	"github.com/petrijr/arbor/pkg/api"
)

// InMemoryEventStore keeps run history in process memory.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	order  []string
	events map[string][]api.Event
}

var _ EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]api.Event)}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	ev = stamp(ev)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.RunID]; !ok {
		s.order = append(s.order, ev.RunID)
	}
	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[runID]), nil
}

func (s *InMemoryEventStore) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}
