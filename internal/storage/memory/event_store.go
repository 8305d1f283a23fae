// Package memory provides an in-memory record store for development and
// testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

// DefaultMaxRecords bounds the store so a long-running dev server stays small.
const DefaultMaxRecords = 10000

// EventStore keeps events in insertion order and drops the oldest once full.
type EventStore struct {
	mu     sync.RWMutex
	events []beacon.Event
	max    int
	ids    beacon.IDGenerator
}

// NewEventStore constructs an EventStore holding at most maxRecords events.
func NewEventStore(ids beacon.IDGenerator, maxRecords int) *EventStore {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &EventStore{ids: ids, max: maxRecords}
}

// Insert stores evt under a fresh id and returns the id.
func (s *EventStore) Insert(_ context.Context, evt beacon.Event) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	evt.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.max {
		s.events = append(s.events[:0], s.events[len(s.events)-s.max+1:]...)
	}
	s.events = append(s.events, evt)
	return id, nil
}

// QueryRecent returns up to limit events, newest OccurredAt first.
func (s *EventStore) QueryRecent(_ context.Context, limit int) ([]beacon.Event, error) {
	s.mu.RLock()
	out := make([]beacon.Event, len(s.events))
	copy(out, s.events)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
