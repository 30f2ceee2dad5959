package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Appender persists events. Implementations assign the event id.
type Appender interface {
	Append(ctx context.Context, ev Event) (Event, error)
}

// Query is a validated store-level filter. Zero fields do not constrain.
type Query struct {
	ActorID   string
	EventType EventType
	Severity  Severity
	From      time.Time
	To        time.Time
	Limit     int
}

// Reader retrieves events newest-first.
type Reader interface {
	Find(ctx context.Context, q Query) ([]Event, error)
}

// Store is an append-only event store.
type Store interface {
	Appender
	Reader
}

// Matches reports whether ev satisfies q, ignoring the limit.
func (q Query) Matches(ev Event) bool {
	if q.ActorID != "" && ev.ActorID != q.ActorID {
		return false
	}
	if q.EventType != "" && ev.EventType != q.EventType {
		return false
	}
	if q.Severity != "" && ev.Severity != q.Severity {
		return false
	}
	if !q.From.IsZero() && ev.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ev.Timestamp.After(q.To) {
		return false
	}
	return true
}

// MemoryStore keeps events in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Appender.
func (s *MemoryStore) Append(_ context.Context, ev Event) (Event, error) {
	ev.ID = uuid.NewString()
	ev.Details = ev.Details.Clone()
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return ev, nil
}

// Find implements Reader.
func (s *MemoryStore) Find(_ context.Context, q Query) ([]Event, error) {
	s.mu.RLock()
	out := make([]Event, 0)
	for _, ev := range s.events {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()
	SortNewestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// SortNewestFirst orders events by timestamp descending. Ties keep their
// relative order.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
