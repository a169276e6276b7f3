package audit

import (
	"context"
	"sync"
)

// Filter selects events; empty fields match anything.
type Filter struct {
	StudioID    string
	RecordingID string
	Type        EventType
}

func (f Filter) match(e Event) bool {
	return (f.StudioID == "" || e.StudioID == f.StudioID) &&
		(f.RecordingID == "" || e.RecordingID == f.RecordingID) &&
		(f.Type == "" || e.Type == f.Type)
}

// MemoryRepo keeps events in arrival order. Used by tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if e.StudioID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns every stored event.
func (r *MemoryRepo) Events() []Event {
	return r.Find(Filter{})
}

// Find returns the events matching f, oldest first.
func (r *MemoryRepo) Find(f Filter) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out
}
