package audit

import (
	"context"
	"sync"
)

// MemoryRecorder is a thread-safe in-memory audit trail, used as the
// default recorder and as the reference implementation for replay.
type MemoryRecorder struct {
	mux    sync.RWMutex
	events []*Event
}

var _ Recorder = (*MemoryRecorder)(nil)

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Emit(_ context.Context, event *Event) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the ordered events recorded for an instance; with an empty
// id it returns the whole trail.
func (r *MemoryRecorder) Events(instanceID string) []*Event {
	r.mux.RLock()
	defer r.mux.RUnlock()
	out := make([]*Event, 0, len(r.events))
	for _, event := range r.events {
		if instanceID != "" && event.InstanceID != instanceID {
			continue
		}
		out = append(out, event)
	}
	return out
}
