// Package audit defines the audit recorder collaborator: every engine
// transition is emitted as exactly one immutable event. The engine is
// agnostic to how or where events are stored.
package audit

import (
	"context"

	"github.com/docflow/flow/runtime/instance"
)

// Event is one audit trail entry, a thin envelope over the transition it
// records.
type Event struct {
	ID string `json:"id"`
	instance.TransitionEvent
}

// Recorder receives one event per committed transition. Emit must be
// atomic from the caller's point of view: either the event is accepted or
// an error is returned and the engine rolls the transition back.
type Recorder interface {
	Emit(ctx context.Context, event *Event) error
}
