package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/messaging/memory"
)

func TestMemoryRecorder(t *testing.T) {
	ctx := context.Background()
	recorder := NewMemoryRecorder()

	require.NoError(t, recorder.Emit(ctx, &Event{ID: "e-1", TransitionEvent: instance.TransitionEvent{InstanceID: "i-1", FromNode: "start", ToNode: "assign"}}))
	require.NoError(t, recorder.Emit(ctx, &Event{ID: "e-2", TransitionEvent: instance.TransitionEvent{InstanceID: "i-2", FromNode: "start", ToNode: "route"}}))
	require.NoError(t, recorder.Emit(ctx, &Event{ID: "e-3", TransitionEvent: instance.TransitionEvent{InstanceID: "i-1", FromNode: "assign", ToNode: "route"}}))

	trail := recorder.Events("i-1")
	require.Len(t, trail, 2)
	assert.Equal(t, "e-1", trail[0].ID)
	assert.Equal(t, "e-3", trail[1].ID)
	assert.Len(t, recorder.Events(""), 3)
}

func TestQueueRecorder(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue[Event](memory.DefaultConfig())
	recorder := NewQueueRecorder(queue)

	var mux sync.Mutex
	var received []*Event
	listener := NewListener(queue, func(event *Event) {
		mux.Lock()
		received = append(received, event)
		mux.Unlock()
	})
	listener.Start(ctx)
	defer listener.Stop()

	require.NoError(t, recorder.Emit(ctx, &Event{ID: "e-1", TransitionEvent: instance.TransitionEvent{InstanceID: "i-1"}}))
	require.NoError(t, recorder.Emit(ctx, &Event{ID: "e-2", TransitionEvent: instance.TransitionEvent{InstanceID: "i-1"}}))

	assert.Eventually(t, func() bool {
		mux.Lock()
		defer mux.Unlock()
		return len(received) == 2
	}, time.Second, 5*time.Millisecond)
}
