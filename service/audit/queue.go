package audit

import (
	"context"
	"log"

	"github.com/docflow/flow/service/messaging"
)

// QueueRecorder publishes audit events to a message queue so that external
// consumers (reporting, compliance archives) receive the trail without
// coupling to the engine.
type QueueRecorder struct {
	queue messaging.Queue[Event]
}

var _ Recorder = (*QueueRecorder)(nil)

func NewQueueRecorder(queue messaging.Queue[Event]) *QueueRecorder {
	return &QueueRecorder{queue: queue}
}

func (r *QueueRecorder) Emit(ctx context.Context, event *Event) error {
	return r.queue.Publish(ctx, event)
}

// Listener drains a recorder queue into a handler on a background
// goroutine until the context is cancelled.
type Listener struct {
	queue   messaging.Queue[Event]
	handler func(*Event)
	cancel  context.CancelFunc
}

func NewListener(queue messaging.Queue[Event], handler func(*Event)) *Listener {
	return &Listener{queue: queue, handler: handler}
}

func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go func() {
		for {
			msg, err := l.queue.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("error consuming audit event: %v", err)
				continue
			}
			if err := msg.Ack(); err != nil {
				log.Printf("error acking audit event: %v", err)
			}
			l.handler(msg.T())
		}
	}()
}

func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}
