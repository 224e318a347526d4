package notify

import (
	"context"
	"log"
	"sync"

	"github.com/docflow/flow/service/messaging"
)

// MemoryNotifier records messages for inspection; used in tests and as a
// default when no real channel is wired.
type MemoryNotifier struct {
	mux      sync.RWMutex
	messages []*Message
}

var _ Notifier = (*MemoryNotifier)(nil)

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Notify(_ context.Context, message *Message) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

// Messages returns all recorded notifications.
func (n *MemoryNotifier) Messages() []*Message {
	n.mux.RLock()
	defer n.mux.RUnlock()
	return append([]*Message(nil), n.messages...)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, message *Message) error {
	log.Printf("notify %s via %s: %s", message.Recipient, message.Channel, message.Template)
	return nil
}

// QueueNotifier hands messages to a queue consumed by an external delivery
// service.
type QueueNotifier struct {
	queue messaging.Queue[Message]
}

var _ Notifier = (*QueueNotifier)(nil)

func NewQueueNotifier(queue messaging.Queue[Message]) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) Notify(ctx context.Context, message *Message) error {
	return n.queue.Publish(ctx, message)
}
