package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docflow/flow/service/messaging"
)

// Config for the in-memory queue.
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	QueueBuffer int
}

// DefaultConfig returns a standard configuration for the memory queue.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		QueueBuffer: 100,
	}
}

// Queue implements an in-memory messaging.Queue backed by a buffered
// channel. Nacked messages are redelivered after RetryDelay until
// MaxRetries is exhausted, then parked on a dead-letter list.
type Queue[T any] struct {
	messages chan *message[T]
	config   Config
	dlqMu    sync.Mutex
	dlq      []*message[T]
}

// NewQueue creates a new in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		messages: make(chan *message[T], config.QueueBuffer),
		config:   config,
	}
}

func (q *Queue[T]) Publish(ctx context.Context, payload *T) error {
	if payload == nil {
		return fmt.Errorf("cannot publish nil payload")
	}
	msg := &message[T]{payload: *payload, queue: q}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of undelivered messages.
func (q *Queue[T]) Pending() int {
	return len(q.messages)
}

// DeadLetters returns payloads that exhausted their retries.
func (q *Queue[T]) DeadLetters() []*T {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	out := make([]*T, 0, len(q.dlq))
	for _, msg := range q.dlq {
		payload := msg.payload
		out = append(out, &payload)
	}
	return out
}

type message[T any] struct {
	payload    T
	queue      *Queue[T]
	mu         sync.Mutex
	retryCount int
	processed  bool
}

func (m *message[T]) T() *T {
	return &m.payload
}

func (m *message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	return nil
}

func (m *message[T]) Nack(_ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.retryCount++

	if m.retryCount > m.queue.config.MaxRetries {
		m.queue.dlqMu.Lock()
		m.queue.dlq = append(m.queue.dlq, m)
		m.queue.dlqMu.Unlock()
		return nil
	}
	retry := &message[T]{payload: m.payload, queue: m.queue, retryCount: m.retryCount}
	go func() {
		time.Sleep(m.queue.config.RetryDelay)
		m.queue.messages <- retry
	}()
	return nil
}
