package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID string
}

func TestPublishConsume(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[payload](DefaultConfig())

	require.NoError(t, queue.Publish(ctx, &payload{ID: "a"}))
	require.NoError(t, queue.Publish(ctx, &payload{ID: "b"}))
	assert.Equal(t, 2, queue.Pending())

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", msg.T().ID)
	require.NoError(t, msg.Ack())
	assert.Error(t, msg.Ack())
}

func TestPublishNil(t *testing.T) {
	queue := NewQueue[payload](DefaultConfig())
	assert.Error(t, queue.Publish(context.Background(), nil))
}

func TestConsumeCancelled(t *testing.T) {
	queue := NewQueue[payload](DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := queue.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNackRedelivery(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[payload](Config{MaxRetries: 1, RetryDelay: time.Millisecond, QueueBuffer: 10})

	require.NoError(t, queue.Publish(ctx, &payload{ID: "a"}))

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Nack(fmt.Errorf("transient")))

	redelivered, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", redelivered.T().ID)

	// Retries are exhausted; the payload lands on the dead-letter list.
	require.NoError(t, redelivered.Nack(fmt.Errorf("still broken")))
	assert.Eventually(t, func() bool {
		return len(queue.DeadLetters()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, queue.Pending())
}
