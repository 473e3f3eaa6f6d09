package fs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

type notification struct {
	RunID string `json:"runID"`
	Kind  string `json:"kind"`
}

func newTestQueue(t *testing.T) *Queue[notification] {
	t.Helper()
	config := Config{
		BasePath:   t.TempDir(),
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}
	queue, err := NewQueue[notification](afs.New(), config)
	require.NoError(t, err)
	return queue
}

func TestFsQueuePublishConsumeAck(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &notification{RunID: "r1", Kind: "decision.recorded"}))

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "r1", msg.T().RunID)
	require.NoError(t, msg.Ack())

	// queue drained
	next, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFsQueueEmpty(t *testing.T) {
	queue := newTestQueue(t)
	msg, err := queue.Consume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestFsQueueNackRetriesThenDeadLetters(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &notification{RunID: "r1"}))

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, msg.Nack(assert.AnError))

	// retry comes back from the failed directory
	msg, err = queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, msg.Nack(assert.AnError))

	// retries exhausted: message is dead-lettered, nothing to consume
	msg, err = queue.Consume(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
}
