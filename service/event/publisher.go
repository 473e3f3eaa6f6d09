package event

import (
	"context"
	"time"

	"github.com/luxera/rungate/service/messaging"
)

// Publisher publishes and consumes typed events on one queue.
type Publisher[T any] struct {
	queue messaging.Queue[Event[T]]
}

// NewPublisher wraps a queue with the typed event envelope.
func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{queue: queue}
}

// Publish stamps and enqueues the event.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = time.Now()
	return p.queue.Publish(ctx, event)
}

// Consume retrieves and acknowledges the next event; it returns (nil, nil)
// when the backing queue is empty and non-blocking.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	msg, err := p.queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}
