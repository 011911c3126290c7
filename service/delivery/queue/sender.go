// Package queue delivers approval notifications by publishing them to a
// message queue consumed by the notification channel.
package queue

import (
	"context"
	"fmt"

	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/service/messaging"
)

// Sender publishes payloads to a queue
type Sender struct {
	queue messaging.Queue[delivery.Payload]
}

// Send publishes payload; a publish error counts as a failed attempt
func (s *Sender) Send(ctx context.Context, payload *delivery.Payload) error {
	if err := s.queue.Publish(ctx, payload); err != nil {
		return fmt.Errorf("failed to publish notification %v: %w", payload.ID, err)
	}
	return nil
}

// New creates a queue sender
func New(queue messaging.Queue[delivery.Payload]) *Sender {
	return &Sender{queue: queue}
}

var _ delivery.Sender = (*Sender)(nil)
