package ingress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/hitloop/service/messaging"
	"github.com/viant/hitloop/service/metrics"
	"github.com/viant/hitloop/service/store"
)

const idleDelay = 50 * time.Millisecond

// Consumer applies callbacks read from a queue. Messages are acknowledged
// when the decision was applied or can never apply (unknown id, conflict,
// invalid message); transient errors nack the message for redelivery.
type Consumer struct {
	queue   messaging.Queue[Callback]
	decider Decider
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mux     sync.Mutex
}

// Start consumes in background until Stop or ctx is done
func (c *Consumer) Start(ctx context.Context) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for ctx.Err() == nil {
			if !c.ConsumeOne(ctx) {
				select {
				case <-ctx.Done():
				case <-time.After(idleDelay):
				}
			}
		}
	}()
}

// Stop stops consuming and waits for the loop to exit
func (c *Consumer) Stop() {
	c.mux.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mux.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ConsumeOne processes at most one message; it returns false when none was available
func (c *Consumer) ConsumeOne(ctx context.Context) bool {
	msg, err := c.queue.Consume(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("failed to consume callback", "error", err)
		}
		return false
	}
	if msg == nil || msg.T() == nil {
		return false
	}
	callback := msg.T()
	if callback.ID == "" || callback.DecidedBy == "" {
		metrics.CallbacksTotal.WithLabelValues("queue", "invalid").Inc()
		c.logger.Warn("dropping invalid callback", "id", callback.ID)
		_ = msg.Ack()
		return true
	}
	_, err = c.decider.HandleCallback(ctx, callback.ID, callback.Approved, callback.DecidedBy, callback.Reason)
	metrics.CallbacksTotal.WithLabelValues("queue", resultLabel(err)).Inc()
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalidID):
		if err != nil {
			c.logger.Info("callback not applied", "id", callback.ID, "error", err)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("failed to ack callback", "id", callback.ID, "error", ackErr)
		}
	default:
		c.logger.Warn("callback failed, will retry", "id", callback.ID, "error", err)
		if nackErr := msg.Nack(err); nackErr != nil {
			c.logger.Warn("failed to nack callback", "id", callback.ID, "error", nackErr)
		}
	}
	return true
}

// NewConsumer creates a queue consumer
func NewConsumer(queue messaging.Queue[Callback], decider Decider, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{queue: queue, decider: decider, logger: logger}
}
