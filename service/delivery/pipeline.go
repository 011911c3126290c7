// Package delivery sends approval notifications to an external channel
// through a circuit breaker and a retry executor.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viant/hitloop/service/breaker"
	"github.com/viant/hitloop/service/metrics"
	"github.com/viant/hitloop/service/retry"
	"github.com/viant/hitloop/tracing"
)

var (
	// ErrChannelUnavailable is returned when the breaker rejects a delivery without an attempt
	ErrChannelUnavailable = errors.New("delivery: channel unavailable")

	// ErrDeliveryFailed is returned when every attempt failed
	ErrDeliveryFailed = errors.New("delivery: failed")
)

// Outcome represents the result of one logical delivery
type Outcome struct {
	Attempts int
	Err      error
}

// OK returns true when delivery succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Pipeline performs logical deliveries. The breaker receives exactly one
// signal per logical delivery, never one per attempt.
type Pipeline struct {
	sender  Sender
	breaker *breaker.Breaker
	retry   *retry.Executor
	logger  *slog.Logger
}

// Deliver sends payload, retrying per the executor settings
func (p *Pipeline) Deliver(ctx context.Context, payload *Payload) Outcome {
	ctx, span := tracing.StartSpan(ctx, "delivery.deliver", "PRODUCER")
	span.WithAttributes(map[string]string{"id": payload.ID, "actionRef": payload.ActionRef})
	started := time.Now()

	outcome := p.deliver(ctx, payload)

	span.WithInt("attempts", outcome.Attempts)
	tracing.EndSpan(span, outcome.Err)
	metrics.DeliveryLatency.Observe(time.Since(started).Seconds())
	if outcome.Attempts > 0 {
		metrics.DeliveryAttempts.Observe(float64(outcome.Attempts))
	}
	metrics.DeliveriesTotal.WithLabelValues(resultLabel(outcome.Err)).Inc()
	return outcome
}

func (p *Pipeline) deliver(ctx context.Context, payload *Payload) Outcome {
	trial, err := p.breaker.Admit()
	if err != nil {
		p.logger.Warn("delivery skipped, channel unavailable", "id", payload.ID)
		return Outcome{Err: fmt.Errorf("%w: %w", ErrChannelUnavailable, err)}
	}
	attempts, err := p.retry.Do(ctx, func(ctx context.Context) error {
		sendErr := p.sender.Send(ctx, payload)
		if sendErr != nil {
			p.logger.Debug("delivery attempt failed", "id", payload.ID, "error", sendErr)
		}
		return sendErr
	})
	if err == nil {
		p.breaker.Success()
		return Outcome{Attempts: attempts}
	}
	if ctx.Err() != nil {
		if trial {
			p.breaker.Release()
		}
		return Outcome{Attempts: attempts, Err: err}
	}
	p.breaker.Failure()
	p.logger.Warn("delivery failed", "id", payload.ID, "attempts", attempts, "error", err)
	return Outcome{Attempts: attempts, Err: fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempts, err)}
}

// Breaker returns the pipeline breaker
func (p *Pipeline) Breaker() *breaker.Breaker {
	return p.breaker
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case errors.Is(err, ErrChannelUnavailable):
		return "unavailable"
	case errors.Is(err, ErrDeliveryFailed):
		return "failed"
	}
	return "cancelled"
}

// Option customises Pipeline
type Option func(p *Pipeline)

// WithLogger sets logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline
func New(sender Sender, b *breaker.Breaker, r *retry.Executor, options ...Option) *Pipeline {
	ret := &Pipeline{sender: sender, breaker: b, retry: r, logger: slog.Default()}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}
