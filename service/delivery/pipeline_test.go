package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitloop/internal/logging"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/breaker"
	"github.com/viant/hitloop/service/retry"
)

type countingSender struct {
	calls    int32
	failures int32
}

func (s *countingSender) Send(ctx context.Context, payload *Payload) error {
	call := atomic.AddInt32(&s.calls, 1)
	if call <= s.failures {
		return errors.New("channel down")
	}
	return nil
}

func newPipeline(t *testing.T, sender Sender, threshold, maxRetries int) *Pipeline {
	b, err := breaker.New(breaker.Config{FailureThreshold: threshold, RecoveryTimeout: time.Hour})
	require.NoError(t, err)
	r, err := retry.New(retry.Config{MaxRetries: maxRetries, InitialDelay: time.Millisecond, ExponentialBase: 2})
	require.NoError(t, err)
	return New(sender, b, r, WithLogger(logging.Discard()))
}

func TestPipeline_Deliver(t *testing.T) {
	type testCase struct {
		name             string
		failures         int32
		expectedAttempts int
		expectedErr      error
		expectedFailures int
	}
	for _, tc := range []testCase{
		{name: "delivered first time", failures: 0, expectedAttempts: 1},
		{name: "delivered after retries", failures: 2, expectedAttempts: 3},
		{name: "retries exhausted", failures: 100, expectedAttempts: 4, expectedErr: ErrDeliveryFailed, expectedFailures: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sender := &countingSender{failures: tc.failures}
			pipeline := newPipeline(t, sender, 5, 3)
			outcome := pipeline.Deliver(context.Background(), &Payload{ID: "r1"})
			assert.Equal(t, tc.expectedAttempts, outcome.Attempts)
			assert.EqualValues(t, tc.expectedAttempts, atomic.LoadInt32(&sender.calls))
			if tc.expectedErr != nil {
				assert.True(t, errors.Is(outcome.Err, tc.expectedErr))
			} else {
				assert.True(t, outcome.OK())
			}
			assert.Equal(t, tc.expectedFailures, pipeline.Breaker().Snapshot().Failures)
		})
	}
}

func TestPipeline_BreakerOpen(t *testing.T) {
	sender := &countingSender{failures: 1000}
	pipeline := newPipeline(t, sender, 2, 1)
	for i := 0; i < 2; i++ {
		outcome := pipeline.Deliver(context.Background(), &Payload{ID: "r1"})
		require.True(t, errors.Is(outcome.Err, ErrDeliveryFailed))
	}
	require.Equal(t, breaker.Open, pipeline.Breaker().State())
	calls := atomic.LoadInt32(&sender.calls)

	started := time.Now()
	outcome := pipeline.Deliver(context.Background(), &Payload{ID: "r2"})
	assert.True(t, errors.Is(outcome.Err, ErrChannelUnavailable))
	assert.True(t, errors.Is(outcome.Err, breaker.ErrOpen))
	assert.Equal(t, 0, outcome.Attempts)
	assert.Equal(t, calls, atomic.LoadInt32(&sender.calls))
	assert.Less(t, time.Since(started), 50*time.Millisecond)
}

func TestPipeline_Cancelled(t *testing.T) {
	b, err := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	require.NoError(t, err)
	r, err := retry.New(retry.Config{MaxRetries: 3, InitialDelay: time.Hour, ExponentialBase: 2})
	require.NoError(t, err)
	pipeline := New(SenderFunc(func(ctx context.Context, payload *Payload) error { return errors.New("down") }), b, r, WithLogger(logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	outcome := pipeline.Deliver(ctx, &Payload{ID: "r1"})
	assert.True(t, errors.Is(outcome.Err, context.DeadlineExceeded))
	assert.Equal(t, breaker.Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)
}

func TestNewPayload(t *testing.T) {
	now := time.Now().UTC()
	record := model.NewRecord("abc", "deploy", "t1", now, time.Minute)
	record.Metadata = map[string]string{"tool": "shell"}
	payload := NewPayload(record, "https://example.com/callback/")
	assert.Equal(t, "https://example.com/callback/abc", payload.CallbackURL)
	assert.Equal(t, "deploy", payload.ActionRef)
	assert.Equal(t, record.DeadlineAt, payload.DeadlineAt)
	assert.Equal(t, "shell", payload.Metadata["tool"])
	assert.Empty(t, NewPayload(record, "").CallbackURL)
}

func TestPipeline_CancelledKeepsForeignTrial(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	b, err := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute}, breaker.WithClock(clock))
	require.NoError(t, err)
	r, err := retry.New(retry.Config{MaxRetries: 0, InitialDelay: time.Millisecond, ExponentialBase: 2})
	require.NoError(t, err)
	started := make(chan struct{})
	pipeline := New(SenderFunc(func(ctx context.Context, payload *Payload) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), b, r, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- pipeline.Deliver(ctx, &Payload{ID: "r1"}) }()
	<-started

	b.Failure()
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	trial, err := b.Admit()
	require.NoError(t, err)
	require.True(t, trial)

	cancel()
	outcome := <-done
	assert.True(t, errors.Is(outcome.Err, context.Canceled))
	assert.Equal(t, breaker.HalfOpen, b.State())
	assert.True(t, errors.Is(b.Allow(), breaker.ErrOpen))
}
