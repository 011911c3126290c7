package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitloop/internal/logging"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/messaging/memory"
)

func TestConsumer_ConsumeOne(t *testing.T) {
	type testCase struct {
		name           string
		callback       Callback
		failing        bool
		expectedStatus model.Status
		expectedSize   int
		expectedDead   int
	}
	for _, tc := range []testCase{
		{name: "applies decision", callback: Callback{ID: "r1", Approved: true, DecidedBy: "alice"}, expectedStatus: model.StatusApproved},
		{name: "unknown id acked", callback: Callback{ID: "missing", Approved: true, DecidedBy: "alice"}, expectedStatus: model.StatusPending},
		{name: "invalid acked", callback: Callback{ID: "r1"}, expectedStatus: model.StatusPending},
		{name: "transient error nacked", callback: Callback{ID: "r1", Approved: true, DecidedBy: "alice"}, failing: true, expectedStatus: model.StatusPending, expectedDead: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			decider := newDecider("r1")
			decider.err = nil
			if tc.failing {
				decider.err = errUnavailable
			}
			queue := memory.NewQueue[Callback](memory.Config{MaxRetries: 0, RetryDelay: time.Millisecond, DeadLetter: true})
			consumer := NewConsumer(queue, decider, logging.Discard())
			callback := tc.callback
			require.NoError(t, queue.Publish(ctx, &callback))

			assert.True(t, consumer.ConsumeOne(ctx))
			record, err := decider.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, tc.expectedStatus, record.Status)
			assert.Equal(t, tc.expectedSize, queue.Size())
			assert.Len(t, queue.DeadLetters(), tc.expectedDead)
		})
	}
}

func TestConsumer_StartStop(t *testing.T) {
	decider := newDecider("r1", "r2")
	queue := memory.NewQueue[Callback](memory.DefaultConfig())
	consumer := NewConsumer(queue, decider, logging.Discard())
	consumer.Start(context.Background())
	defer consumer.Stop()

	require.NoError(t, queue.Publish(context.Background(), &Callback{ID: "r1", Approved: true, DecidedBy: "alice"}))
	require.NoError(t, queue.Publish(context.Background(), &Callback{ID: "r2", Approved: false, DecidedBy: "bob"}))
	require.Eventually(t, func() bool {
		pending, err := decider.ListPending(context.Background(), "")
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)
	consumer.Stop()
	consumer.Stop()
}
