package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/service/messaging"
	"github.com/viant/hitloop/service/messaging/fs"
	"github.com/viant/hitloop/service/messaging/memory"
)

func TestSender_Send(t *testing.T) {
	fsQueue, err := fs.NewQueue[delivery.Payload](afs.New(), fs.Config{BasePath: t.TempDir(), MaxRetries: 1, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	type testCase struct {
		name  string
		queue messaging.Queue[delivery.Payload]
	}
	for _, tc := range []testCase{
		{name: "memory", queue: memory.NewQueue[delivery.Payload](memory.DefaultConfig())},
		{name: "fs", queue: fsQueue},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			sender := New(tc.queue)
			payload := &delivery.Payload{ID: "r1", ActionRef: "deploy", CallbackURL: "http://localhost/callback/r1"}
			require.NoError(t, sender.Send(ctx, payload))

			msg, err := tc.queue.Consume(ctx)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, "r1", msg.T().ID)
			assert.Equal(t, "deploy", msg.T().ActionRef)
			assert.Equal(t, payload.CallbackURL, msg.T().CallbackURL)
			require.NoError(t, msg.Ack())
		})
	}
}

func TestSender_SendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := New(memory.NewQueue[delivery.Payload](memory.DefaultConfig()))
	err := sender.Send(ctx, &delivery.Payload{ID: "r1"})
	assert.ErrorIs(t, err, context.Canceled)
}
