package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs/url"
	"github.com/viant/hitloop/internal/logging"
	"github.com/viant/hitloop/service/messaging"
	"github.com/viant/hitloop/service/messaging/fs"
)

func TestService_PublishListen(t *testing.T) {
	type testCase struct {
		name    string
		vendor  messaging.Vendor
		options func(t *testing.T) []Option
	}
	for _, tc := range []testCase{
		{name: "memory", vendor: messaging.VendorMemory, options: func(t *testing.T) []Option { return nil }},
		{name: "fs", vendor: messaging.VendorFS, options: func(t *testing.T) []Option {
			dir := t.TempDir()
			return []Option{WithFsQueueConfig(func(name string) fs.Config {
				return fs.Config{BasePath: url.Join(dir, name), MaxRetries: 1}
			})}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			options := append(tc.options(t), WithLogger(logging.Discard()))
			service, err := New(tc.vendor, options...)
			require.NoError(t, err)
			defer service.Close()

			var mu sync.Mutex
			var topics []string
			service.SetListener(context.Background(), func(event *Event[Approval]) {
				mu.Lock()
				defer mu.Unlock()
				topics = append(topics, event.Context.Topic+":"+event.Data.Status)
			})

			ctx := context.Background()
			service.Publish(ctx, TopicRequestCreated, &Context{RecordID: "r1"}, Approval{Status: "pending"})
			service.Publish(ctx, TopicRequestResolved, &Context{RecordID: "r1"}, Approval{Status: "approved"})

			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(topics) == 2
			}, 2*time.Second, 10*time.Millisecond)
			mu.Lock()
			assert.ElementsMatch(t, []string{"request.created:pending", "request.resolved:approved"}, topics)
			mu.Unlock()
		})
	}
}

func TestNew_UnsupportedVendor(t *testing.T) {
	_, err := New("kafka")
	assert.Error(t, err)
	_, err = New(messaging.VendorFS)
	assert.Error(t, err)
}

func TestService_NilPublish(t *testing.T) {
	var service *Service
	service.Publish(context.Background(), TopicRequestCreated, &Context{RecordID: "r1"}, Approval{})
}
