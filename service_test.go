package hitloop_test

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/viant/afs/embed"
	"github.com/viant/hitloop"
	"github.com/viant/hitloop/internal/logging"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/policy"
	"github.com/viant/hitloop/runtime/orchestrator"
	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/service/messaging/memory"
	"github.com/viant/hitloop/service/ingress"
	"github.com/viant/hitloop/service/store"
	mstore "github.com/viant/hitloop/service/store/memory"
)

//go:embed testdata/*
var embedFS embed.FS

func newService(t *testing.T, options ...hitloop.Option) *hitloop.Service {
	t.Helper()
	t.Setenv("HITLOOP_TEST_BASE_URL", "http://localhost:8080")
	ctx := context.Background()
	config, err := hitloop.LoadConfig(ctx, "embed:///testdata/config.yaml", &embedFS)
	require.NoError(t, err)
	options = append([]hitloop.Option{hitloop.WithLogger(logging.Discard())}, options...)
	srv, err := hitloop.New(ctx, config, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// nextNotification reads the next notification published to the queue channel
func nextNotification(t *testing.T, srv *hitloop.Service) *delivery.Payload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := srv.Notifications().Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Ack())
	return msg.T()
}

func TestService_RequestApproval(t *testing.T) {
	type testCase struct {
		name           string
		approved       bool
		expectedStatus model.Status
	}
	for _, tc := range []testCase{
		{name: "approved", approved: true, expectedStatus: model.StatusApproved},
		{name: "rejected", approved: false, expectedStatus: model.StatusRejected},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := newService(t)
			ctx := context.Background()
			done := make(chan *model.Record, 1)
			go func() {
				record, err := srv.RequestApproval(ctx, &orchestrator.Request{ActionRef: "send_email", ThreadRef: "thread-1"})
				assert.NoError(t, err)
				done <- record
			}()
			payload := nextNotification(t, srv)
			assert.Equal(t, "send_email", payload.ActionRef)
			assert.Equal(t, "http://localhost:8080/callback/"+payload.ID, payload.CallbackURL)
			assert.Equal(t, 2*time.Second, payload.DeadlineAt.Sub(payload.CreatedAt))

			_, err := srv.SubmitDecision(ctx, payload.ID, tc.approved, "alice", "")
			require.NoError(t, err)
			select {
			case record := <-done:
				require.NotNil(t, record)
				assert.Equal(t, tc.expectedStatus, record.Status)
			case <-time.After(2 * time.Second):
				require.FailNow(t, "request not resolved")
			}
		})
	}
}

func TestService_Gate(t *testing.T) {
	srv := newService(t)
	ctx := context.Background()

	result, err := srv.Gate(ctx, &policy.Action{Name: "read_record", Risk: policy.RiskLow}, nil)
	require.NoError(t, err)
	assert.True(t, result.Allowed())
	assert.Nil(t, result.Record)

	stop := hitloop.AutoReject(ctx, srv, "not today", 5*time.Millisecond)
	defer stop()
	result, err = srv.Gate(ctx, &policy.Action{Name: "delete_record"}, &orchestrator.Request{ThreadRef: "t1"})
	require.NoError(t, err)
	assert.True(t, result.Verdict.NeedsApproval)
	require.NotNil(t, result.Record)
	assert.False(t, result.Allowed())
	assert.Equal(t, model.StatusRejected, result.Record.Status)
	assert.Equal(t, hitloop.AutoDecidedBy, result.Record.DecidedBy)
	assert.Equal(t, "delete_record", result.Record.ActionRef)
	assert.NotEmpty(t, result.Record.Metadata["policyReason"])

	denied := policy.WithPolicy(ctx, &policy.Policy{Mode: policy.ModeDeny})
	result, err = srv.Gate(denied, &policy.Action{Name: "read_record"}, nil)
	assert.True(t, errors.Is(err, hitloop.ErrDenied))
	assert.False(t, result.Allowed())
}

func TestService_HTTPCallback(t *testing.T) {
	srv := newService(t)
	server := httptest.NewServer(srv.Handler())
	defer server.Close()
	ctx := context.Background()

	done := make(chan *model.Record, 1)
	go func() {
		record, _ := srv.RequestApproval(ctx, &orchestrator.Request{ActionRef: "deploy"})
		done <- record
	}()
	payload := nextNotification(t, srv)

	body, _ := json.Marshal(&ingress.Callback{Approved: true, DecidedBy: "alice"})
	response, err := http.Post(server.URL+"/callback/"+payload.ID, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	response, err = http.Post(server.URL+"/callback/"+payload.ID, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	conflict := &ingress.ErrorResponse{}
	require.NoError(t, json.NewDecoder(response.Body).Decode(conflict))
	_ = response.Body.Close()
	assert.Equal(t, http.StatusConflict, response.StatusCode)
	require.NotNil(t, conflict.SameOutcome)
	assert.True(t, *conflict.SameOutcome)

	record := <-done
	require.NotNil(t, record)
	assert.Equal(t, model.StatusApproved, record.Status)
}

func TestService_QueueCallback(t *testing.T) {
	srv := newService(t)
	ctx := context.Background()
	callbacks := memory.NewQueue[ingress.Callback](memory.DefaultConfig())
	consumer := srv.CallbackConsumer(callbacks)
	consumer.Start(ctx)
	defer consumer.Stop()

	done := make(chan *model.Record, 1)
	go func() {
		record, _ := srv.RequestApproval(ctx, &orchestrator.Request{ActionRef: "deploy"})
		done <- record
	}()
	payload := nextNotification(t, srv)
	require.NoError(t, callbacks.Publish(ctx, &ingress.Callback{ID: payload.ID, Approved: true, DecidedBy: "bob"}))

	select {
	case record := <-done:
		require.NotNil(t, record)
		assert.Equal(t, "bob", record.DecidedBy)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "request not resolved")
	}
}

func TestService_StartRecovers(t *testing.T) {
	ctx := context.Background()
	shared := mstore.New()
	now := time.Now().UTC()
	require.NoError(t, shared.Save(ctx, model.NewRecord("stale", "deploy", "", now.Add(-time.Hour), time.Minute)))
	require.NoError(t, shared.Save(ctx, model.NewRecord("live", "deploy", "", now, time.Hour)))

	srv := newService(t, hitloop.WithStore(shared))
	report, err := srv.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, report.Expired)
	assert.Equal(t, []string{"live"}, report.Recovered)

	_, err = srv.SubmitDecision(ctx, "stale", true, "alice", "")
	assert.True(t, errors.Is(err, store.ErrConflict))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = srv.SubmitDecision(ctx, "live", true, "alice", "")
	}()
	record, err := srv.Await(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, record.Status)
}

func TestService_CustomSender(t *testing.T) {
	var sent []string
	sender := delivery.SenderFunc(func(ctx context.Context, payload *delivery.Payload) error {
		sent = append(sent, payload.ID)
		return nil
	})
	srv := newService(t, hitloop.WithSender(sender))
	assert.Nil(t, srv.Notifications())
	record, err := srv.RequestApproval(context.Background(), &orchestrator.Request{ActionRef: "deploy", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimedOut, record.Status)
	assert.Equal(t, []string{record.ID}, sent)
}
