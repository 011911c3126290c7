package hitloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/policy"
	"github.com/viant/hitloop/runtime/orchestrator"
	"github.com/viant/hitloop/service/breaker"
	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/service/delivery/queue"
	"github.com/viant/hitloop/service/delivery/webhook"
	"github.com/viant/hitloop/service/event"
	"github.com/viant/hitloop/service/health"
	"github.com/viant/hitloop/service/ingress"
	"github.com/viant/hitloop/service/messaging"
	mfs "github.com/viant/hitloop/service/messaging/fs"
	"github.com/viant/hitloop/service/messaging/memory"
	"github.com/viant/hitloop/service/retry"
	"github.com/viant/hitloop/service/store"
	fsstore "github.com/viant/hitloop/service/store/fs"
	mstore "github.com/viant/hitloop/service/store/memory"
	redisstore "github.com/viant/hitloop/service/store/redis"
	"github.com/viant/hitloop/service/store/sqlstore"
	"github.com/viant/hitloop/tracing"
)

// Version is reported in traces
const Version = "0.1.0"

// ErrDenied is returned by Gate when the policy blocks an action
var ErrDenied = errors.New("hitloop: action denied by policy")

// GateResult is the outcome of Gate
type GateResult struct {
	Verdict policy.Verdict
	Record  *model.Record // nil when no approval was requested
}

// Allowed reports whether the action may run
func (r *GateResult) Allowed() bool {
	if r == nil || r.Verdict.Denied {
		return false
	}
	if !r.Verdict.NeedsApproval {
		return true
	}
	return r.Record != nil && r.Record.Status == model.StatusApproved
}

// Service wires the approval orchestration components
type Service struct {
	config        *Config
	store         store.Store
	sender        delivery.Sender
	notifications messaging.Queue[delivery.Payload]
	breaker       *breaker.Breaker
	pipeline      *delivery.Pipeline
	orchestrator  *orchestrator.Orchestrator
	events        *event.Service
	policy        policy.Evaluator
	health        *health.Server
	logger        *slog.Logger
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}
	mux           sync.Mutex
}

// Start recovers pending requests from the store and starts the overdue sweep
func (s *Service) Start(ctx context.Context) (*orchestrator.RecoveryReport, error) {
	report, err := s.orchestrator.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if s.config.SweepInterval > 0 {
		s.startSweep(s.config.SweepInterval)
	}
	return report, nil
}

func (s *Service) startSweep(interval time.Duration) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.sweepCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if count, err := s.orchestrator.ExpireOverdue(ctx); err != nil {
					s.logger.Warn("overdue sweep failed", "error", err)
				} else if count > 0 {
					s.logger.Info("overdue sweep resolved records", "count", count)
				}
			}
		}
	}()
}

// RequestApproval blocks until the request is approved, rejected or timed out
func (s *Service) RequestApproval(ctx context.Context, request *orchestrator.Request) (*model.Record, error) {
	return s.orchestrator.RequestApproval(ctx, request)
}

// Gate consults the policy for action and requests approval when needed. A
// policy embedded in ctx takes precedence over the configured one.
func (s *Service) Gate(ctx context.Context, action *policy.Action, request *orchestrator.Request) (*GateResult, error) {
	var evaluator policy.Evaluator = s.policy
	if p := policy.FromContext(ctx); p != nil {
		evaluator = p
	}
	result := &GateResult{Verdict: policy.Verdict{Reason: "no policy"}}
	if evaluator != nil {
		result.Verdict = evaluator.Evaluate(action)
	}
	if result.Verdict.Denied {
		return result, fmt.Errorf("%w: %v", ErrDenied, result.Verdict.Reason)
	}
	if !result.Verdict.NeedsApproval {
		return result, nil
	}
	if request == nil {
		request = &orchestrator.Request{}
	}
	if request.ActionRef == "" {
		request.ActionRef = action.Name
	}
	metadata := map[string]string{}
	for k, v := range request.Metadata {
		metadata[k] = v
	}
	metadata["policyReason"] = result.Verdict.Reason
	if action.Risk != "" {
		metadata["risk"] = string(action.Risk)
	}
	request.Metadata = metadata
	record, err := s.orchestrator.RequestApproval(ctx, request)
	if err != nil {
		return result, err
	}
	result.Record = record
	return result, nil
}

// SubmitDecision applies a human decision
func (s *Service) SubmitDecision(ctx context.Context, id string, approved bool, decidedBy, reason string) (*model.Record, error) {
	return s.orchestrator.HandleCallback(ctx, id, approved, decidedBy, reason)
}

// Await waits for a request tracked by this process, e.g. one recovered on Start
func (s *Service) Await(ctx context.Context, id string) (*model.Record, error) {
	return s.orchestrator.Await(ctx, id)
}

// Cancel stops waiting for id; the record stays pending
func (s *Service) Cancel(id string) bool {
	return s.orchestrator.Cancel(id)
}

// Redeliver sends the notification for a pending request again
func (s *Service) Redeliver(ctx context.Context, id string) error {
	outcome, err := s.orchestrator.Redeliver(ctx, id)
	if err != nil {
		return err
	}
	return outcome.Err
}

// Get returns a record
func (s *Service) Get(ctx context.Context, id string) (*model.Record, error) {
	return s.orchestrator.Get(ctx, id)
}

// ListPending returns pending records, optionally for one thread
func (s *Service) ListPending(ctx context.Context, threadRef string) ([]*model.Record, error) {
	return s.orchestrator.ListPending(ctx, threadRef)
}

// Handler returns HTTP ingress handler
func (s *Service) Handler() http.Handler {
	return ingress.NewHandler(s.orchestrator,
		ingress.WithSecret(s.config.Channel.Secret),
		ingress.WithHealth(s.health.Err),
		ingress.WithLogger(s.logger))
}

// CallbackConsumer returns a consumer applying callbacks read from q
func (s *Service) CallbackConsumer(q messaging.Queue[ingress.Callback]) *ingress.Consumer {
	return ingress.NewConsumer(q, s.orchestrator, s.logger)
}

// Notifications returns the notification queue used by the queue channel, or nil
func (s *Service) Notifications() messaging.Queue[delivery.Payload] {
	return s.notifications
}

// Orchestrator returns the orchestrator
func (s *Service) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}

// Store returns the approval store
func (s *Service) Store() store.Store {
	return s.store
}

// Breaker returns the channel circuit breaker
func (s *Service) Breaker() *breaker.Breaker {
	return s.breaker
}

// Health returns the gRPC health server
func (s *Service) Health() *health.Server {
	return s.health
}

// Events returns the lifecycle event service, or nil when disabled
func (s *Service) Events() *event.Service {
	return s.events
}

// Shutdown stops background work and releases resources; pending records
// stay in the store for recovery
func (s *Service) Shutdown(ctx context.Context) error {
	s.mux.Lock()
	cancel, done := s.sweepCancel, s.sweepDone
	s.sweepCancel = nil
	s.mux.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.orchestrator.Close()
	s.health.Stop()
	if s.events != nil {
		s.events.Close()
	}
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) init(ctx context.Context) error {
	var err error
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.config.Tracing.Enabled {
		if err = tracing.Init(s.config.Tracing.ServiceName, Version, s.config.Tracing.OutputFile); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	if s.store == nil {
		if s.store, err = NewStore(ctx, &s.config.Store, s.logger); err != nil {
			return err
		}
	}
	if s.sender == nil {
		if s.sender, err = s.newSender(); err != nil {
			return err
		}
	}
	if s.events == nil && s.config.Events.Vendor != "" {
		if s.events, err = s.newEvents(); err != nil {
			return err
		}
	}
	if s.policy == nil && s.config.Policy != nil {
		s.policy = policy.FromConfig(s.config.Policy)
	}
	s.health = health.New(s.logger)
	if s.breaker, err = breaker.New(s.config.Breaker, breaker.WithListener(s.health.OnBreakerChange)); err != nil {
		return err
	}
	executor, err := retry.New(s.config.Retry)
	if err != nil {
		return err
	}
	s.pipeline = delivery.New(s.sender, s.breaker, executor, delivery.WithLogger(s.logger))
	s.orchestrator = orchestrator.New(s.store, s.pipeline,
		orchestrator.WithLogger(s.logger),
		orchestrator.WithEvents(s.events),
		orchestrator.WithDefaultTimeout(s.config.DefaultTimeout),
		orchestrator.WithCallbackBaseURL(s.config.Channel.CallbackBaseURL))
	return nil
}

func (s *Service) newSender() (delivery.Sender, error) {
	channel := s.config.Channel
	switch channel.Kind {
	case ChannelWebhook:
		return webhook.New(webhook.Config{URL: channel.URL, Headers: channel.Headers, Secret: channel.Secret, Timeout: channel.Timeout}, nil)
	case ChannelQueue:
		if channel.URL == "" {
			s.notifications = memory.NewQueue[delivery.Payload](memory.DefaultConfig())
		} else {
			fsConfig := mfs.DefaultConfig()
			fsConfig.BasePath = channel.URL
			q, err := mfs.NewQueue[delivery.Payload](afs.New(), fsConfig)
			if err != nil {
				return nil, fmt.Errorf("failed to create notification queue: %w", err)
			}
			s.notifications = q
		}
		return queue.New(s.notifications), nil
	}
	return nil, fmt.Errorf("unsupported channel kind: %q", channel.Kind)
}

func (s *Service) newEvents() (*event.Service, error) {
	events := s.config.Events
	switch messaging.Vendor(events.Vendor) {
	case messaging.VendorFS:
		return event.New(messaging.VendorFS, event.WithLogger(s.logger), event.WithFsQueueConfig(func(name string) mfs.Config {
			config := mfs.DefaultConfig()
			config.BasePath = events.BasePath + "/" + name
			return config
		}))
	default:
		return event.New(messaging.VendorMemory, event.WithLogger(s.logger))
	}
}

// NewStore creates a store for config
func NewStore(ctx context.Context, config *StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch config.Kind {
	case StoreMemory, "":
		return mstore.New(), nil
	case StoreFS:
		return fsstore.New(ctx, config.URL, fsstore.WithLogger(logger))
	case StoreSQL:
		return sqlstore.Open(ctx, &sqlstore.Config{Driver: config.Driver, DSN: config.DSN, MaxConns: config.MaxConns})
	case StoreRedis:
		return redisstore.Open(ctx, &redisstore.Config{URL: config.URL, Password: config.Password, Prefix: config.Prefix})
	}
	return nil, fmt.Errorf("unsupported store kind: %q", config.Kind)
}

// New creates a service from config; a nil config uses DefaultConfig
func New(ctx context.Context, config *Config, options ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.Init()
	ret := &Service{config: config}
	for _, option := range options {
		option(ret)
	}
	if err := config.Validate(); err != nil && !(ret.sender != nil && isChannelOnly(config)) {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ret.init(ctx); err != nil {
		return nil, err
	}
	return ret, nil
}

// isChannelOnly reports whether config is valid once channel settings are ignored
func isChannelOnly(config *Config) bool {
	clone := *config
	clone.Channel.Kind = ChannelQueue
	return clone.Validate() == nil
}
