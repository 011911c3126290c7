package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/hitloop/service/messaging"
	"github.com/viant/hitloop/service/messaging/fs"
	"github.com/viant/hitloop/service/messaging/memory"
)

const publishTimeout = time.Second

// Service publishes approval lifecycle events and dispatches them to an
// optional listener
type Service struct {
	publisher         *Publisher[Approval]
	listener          *Listener[Approval]
	queueVendor       messaging.Vendor
	fs                afs.Service
	logger            *slog.Logger
	fsNewQueueConfig  func(name string) fs.Config
	memNewQueueConfig func(name string) memory.Config
	mux               sync.Mutex
}

// Publish publishes an approval event; failures are logged, never returned,
// so telemetry cannot affect orchestration
func (s *Service) Publish(ctx context.Context, topic string, eventContext *Context, data Approval) {
	if s == nil || !s.accepting() {
		return
	}
	ec := *eventContext
	ec.Topic = topic
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, NewEvent(&ec, data)); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "id", ec.RecordID, "error", err)
	}
}

// accepting reports whether published events can reach a consumer; in memory
// events are dropped while no listener is attached
func (s *Service) accepting() bool {
	if s.queueVendor != messaging.VendorMemory {
		return true
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.listener != nil
}

// Publisher returns underlying publisher
func (s *Service) Publisher() *Publisher[Approval] {
	return s.publisher
}

// SetListener replaces the event listener
func (s *Service) SetListener(ctx context.Context, handler func(*Event[Approval])) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
	}
	s.listener = NewListener(s.publisher, handler, s.logger)
	s.listener.Start(ctx)
}

// Close stops the listener
func (s *Service) Close() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
}

// New creates an event service backed by queueVendor
func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{queueVendor: queueVendor, logger: slog.Default()}
	for _, opt := range opts {
		opt(ret)
	}
	switch queueVendor {
	case messaging.VendorFS:
		if ret.fsNewQueueConfig == nil {
			return nil, fmt.Errorf("fs queue vendor requires fs queue config")
		}
	case messaging.VendorMemory:
		if ret.memNewQueueConfig == nil {
			ret.memNewQueueConfig = func(string) memory.Config { return memory.DefaultConfig() }
		}
	default:
		return nil, fmt.Errorf("unsupported queue vendor: %s", queueVendor)
	}
	queue, err := QueueOf[Event[Approval]](ret, "approval")
	if err != nil {
		return nil, err
	}
	ret.publisher = NewPublisher[Approval](queue)
	return ret, nil
}

// QueueOf creates a named queue with the service vendor
func QueueOf[T any](s *Service, name string) (messaging.Queue[T], error) {
	switch s.queueVendor {
	case messaging.VendorFS:
		fsService := s.fs
		if fsService == nil {
			fsService = afs.New()
		}
		return fs.NewQueue[T](fsService, s.fsNewQueueConfig(name))
	case messaging.VendorMemory:
		return memory.NewQueue[T](s.memNewQueueConfig(name)), nil
	}
	return nil, fmt.Errorf("unsupported queue vendor: %s", s.queueVendor)
}
