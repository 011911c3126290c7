package hitloop

import (
	"log/slog"

	"github.com/viant/hitloop/policy"
	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/service/event"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises Service; options override components built from Config
type Option func(s *Service)

// WithStore sets the approval store
func WithStore(store store.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithSender sets the notification channel sender
func WithSender(sender delivery.Sender) Option {
	return func(s *Service) {
		s.sender = sender
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEventService sets the lifecycle event service
func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.events = service
	}
}

// WithPolicy sets the policy consulted by Gate
func WithPolicy(evaluator policy.Evaluator) Option {
	return func(s *Service) {
		s.policy = evaluator
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter. The first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
