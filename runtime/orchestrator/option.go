package orchestrator

import (
	"log/slog"
	"time"

	"github.com/viant/hitloop/runtime/correlation"
	"github.com/viant/hitloop/runtime/timeout"
	"github.com/viant/hitloop/service/event"
)

// Option customises Orchestrator
type Option func(o *Orchestrator)

// WithLogger sets logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithEvents sets lifecycle event service
func WithEvents(events *event.Service) Option {
	return func(o *Orchestrator) { o.events = events }
}

// WithDefaultTimeout sets deadline used when a request does not specify one
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithCallbackBaseURL sets base URL used to build per request callback URLs
func WithCallbackBaseURL(baseURL string) Option {
	return func(o *Orchestrator) { o.callbackBaseURL = baseURL }
}

// WithTable sets correlation table
func WithTable(table *correlation.Table) Option {
	return func(o *Orchestrator) { o.table = table }
}

// WithSupervisor sets timeout supervisor
func WithSupervisor(supervisor *timeout.Supervisor) Option {
	return func(o *Orchestrator) { o.timeouts = supervisor }
}

// WithRetryExpiry sets delay before retrying a timeout resolution that failed on a store error
func WithRetryExpiry(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retryExpiry = d
		}
	}
}
