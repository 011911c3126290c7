package event

import (
	"time"

	"github.com/viant/hitloop/internal/clock"
)

// Topics emitted by the orchestrator
const (
	TopicRequestCreated    = "request.created"
	TopicDeliveryAttempted = "delivery.attempted"
	TopicRequestResolved   = "request.resolved"
	TopicRequestTimedOut   = "request.timedOut"
	TopicRequestCancelled  = "request.cancelled"
	TopicRequestRecovered  = "request.recovered"
)

// Context describes the event origin
type Context struct {
	Topic     string `json:"topic"`
	RecordID  string `json:"recordId"`
	ActionRef string `json:"actionRef,omitempty"`
	ThreadRef string `json:"threadRef,omitempty"`
}

// Event represents a typed telemetry event
type Event[T any] struct {
	Context   *Context          `json:"context"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Data      T                 `json:"data"`
}

// NewEvent creates an event
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Data:      data,
	}
}

// Approval represents approval lifecycle details carried by events
type Approval struct {
	Status    string `json:"status,omitempty"`
	DecidedBy string `json:"decidedBy,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}
