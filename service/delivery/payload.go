package delivery

import (
	"context"
	"time"

	"github.com/viant/hitloop/model"
)

// Payload represents a notification sent to the channel
type Payload struct {
	ID          string            `json:"callbackId"`
	CallbackURL string            `json:"callbackUrl,omitempty"`
	ActionRef   string            `json:"actionRef"`
	ThreadRef   string            `json:"threadRef,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	DeadlineAt  time.Time         `json:"deadlineAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewPayload creates a payload for record; callbackBaseURL may be empty
func NewPayload(record *model.Record, callbackBaseURL string) *Payload {
	ret := &Payload{
		ID:         record.ID,
		ActionRef:  record.ActionRef,
		ThreadRef:  record.ThreadRef,
		Reason:     record.Reason,
		CreatedAt:  record.CreatedAt,
		DeadlineAt: record.DeadlineAt,
		Metadata:   record.Metadata,
	}
	if callbackBaseURL != "" {
		ret.CallbackURL = CallbackURL(callbackBaseURL, record.ID)
	}
	return ret
}

// CallbackURL returns callback location for id
func CallbackURL(baseURL, id string) string {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL + "/" + id
}

// Sender sends a payload to the notification channel once. Send returns
// once ctx is done.
type Sender interface {
	Send(ctx context.Context, payload *Payload) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, payload *Payload) error

// Send calls fn
func (fn SenderFunc) Send(ctx context.Context, payload *Payload) error {
	return fn(ctx, payload)
}
