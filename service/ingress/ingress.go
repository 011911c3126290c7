// Package ingress accepts human decisions from external transports and
// applies them through a Decider.
package ingress

import (
	"context"
	"errors"

	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// Decider applies decisions and reads records
type Decider interface {
	HandleCallback(ctx context.Context, id string, approved bool, decidedBy, reason string) (*model.Record, error)
	Get(ctx context.Context, id string) (*model.Record, error)
	ListPending(ctx context.Context, threadRef string) ([]*model.Record, error)
}

// Callback represents a decision submitted by a human
type Callback struct {
	ID        string `json:"id,omitempty"`
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decidedBy"`
	Reason    string `json:"reason,omitempty"`
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, store.ErrNotFound):
		return "notFound"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, errBadRequest):
		return "invalid"
	case errors.Is(err, errUnauthorized):
		return "unauthorized"
	}
	return "error"
}
