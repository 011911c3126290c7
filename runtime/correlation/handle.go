package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/hitloop/model"
)

// ErrCancelled is returned by Wait when the entry was cancelled
var ErrCancelled = errors.New("correlation: wait cancelled")

// Handle is a one-shot completion point. It is fulfilled or cancelled exactly
// once; any number of goroutines may wait on it.
type Handle struct {
	ID           string
	RegisteredAt time.Time
	done         chan struct{}
	once         sync.Once
	outcome      model.Outcome
	cancelled    bool
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, RegisteredAt: time.Now(), done: make(chan struct{})}
}

// Done is closed once the handle is fulfilled or cancelled
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle completes or ctx is done
func (h *Handle) Wait(ctx context.Context) (model.Outcome, error) {
	select {
	case <-h.done:
		if h.cancelled {
			return model.Outcome{}, ErrCancelled
		}
		return h.outcome, nil
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	}
}

// Fulfil completes the handle with outcome; it returns false when the handle
// was already completed
func (h *Handle) Fulfil(outcome model.Outcome) bool {
	fulfilled := false
	h.once.Do(func() {
		h.outcome = outcome
		close(h.done)
		fulfilled = true
	})
	return fulfilled
}

// Cancel completes the handle without an outcome
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancelled = true
		close(h.done)
	})
}
