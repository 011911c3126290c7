package ingress

import (
	"context"
	"errors"
	"time"

	"github.com/viant/hitloop/internal/clock"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/service/store/memory"
)

// storeDecider applies callbacks directly to a store
type storeDecider struct {
	store  *memory.Store
	err    error
	getErr error
}

func (d *storeDecider) HandleCallback(ctx context.Context, id string, approved bool, decidedBy, reason string) (*model.Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.store.MarkResolved(ctx, id, &store.Resolution{Status: model.StatusOf(approved), DecidedBy: decidedBy, Reason: reason, ResolvedAt: clock.Now()})
}

func (d *storeDecider) Get(ctx context.Context, id string) (*model.Record, error) {
	if d.getErr != nil {
		return nil, d.getErr
	}
	return d.store.Get(ctx, id)
}

func (d *storeDecider) ListPending(ctx context.Context, threadRef string) ([]*model.Record, error) {
	return d.store.ListPending(ctx, threadRef)
}

func newDecider(ids ...string) *storeDecider {
	s := memory.New()
	for i, id := range ids {
		thread := "t1"
		if i%2 == 1 {
			thread = "t2"
		}
		_ = s.Save(context.Background(), model.NewRecord(id, "deploy", thread, clock.Now(), time.Hour))
	}
	return &storeDecider{store: s}
}

var errUnavailable = errors.New("store unavailable")
