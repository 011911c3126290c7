package hitloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// AutoDecidedBy identifies decisions made by AutoDecider
const AutoDecidedBy = "system:auto"

// DecisionFunc decides what to do with a pending record.
// Return (true,  "") to approve
//
//	(false, "…") to reject with reason.
type DecisionFunc func(record *model.Record) (approved bool, reason string)

// AutoDecider starts a goroutine that polls ListPending and applies fn to
// every pending record. It returns stop() – call it (or cancel ctx) to exit.
func AutoDecider(ctx context.Context, svc *Service, fn DecisionFunc, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				records, err := svc.ListPending(ctx, "")
				if err != nil {
					svc.logger.Warn("auto decider failed to list pending", "error", err)
					continue
				}
				for _, record := range records {
					approved, reason := fn(record)
					if _, err := svc.SubmitDecision(ctx, record.ID, approved, AutoDecidedBy, reason); err != nil && !errors.Is(err, store.ErrConflict) {
						svc.logger.Warn("auto decision failed", "id", record.ID, "error", err)
					}
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// AutoApprove automatically approves all pending records
func AutoApprove(ctx context.Context, svc *Service, interval time.Duration) func() {
	return AutoDecider(ctx, svc, func(*model.Record) (bool, string) { return true, "" }, interval)
}

// AutoReject automatically rejects all pending records with the given reason
func AutoReject(ctx context.Context, svc *Service, reason string, interval time.Duration) func() {
	return AutoDecider(ctx, svc, func(*model.Record) (bool, string) { return false, reason }, interval)
}
