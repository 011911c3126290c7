package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/viant/hitloop/internal/clock"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/runtime/correlation"
	"github.com/viant/hitloop/service/event"
	"github.com/viant/hitloop/service/metrics"
	"github.com/viant/hitloop/service/store"
)

// RecoveryReport summarises a Recover run
type RecoveryReport struct {
	Recovered []string
	Expired   []string
	Conflicts int
	Errors    int
}

// Recover rebuilds in-memory state from the store after a restart. Records
// past their deadline are timed out in the store directly; the rest are
// re-registered and re-armed. Notifications are not sent again.
func (o *Orchestrator) Recover(ctx context.Context) (*RecoveryReport, error) {
	records, err := o.store.ListPending(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	report := &RecoveryReport{}
	now := clock.Now()
	for _, record := range records {
		if record.IsExpired(now) {
			o.recoverExpired(ctx, record, report)
			continue
		}
		if _, err := o.table.Register(record.ID); err != nil {
			if errors.Is(err, correlation.ErrDuplicateID) {
				continue
			}
			report.Errors++
			continue
		}
		o.timeouts.Arm(record.ID, record.DeadlineAt, o.expire)
		report.Recovered = append(report.Recovered, record.ID)
		metrics.RecoveredTotal.WithLabelValues("rearmed").Inc()
		o.events.Publish(ctx, event.TopicRequestRecovered, eventContext(record), event.Approval{Status: record.Status.String()})
	}
	o.logger.Info("recovery completed", "rearmed", len(report.Recovered), "expired", len(report.Expired), "conflicts", report.Conflicts, "errors", report.Errors)
	return report, nil
}

func (o *Orchestrator) recoverExpired(ctx context.Context, record *model.Record, report *RecoveryReport) {
	resolved, err := o.store.MarkResolved(ctx, record.ID, &store.Resolution{
		Status:     model.StatusTimedOut,
		DecidedBy:  model.DecidedBySystemTimeout,
		ResolvedAt: clock.Now(),
	})
	switch {
	case err == nil:
		report.Expired = append(report.Expired, record.ID)
		metrics.RecoveredTotal.WithLabelValues("expired").Inc()
		o.observeResolution(ctx, resolved, event.TopicRequestTimedOut)
	case errors.Is(err, store.ErrConflict):
		// resolved by a late callback in the meantime
		report.Conflicts++
		metrics.RecoveredTotal.WithLabelValues("conflict").Inc()
	default:
		report.Errors++
		metrics.RecoveredTotal.WithLabelValues("error").Inc()
		o.logger.Error("failed to expire record during recovery", "id", record.ID, "error", err)
	}
}

// ExpireOverdue times out pending records past their deadline that no timer
// in this process owns, and releases local waiters whose record was resolved
// elsewhere. It returns number of records resolved or synced.
func (o *Orchestrator) ExpireOverdue(ctx context.Context) (int, error) {
	records, err := o.store.ListPending(ctx, "")
	if err != nil {
		return 0, err
	}
	count := 0
	now := clock.Now()
	for _, record := range records {
		if !record.IsExpired(now) {
			continue
		}
		if _, armed := o.timeouts.Deadline(record.ID); armed {
			continue
		}
		resolved, err := o.store.MarkResolved(ctx, record.ID, &store.Resolution{
			Status:     model.StatusTimedOut,
			DecidedBy:  model.DecidedBySystemTimeout,
			ResolvedAt: clock.Now(),
		})
		if err != nil {
			if !errors.Is(err, store.ErrConflict) {
				o.logger.Warn("failed to expire overdue record", "id", record.ID, "error", err)
			}
			continue
		}
		o.table.Resolve(record.ID, resolved.Outcome())
		o.observeResolution(ctx, resolved, event.TopicRequestTimedOut)
		count++
	}
	for _, id := range o.table.IDs() {
		if o.sync(ctx, id) {
			count++
		}
	}
	return count, nil
}
