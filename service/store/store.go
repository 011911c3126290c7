package store

import (
	"context"
	"sort"
	"time"

	"github.com/viant/hitloop/model"
)

// Store persists decision records.
//
// Save durably inserts or overwrites a record by id. MarkResolved is an atomic
// conditional update: it succeeds only while the stored status is pending and
// returns *ConflictError otherwise. RecordDelivery updates delivery bookkeeping
// of a pending record and never lowers the attempt counter. Implementations
// tolerate concurrent calls for distinct ids.
type Store interface {
	Save(ctx context.Context, record *model.Record) error

	Get(ctx context.Context, id string) (*model.Record, error)

	// ListPending returns pending records, optionally restricted to a thread
	// reference; an empty threadRef lists all pending records.
	ListPending(ctx context.Context, threadRef string) ([]*model.Record, error)

	MarkResolved(ctx context.Context, id string, resolution *Resolution) (*model.Record, error)

	RecordDelivery(ctx context.Context, id string, delivery *Delivery) error

	Close() error
}

// Resolution represents terminal transition parameters
type Resolution struct {
	Status     model.Status
	DecidedBy  string
	Reason     string
	ResolvedAt time.Time
}

// Validate checks resolution
func (r *Resolution) Validate() error {
	if r == nil || !r.Status.IsTerminal() {
		return ErrInvalidStatus
	}
	return nil
}

// Apply resolves a pending record in place or returns conflict
func (r *Resolution) Apply(record *model.Record) error {
	if !record.IsPending() {
		return NewConflict(record, r.Status)
	}
	record.Resolve(r.Status, r.DecidedBy, r.Reason, r.ResolvedAt)
	return nil
}

// Delivery represents delivery bookkeeping
type Delivery struct {
	Attempts  int
	LastError string
}

// Apply updates record bookkeeping; returns false when record is not pending
func (d *Delivery) Apply(record *model.Record) bool {
	if !record.IsPending() {
		return false
	}
	if d.Attempts > record.DeliveryAttempts {
		record.DeliveryAttempts = d.Attempts
	}
	record.LastDeliveryError = d.LastError
	return true
}

// Validate checks record before persisting
func Validate(record *model.Record) error {
	if record == nil {
		return ErrNilRecord
	}
	if record.ID == "" {
		return ErrInvalidID
	}
	return nil
}

// SortByCreated orders records by creation time, then id
func SortByCreated(records []*model.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// Matches returns true if record is pending and belongs to threadRef ("" matches any)
func Matches(record *model.Record, threadRef string) bool {
	return record.IsPending() && (threadRef == "" || record.ThreadRef == threadRef)
}
