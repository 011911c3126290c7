package model

import "time"

// DecidedBySystemTimeout identifies resolutions made by the timeout supervisor
const DecidedBySystemTimeout = "system:timeout"

// Record represents a persisted approval request
type Record struct {
	ID                string            `json:"id" yaml:"id" db:"id"`
	ActionRef         string            `json:"actionRef" yaml:"actionRef" db:"action_ref"`
	ThreadRef         string            `json:"threadRef,omitempty" yaml:"threadRef,omitempty" db:"thread_ref"`
	Status            Status            `json:"status" yaml:"status" db:"status"`
	CreatedAt         time.Time         `json:"createdAt" yaml:"createdAt" db:"created_at"`
	DeadlineAt        time.Time         `json:"deadlineAt" yaml:"deadlineAt" db:"deadline_at"`
	ResolvedAt        *time.Time        `json:"resolvedAt,omitempty" yaml:"resolvedAt,omitempty" db:"resolved_at"`
	DecidedBy         string            `json:"decidedBy,omitempty" yaml:"decidedBy,omitempty" db:"decided_by"`
	Reason            string            `json:"reason,omitempty" yaml:"reason,omitempty" db:"reason"`
	DeliveryAttempts  int               `json:"deliveryAttempts" yaml:"deliveryAttempts" db:"delivery_attempts"`
	LastDeliveryError string            `json:"lastDeliveryError,omitempty" yaml:"lastDeliveryError,omitempty" db:"last_delivery_error"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" db:"-"`
}

// NewRecord creates a pending record
func NewRecord(id, actionRef, threadRef string, createdAt time.Time, ttl time.Duration) *Record {
	return &Record{
		ID:         id,
		ActionRef:  actionRef,
		ThreadRef:  threadRef,
		Status:     StatusPending,
		CreatedAt:  createdAt,
		DeadlineAt: createdAt.Add(ttl),
	}
}

// IsPending returns true if record awaits decision
func (r *Record) IsPending() bool {
	return r.Status == StatusPending
}

// IsExpired returns true if deadline is not after now
func (r *Record) IsExpired(now time.Time) bool {
	return !r.DeadlineAt.After(now)
}

// Remaining returns time left until deadline, never negative
func (r *Record) Remaining(now time.Time) time.Duration {
	if left := r.DeadlineAt.Sub(now); left > 0 {
		return left
	}
	return 0
}

// Resolve applies terminal transition
func (r *Record) Resolve(status Status, decidedBy, reason string, at time.Time) {
	r.Status = status
	r.DecidedBy = decidedBy
	r.Reason = reason
	resolvedAt := at
	r.ResolvedAt = &resolvedAt
}

// Outcome returns the outcome view of a resolved record
func (r *Record) Outcome() Outcome {
	ret := Outcome{ID: r.ID, Status: r.Status, DecidedBy: r.DecidedBy, Reason: r.Reason}
	if r.ResolvedAt != nil {
		ret.ResolvedAt = *r.ResolvedAt
	}
	return ret
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	ret := *r
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		ret.ResolvedAt = &at
	}
	if r.Metadata != nil {
		ret.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			ret.Metadata[k] = v
		}
	}
	return &ret
}

// Outcome represents the value delivered to a waiting caller
type Outcome struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	DecidedBy  string    `json:"decidedBy,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Approved returns true if outcome approves the action
func (o Outcome) Approved() bool {
	return o.Status == StatusApproved
}
