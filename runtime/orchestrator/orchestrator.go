package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viant/hitloop/internal/clock"
	"github.com/viant/hitloop/internal/idgen"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/runtime/correlation"
	"github.com/viant/hitloop/runtime/timeout"
	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/service/event"
	"github.com/viant/hitloop/service/metrics"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/tracing"
)

// DefaultTimeout is used when neither the request nor options set a deadline
const DefaultTimeout = 300 * time.Second

const abandonPoll = 10 * time.Millisecond

var (
	// ErrCancelled is returned when the caller stopped waiting; the record stays pending
	ErrCancelled = errors.New("orchestrator: approval wait cancelled")

	// ErrNotTracked is returned when a pending record has no live waiter in this process
	ErrNotTracked = errors.New("orchestrator: record not tracked")
)

// Request represents an approval request
type Request struct {
	ActionRef string
	ThreadRef string
	Timeout   time.Duration
	Metadata  map[string]string
}

// Orchestrator coordinates approval requests and decisions
type Orchestrator struct {
	store           store.Store
	pipeline        *delivery.Pipeline
	table           *correlation.Table
	timeouts        *timeout.Supervisor
	events          *event.Service
	logger          *slog.Logger
	defaultTimeout  time.Duration
	callbackBaseURL string
	retryExpiry     time.Duration
}

// RequestApproval persists a pending record, delivers the notification and
// blocks until the request is resolved or ctx is done. A delivery failure does
// not resolve the request; the deadline does. Delivery never outlives the
// deadline and stops once the request is resolved.
func (o *Orchestrator) RequestApproval(ctx context.Context, request *Request) (*model.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.requestApproval", "INTERNAL")
	record, err := o.requestApproval(ctx, request)
	tracing.EndSpan(span, err)
	return record, err
}

func (o *Orchestrator) requestApproval(ctx context.Context, request *Request) (*model.Record, error) {
	if request == nil || request.ActionRef == "" {
		return nil, fmt.Errorf("approval request requires action reference")
	}
	ttl := request.Timeout
	if ttl <= 0 {
		ttl = o.defaultTimeout
	}
	record := model.NewRecord(idgen.New(), request.ActionRef, request.ThreadRef, clock.Now(), ttl)
	record.Metadata = request.Metadata
	if err := o.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist approval request: %w", err)
	}
	handle, err := o.table.Register(record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to register approval request %v: %w", record.ID, err)
	}
	o.timeouts.Arm(record.ID, record.DeadlineAt, o.expire)
	metrics.RequestsTotal.Inc()
	o.logger.Info("approval requested", "id", record.ID, "actionRef", record.ActionRef, "deadline", record.DeadlineAt)
	o.events.Publish(ctx, event.TopicRequestCreated, eventContext(record), event.Approval{Status: record.Status.String()})

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		o.deliverWhilePending(ctx, record, handle, 0)
	}()

	outcome, err := handle.Wait(ctx)
	switch {
	case errors.Is(err, correlation.ErrCancelled):
		err = ErrCancelled
	case err != nil:
		if resolved, ok := o.abandon(record, handle); ok {
			outcome, err = resolved, nil
		} else {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
	<-delivered
	if err != nil {
		return nil, err
	}
	resolved, err := o.store.Get(context.WithoutCancel(ctx), record.ID)
	if err != nil {
		o.logger.Warn("failed to load resolved record", "id", record.ID, "error", err)
		record.Resolve(outcome.Status, outcome.DecidedBy, outcome.Reason, outcome.ResolvedAt)
		return record, nil
	}
	return resolved, nil
}

// abandon cancels a wait whose context ended; when a resolution won the race
// the outcome is returned instead
func (o *Orchestrator) abandon(record *model.Record, handle *correlation.Handle) (model.Outcome, bool) {
	for !o.table.Cancel(record.ID) {
		// entry claimed by a resolver: it either completes the handle or
		// restores the entry after a failed store write
		select {
		case <-handle.Done():
			outcome, err := handle.Wait(context.Background())
			return outcome, err == nil
		case <-time.After(abandonPoll):
		}
	}
	o.timeouts.Disarm(record.ID)
	o.logger.Info("approval wait cancelled", "id", record.ID)
	o.events.Publish(context.Background(), event.TopicRequestCancelled, eventContext(record), event.Approval{Status: model.StatusPending.String()})
	return model.Outcome{}, false
}

// deliverWhilePending runs one logical delivery bounded by the record
// deadline; it is stopped as soon as handle completes
func (o *Orchestrator) deliverWhilePending(ctx context.Context, record *model.Record, handle *correlation.Handle, priorAttempts int) delivery.Outcome {
	ctx, cancel := context.WithDeadline(ctx, record.DeadlineAt)
	defer cancel()
	go func() {
		select {
		case <-handle.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return o.deliver(ctx, record, priorAttempts)
}

// deliver runs one logical delivery and records bookkeeping; priorAttempts is
// added to the attempt counter
func (o *Orchestrator) deliver(ctx context.Context, record *model.Record, priorAttempts int) delivery.Outcome {
	outcome := o.pipeline.Deliver(ctx, delivery.NewPayload(record, o.callbackBaseURL))
	bookkeeping := &store.Delivery{Attempts: priorAttempts + outcome.Attempts}
	data := event.Approval{Attempts: outcome.Attempts}
	if outcome.Err != nil {
		bookkeeping.LastError = outcome.Err.Error()
		data.Error = bookkeeping.LastError
		if ctx.Err() != nil {
			o.logger.Debug("approval notification stopped", "id", record.ID, "error", outcome.Err)
		} else {
			o.logger.Warn("approval notification not delivered, waiting for deadline", "id", record.ID, "error", outcome.Err)
		}
	}
	if err := o.store.RecordDelivery(context.WithoutCancel(ctx), record.ID, bookkeeping); err != nil {
		o.logger.Warn("failed to record delivery", "id", record.ID, "error", err)
	}
	o.events.Publish(ctx, event.TopicDeliveryAttempted, eventContext(record), data)
	return outcome
}

// HandleCallback applies a human decision. The store update is the
// authority: a record already terminal yields *store.ConflictError, an
// unknown id yields store.ErrNotFound.
func (o *Orchestrator) HandleCallback(ctx context.Context, id string, approved bool, decidedBy, reason string) (*model.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.handleCallback", "SERVER")
	span.WithAttributes(map[string]string{"id": id})
	record, err := o.resolve(ctx, id, &store.Resolution{
		Status:     model.StatusOf(approved),
		DecidedBy:  decidedBy,
		Reason:     reason,
		ResolvedAt: clock.Now(),
	}, "callback")
	tracing.EndSpan(span, err)
	return record, err
}

func (o *Orchestrator) resolve(ctx context.Context, id string, resolution *store.Resolution, source string) (*model.Record, error) {
	record, err := o.store.MarkResolved(ctx, id, resolution)
	if err != nil {
		if conflict, ok := store.AsConflict(err); ok {
			metrics.ConflictsTotal.WithLabelValues(source).Inc()
			o.logger.Info("resolution conflict", "id", id, "source", source, "existing", conflict.Existing, "requested", resolution.Status)
		}
		return nil, err
	}
	o.timeouts.Disarm(id)
	o.table.Resolve(id, record.Outcome())
	o.observeResolution(ctx, record, event.TopicRequestResolved)
	return record, nil
}

// expire is invoked by the timeout supervisor. The entry is claimed before
// the store write, so a cancelled wait never turns into a timeout.
func (o *Orchestrator) expire(id string) {
	handle, ok := o.table.Take(id)
	if !ok {
		return
	}
	ctx := context.Background()
	record, err := o.store.MarkResolved(ctx, id, &store.Resolution{
		Status:     model.StatusTimedOut,
		DecidedBy:  model.DecidedBySystemTimeout,
		ResolvedAt: clock.Now(),
	})
	switch {
	case err == nil:
		handle.Fulfil(record.Outcome())
		o.observeResolution(ctx, record, event.TopicRequestTimedOut)
	case errors.Is(err, store.ErrConflict):
		metrics.ConflictsTotal.WithLabelValues("timeout").Inc()
		o.settle(ctx, handle, err)
	case errors.Is(err, store.ErrNotFound):
		o.logger.Error("pending record disappeared", "id", id)
		handle.Cancel()
	default:
		o.logger.Error("failed to resolve expired request, will retry", "id", id, "error", err)
		if err := o.table.Restore(handle); err != nil {
			o.logger.Error("failed to restore waiter", "id", id, "error", err)
			handle.Cancel()
			return
		}
		o.timeouts.Arm(id, clock.Now().Add(o.retryExpiry), o.expire)
	}
}

// settle completes a claimed handle with the outcome already stored
func (o *Orchestrator) settle(ctx context.Context, handle *correlation.Handle, conflictErr error) {
	if record, err := o.store.Get(ctx, handle.ID); err == nil && record.Status.IsTerminal() {
		handle.Fulfil(record.Outcome())
		return
	}
	outcome := model.Outcome{ID: handle.ID, ResolvedAt: clock.Now()}
	if conflict, ok := store.AsConflict(conflictErr); ok {
		outcome.Status, outcome.DecidedBy = conflict.Existing, conflict.DecidedBy
	}
	handle.Fulfil(outcome)
}

// sync resolves a live waiter from the stored record when the record was
// resolved outside this process
func (o *Orchestrator) sync(ctx context.Context, id string) bool {
	record, err := o.store.Get(ctx, id)
	if err != nil || !record.Status.IsTerminal() {
		return false
	}
	o.timeouts.Disarm(id)
	return o.table.Resolve(id, record.Outcome())
}

func (o *Orchestrator) observeResolution(ctx context.Context, record *model.Record, topic string) {
	latency := record.Outcome().ResolvedAt.Sub(record.CreatedAt)
	metrics.ResolutionsTotal.WithLabelValues(record.Status.String()).Inc()
	metrics.DecisionLatency.WithLabelValues(record.Status.String()).Observe(latency.Seconds())
	o.logger.Info("approval resolved", "id", record.ID, "status", record.Status, "decidedBy", record.DecidedBy)
	o.events.Publish(ctx, topic, eventContext(record), event.Approval{
		Status:    record.Status.String(),
		DecidedBy: record.DecidedBy,
		LatencyMs: latency.Milliseconds(),
	})
}

// Cancel stops waiting for id without resolving the record
func (o *Orchestrator) Cancel(id string) bool {
	if !o.table.Cancel(id) {
		return false
	}
	o.timeouts.Disarm(id)
	o.events.Publish(context.Background(), event.TopicRequestCancelled, &event.Context{RecordID: id}, event.Approval{Status: model.StatusPending.String()})
	return true
}

// Await attaches to the live waiter of id, typically one re-registered by
// Recover. A record already terminal is returned immediately.
func (o *Orchestrator) Await(ctx context.Context, id string) (*model.Record, error) {
	handle, ok := o.table.Lookup(id)
	if !ok {
		record, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record.Status.IsTerminal() {
			return record, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNotTracked, id)
	}
	if _, err := handle.Wait(ctx); err != nil {
		if errors.Is(err, correlation.ErrCancelled) {
			return nil, ErrCancelled
		}
		return nil, err
	}
	return o.store.Get(context.WithoutCancel(ctx), id)
}

// Redeliver sends the notification of a tracked pending record again, bounded
// by the record deadline
func (o *Orchestrator) Redeliver(ctx context.Context, id string) (delivery.Outcome, error) {
	record, err := o.store.Get(ctx, id)
	if err != nil {
		return delivery.Outcome{}, err
	}
	if !record.IsPending() {
		return delivery.Outcome{}, store.NewConflict(record, model.StatusPending)
	}
	handle, ok := o.table.Lookup(id)
	if !ok {
		return delivery.Outcome{}, fmt.Errorf("%w: %v", ErrNotTracked, id)
	}
	return o.deliverWhilePending(ctx, record, handle, record.DeliveryAttempts), nil
}

// Get returns stored record
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.Record, error) {
	return o.store.Get(ctx, id)
}

// ListPending returns pending records, optionally for one thread
func (o *Orchestrator) ListPending(ctx context.Context, threadRef string) ([]*model.Record, error) {
	return o.store.ListPending(ctx, threadRef)
}

// Waiting returns number of live waiters
func (o *Orchestrator) Waiting() int {
	return o.table.Len()
}

// Close disarms timers and releases waiters; records stay pending for recovery
func (o *Orchestrator) Close() {
	o.timeouts.Stop()
	for _, id := range o.table.IDs() {
		o.table.Cancel(id)
	}
}

func eventContext(record *model.Record) *event.Context {
	return &event.Context{RecordID: record.ID, ActionRef: record.ActionRef, ThreadRef: record.ThreadRef}
}

// New creates an orchestrator
func New(s store.Store, pipeline *delivery.Pipeline, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		store:          s,
		pipeline:       pipeline,
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeout,
		retryExpiry:    5 * time.Second,
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.table == nil {
		ret.table = correlation.NewTable(ret.logger)
	}
	if ret.timeouts == nil {
		ret.timeouts = timeout.New(nil)
	}
	return ret
}
