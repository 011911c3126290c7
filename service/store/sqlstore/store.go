package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// timeLayout keeps fixed width so that text columns sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const selectColumns = `id, action_ref, thread_ref, status, created_at, deadline_at, resolved_at, decided_by, reason, delivery_attempts, last_delivery_error, metadata`

type row struct {
	ID                string         `db:"id"`
	ActionRef         string         `db:"action_ref"`
	ThreadRef         string         `db:"thread_ref"`
	Status            string         `db:"status"`
	CreatedAt         string         `db:"created_at"`
	DeadlineAt        string         `db:"deadline_at"`
	ResolvedAt        sql.NullString `db:"resolved_at"`
	DecidedBy         string         `db:"decided_by"`
	Reason            string         `db:"reason"`
	DeliveryAttempts  int            `db:"delivery_attempts"`
	LastDeliveryError string         `db:"last_delivery_error"`
	Metadata          string         `db:"metadata"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(text string) (time.Time, error) {
	return time.Parse(timeLayout, text)
}

func (r *row) record() (*model.Record, error) {
	ret := &model.Record{
		ID:                r.ID,
		ActionRef:         r.ActionRef,
		ThreadRef:         r.ThreadRef,
		Status:            model.Status(r.Status),
		DecidedBy:         r.DecidedBy,
		Reason:            r.Reason,
		DeliveryAttempts:  r.DeliveryAttempts,
		LastDeliveryError: r.LastDeliveryError,
	}
	var err error
	if ret.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for %v: %w", r.ID, err)
	}
	if ret.DeadlineAt, err = parseTime(r.DeadlineAt); err != nil {
		return nil, fmt.Errorf("invalid deadline_at for %v: %w", r.ID, err)
	}
	if r.ResolvedAt.Valid {
		resolvedAt, err := parseTime(r.ResolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid resolved_at for %v: %w", r.ID, err)
		}
		ret.ResolvedAt = &resolvedAt
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err = json.Unmarshal([]byte(r.Metadata), &ret.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata for %v: %w", r.ID, err)
		}
	}
	return ret, nil
}

// Store implements store.Store on a relational database
type Store struct {
	db     *sqlx.DB
	ownsDB bool
}

// DB returns underlying connection pool
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Save upserts a record
func (s *Store) Save(ctx context.Context, record *model.Record) error {
	if err := store.Validate(record); err != nil {
		return err
	}
	metadata := "{}"
	if len(record.Metadata) > 0 {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(data)
	}
	var resolvedAt sql.NullString
	if record.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: formatTime(*record.ResolvedAt), Valid: true}
	}
	query := s.db.Rebind(`INSERT INTO hitloop_approvals (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			action_ref = excluded.action_ref,
			thread_ref = excluded.thread_ref,
			status = excluded.status,
			created_at = excluded.created_at,
			deadline_at = excluded.deadline_at,
			resolved_at = excluded.resolved_at,
			decided_by = excluded.decided_by,
			reason = excluded.reason,
			delivery_attempts = excluded.delivery_attempts,
			last_delivery_error = excluded.last_delivery_error,
			metadata = excluded.metadata`)
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.ActionRef,
		record.ThreadRef,
		string(record.Status),
		formatTime(record.CreatedAt),
		formatTime(record.DeadlineAt),
		resolvedAt,
		record.DecidedBy,
		record.Reason,
		record.DeliveryAttempts,
		record.LastDeliveryError,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to save record %v: %w", record.ID, err)
	}
	return nil
}

// Get loads a record
func (s *Store) Get(ctx context.Context, id string) (*model.Record, error) {
	if id == "" {
		return nil, store.ErrInvalidID
	}
	var dest row
	query := s.db.Rebind(`SELECT ` + selectColumns + ` FROM hitloop_approvals WHERE id = ?`)
	err := s.db.GetContext(ctx, &dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %v: %w", id, err)
	}
	return dest.record()
}

// ListPending returns pending records ordered by creation time
func (s *Store) ListPending(ctx context.Context, threadRef string) ([]*model.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM hitloop_approvals WHERE status = ?`
	args := []interface{}{string(model.StatusPending)}
	if threadRef != "" {
		query += ` AND thread_ref = ?`
		args = append(args, threadRef)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	ret := make([]*model.Record, 0, len(rows))
	for i := range rows {
		record, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		ret = append(ret, record)
	}
	return ret, nil
}

// MarkResolved resolves a pending record with a conditional update
func (s *Store) MarkResolved(ctx context.Context, id string, resolution *store.Resolution) (*model.Record, error) {
	if err := resolution.Validate(); err != nil {
		return nil, err
	}
	query := s.db.Rebind(`UPDATE hitloop_approvals
		SET status = ?, decided_by = ?, reason = ?, resolved_at = ?
		WHERE id = ? AND status = ?`)
	result, err := s.db.ExecContext(ctx, query,
		string(resolution.Status),
		resolution.DecidedBy,
		resolution.Reason,
		formatTime(resolution.ResolvedAt),
		id,
		string(model.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve record %v: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve record %v: %w", id, err)
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.NewConflict(record, resolution.Status)
	}
	return record, nil
}

// RecordDelivery updates delivery bookkeeping of a pending record
func (s *Store) RecordDelivery(ctx context.Context, id string, delivery *store.Delivery) error {
	query := s.db.Rebind(`UPDATE hitloop_approvals
		SET delivery_attempts = CASE WHEN delivery_attempts > ? THEN delivery_attempts ELSE ? END,
			last_delivery_error = ?
		WHERE id = ? AND status = ?`)
	result, err := s.db.ExecContext(ctx, query,
		delivery.Attempts,
		delivery.Attempts,
		delivery.LastError,
		id,
		string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery for %v: %w", id, err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}
	_, err = s.Get(ctx, id)
	return err
}

// Close releases connection pool when owned by the store
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// New wraps an existing connection pool and applies migrations
func New(db *sqlx.DB, dialect string) (*Store, error) {
	if err := Migrate(db, dialect); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Open connects using cfg, applies migrations and returns a store owning the pool
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ret, err := New(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ret.ownsDB = true
	return ret, nil
}

var _ store.Store = (*Store)(nil)
