package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// Store implements store.Store keeping one JSON document per record on any
// afs supported location (local disk, mem://, cloud buckets). Conditional
// updates hold a per record lock file, so several processes may share a
// base path.
type Store struct {
	basePath    string
	fs          afs.Service
	logger      *slog.Logger
	lockTimeout time.Duration
	staleLock   time.Duration
	mu          sync.RWMutex
}

// Save persists a record
func (s *Store) Save(ctx context.Context, record *model.Record) error {
	if err := store.Validate(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, record)
}

// Get loads a record
func (s *Store) Get(ctx context.Context, id string) (*model.Record, error) {
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, id)
}

// ListPending returns pending records ordered by creation time
func (s *Store) ListPending(ctx context.Context, threadRef string) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	var records []*model.Record
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			s.logger.Warn("failed to read record", "url", object.URL(), "error", err)
			continue
		}
		record := &model.Record{}
		if err := json.Unmarshal(data, record); err != nil {
			s.logger.Warn("failed to decode record", "url", object.URL(), "error", err)
			continue
		}
		if store.Matches(record, threadRef) {
			records = append(records, record)
		}
	}
	store.SortByCreated(records)
	if records == nil {
		records = []*model.Record{}
	}
	return records, nil
}

// MarkResolved resolves a pending record
func (s *Store) MarkResolved(ctx context.Context, id string, resolution *store.Resolution) (*model.Record, error) {
	if err := resolution.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	record, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = resolution.Apply(record); err != nil {
		return nil, err
	}
	if err = s.write(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordDelivery updates delivery bookkeeping of a pending record
func (s *Store) RecordDelivery(ctx context.Context, id string, delivery *store.Delivery) error {
	if id == "" {
		return store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	record, err := s.read(ctx, id)
	if err != nil {
		return err
	}
	if !delivery.Apply(record) {
		return nil
	}
	return s.write(ctx, record)
}

// Close is a no-op
func (s *Store) Close() error { return nil }

func (s *Store) read(ctx context.Context, id string) (*model.Record, error) {
	URL := s.recordURL(id)
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to check record %v: %w", id, err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read record %v: %w", id, err)
	}
	record := &model.Record{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode record %v: %w", id, err)
	}
	return record, nil
}

func (s *Store) write(ctx context.Context, record *model.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %v: %w", record.ID, err)
	}
	URL := s.recordURL(record.ID)
	if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write record %v: %w", record.ID, err)
	}
	return nil
}

func (s *Store) recordURL(id string) string {
	return url.Join(s.basePath, id+".json")
}

// Option customises Store
type Option func(s *Store)

// WithFS sets the storage service
func WithFS(fs afs.Service) Option {
	return func(s *Store) { s.fs = fs }
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithLockTimeout sets how long an update waits for a record lock held by
// another writer
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) { s.lockTimeout = timeout }
}

// New creates a filesystem store rooted at basePath
func New(ctx context.Context, basePath string, options ...Option) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	ret := &Store{fs: afs.New(), logger: slog.Default(), lockTimeout: defaultLockTimeout, staleLock: defaultStaleLock}
	for _, opt := range options {
		opt(ret)
	}
	basePath = url.Normalize(basePath, file.Scheme)
	exists, _ := ret.fs.Exists(ctx, basePath)
	if !exists {
		if err := ret.fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	ret.basePath = basePath
	return ret, nil
}

var _ store.Store = (*Store)(nil)
