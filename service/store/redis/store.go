package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// DefaultPrefix is the key prefix used when none is configured
const DefaultPrefix = "hitloop:"

const maxTxRetries = 16

// Config holds Redis connection configuration.
type Config struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Store implements store.Store on Redis. A record is kept as a JSON string;
// pending records are indexed in a set and in one set per thread reference.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	owns   bool
}

func (s *Store) recordKey(id string) string {
	return s.prefix + "record:" + id
}

func (s *Store) pendingKey() string {
	return s.prefix + "pending"
}

func (s *Store) threadKey(threadRef string) string {
	return s.prefix + "pending:thread:" + threadRef
}

// Save stores or overwrites a record and maintains pending indexes
func (s *Store) Save(ctx context.Context, record *model.Record) error {
	if err := store.Validate(record); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %v: %w", record.ID, err)
	}
	key := s.recordKey(record.ID)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		previous, err := s.load(ctx, tx, record.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != nil && previous.ThreadRef != "" && previous.ThreadRef != record.ThreadRef {
				pipe.SRem(ctx, s.threadKey(previous.ThreadRef), record.ID)
			}
			pipe.Set(ctx, key, data, 0)
			s.index(ctx, pipe, record)
			return nil
		})
		return err
	})
}

// Get loads a record
func (s *Store) Get(ctx context.Context, id string) (*model.Record, error) {
	if id == "" {
		return nil, store.ErrInvalidID
	}
	return s.load(ctx, s.rdb, id)
}

// ListPending returns pending records ordered by creation time
func (s *Store) ListPending(ctx context.Context, threadRef string) ([]*model.Record, error) {
	indexKey := s.pendingKey()
	if threadRef != "" {
		indexKey = s.threadKey(threadRef)
	}
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending index: %w", err)
	}
	ret := make([]*model.Record, 0, len(ids))
	if len(ids) == 0 {
		return ret, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending records: %w", err)
	}
	for _, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		record := &model.Record{}
		if err := json.Unmarshal([]byte(text), record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		if store.Matches(record, threadRef) {
			ret = append(ret, record)
		}
	}
	store.SortByCreated(ret)
	return ret, nil
}

// MarkResolved resolves a pending record using optimistic locking
func (s *Store) MarkResolved(ctx context.Context, id string, resolution *store.Resolution) (*model.Record, error) {
	if err := resolution.Validate(); err != nil {
		return nil, err
	}
	var resolved *model.Record
	key := s.recordKey(id)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err = resolution.Apply(record); err != nil {
			return err
		}
		if err = s.commit(ctx, tx, record); err != nil {
			return err
		}
		resolved = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// RecordDelivery updates delivery bookkeeping of a pending record
func (s *Store) RecordDelivery(ctx context.Context, id string, delivery *store.Delivery) error {
	key := s.recordKey(id)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !delivery.Apply(record) {
			return nil
		}
		return s.commit(ctx, tx, record)
	})
}

// Close closes the client when owned by the store
func (s *Store) Close() error {
	if s.owns {
		return s.rdb.Close()
	}
	return nil
}

func (s *Store) commit(ctx context.Context, tx *redis.Tx, record *model.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %v: %w", record.ID, err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.ID), data, 0)
		s.index(ctx, pipe, record)
		return nil
	})
	return err
}

func (s *Store) index(ctx context.Context, pipe redis.Pipeliner, record *model.Record) {
	if record.IsPending() {
		pipe.SAdd(ctx, s.pendingKey(), record.ID)
		if record.ThreadRef != "" {
			pipe.SAdd(ctx, s.threadKey(record.ThreadRef), record.ID)
		}
		return
	}
	pipe.SRem(ctx, s.pendingKey(), record.ID)
	if record.ThreadRef != "" {
		pipe.SRem(ctx, s.threadKey(record.ThreadRef), record.ID)
	}
}

func (s *Store) load(ctx context.Context, cmd redis.Cmdable, id string) (*model.Record, error) {
	data, err := cmd.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %v: %w", id, err)
	}
	record := &model.Record{}
	if err = json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode record %v: %w", id, err)
	}
	return record, nil
}

func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Millisecond):
		}
	}
	return fmt.Errorf("failed to update %v: too much contention", key)
}

// Option customises Store
type Option func(s *Store)

// WithPrefix sets key prefix
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a store on an existing client
func New(client redis.UniversalClient, options ...Option) *Store {
	ret := &Store{rdb: client, prefix: DefaultPrefix}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Open connects to Redis and returns a store owning the client
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ret := New(client, WithPrefix(cfg.Prefix))
	ret.owns = true
	return ret, nil
}

var _ store.Store = (*Store)(nil)
