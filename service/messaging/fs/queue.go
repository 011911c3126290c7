package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/hitloop/internal/clock"
	"github.com/viant/hitloop/internal/idgen"
	"github.com/viant/hitloop/service/messaging"
)

// ErrProcessed is returned when a message is acked or nacked twice
var ErrProcessed = errors.New("message already processed")

// State represents the directory a message currently lives in
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDead       State = "dlq"
)

var states = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

// Message implements messaging.Message for the filesystem queue
type Message[T any] struct {
	ID        string    `json:"id"`
	Data      T         `json:"data"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	NotBefore time.Time `json:"notBefore,omitempty"`
	Retries   int       `json:"retries"`

	name      string
	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// Ack moves the message to the completed directory
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return ErrProcessed
	}
	m.processed = true
	return m.queue.transition(context.Background(), m, StateCompleted)
}

// Nack moves the message to the failed directory, or the dead letter
// directory once MaxRetries is exceeded
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return ErrProcessed
	}
	m.processed = true
	if err != nil {
		m.Error = err.Error()
	}
	m.Retries++
	if m.Retries > m.queue.config.MaxRetries {
		return m.queue.transition(context.Background(), m, StateDead)
	}
	m.NotBefore = clock.Now().Add(m.queue.config.RetryDelay)
	return m.queue.transition(context.Background(), m, StateFailed)
}

// Config holds configuration for filesystem queue
type Config struct {
	BasePath   string
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns a default queue configuration
func DefaultConfig() Config {
	return Config{
		BasePath:   "/tmp/hitloop/queue",
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Queue implements a filesystem-based messaging.Queue; each message is a JSON
// file that moves between state directories. Consume does not block and
// returns a nil message when nothing is ready.
type Queue[T any] struct {
	fs     afs.Service
	config Config
	mu     sync.Mutex
}

func (q *Queue[T]) dir(state State) string {
	return url.Join(q.config.BasePath, string(state))
}

// Publish writes a new pending message
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	now := clock.Now()
	message := &Message[T]{
		ID:        idgen.New(),
		Data:      *t,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// time prefixed names keep listing order close to publish order
	message.name = fmt.Sprintf("%020d-%s.json", now.UnixNano(), message.ID)
	return q.write(ctx, StatePending, message)
}

// Consume claims the oldest ready message, preferring due retries
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, state := range []State{StateFailed, StatePending} {
		message, err := q.claim(ctx, state)
		if err != nil {
			return nil, err
		}
		if message != nil {
			return message, nil
		}
	}
	return nil, nil
}

// Count returns number of messages in state directory
func (q *Queue[T]) Count(ctx context.Context, state State) (int, error) {
	names, err := q.list(ctx, state)
	return len(names), err
}

func (q *Queue[T]) claim(ctx context.Context, state State) (*Message[T], error) {
	names, err := q.list(ctx, state)
	if err != nil {
		return nil, err
	}
	now := clock.Now()
	for _, name := range names {
		source := url.Join(q.dir(state), name)
		message, err := q.read(ctx, source)
		if err != nil {
			_ = q.fs.Move(ctx, source, url.Join(q.dir(StateDead), "invalid-"+name))
			continue
		}
		if !message.NotBefore.IsZero() && now.Before(message.NotBefore) {
			continue
		}
		message.name = name
		message.queue = q
		message.State = StateProcessing
		message.UpdatedAt = now
		if err = q.write(ctx, StateProcessing, message); err != nil {
			return nil, err
		}
		if err = q.fs.Delete(ctx, source); err != nil {
			return nil, fmt.Errorf("failed to delete claimed message %v: %w", source, err)
		}
		return message, nil
	}
	return nil, nil
}

func (q *Queue[T]) transition(ctx context.Context, m *Message[T], state State) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m.State = state
	m.UpdatedAt = clock.Now()
	if err := q.write(ctx, state, m); err != nil {
		return err
	}
	processing := url.Join(q.dir(StateProcessing), m.name)
	if exists, _ := q.fs.Exists(ctx, processing); exists {
		if err := q.fs.Delete(ctx, processing); err != nil {
			return fmt.Errorf("failed to delete processing message %v: %w", processing, err)
		}
	}
	return nil
}

func (q *Queue[T]) list(ctx context.Context, state State) ([]string, error) {
	objects, err := q.fs.List(ctx, q.dir(state), option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list %v messages: %w", state, err)
	}
	var names []string
	for _, object := range objects {
		if !object.IsDir() && strings.HasSuffix(object.Name(), ".json") {
			names = append(names, object.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (q *Queue[T]) write(ctx context.Context, state State, m *Message[T]) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.fs.Upload(ctx, url.Join(q.dir(state), m.name), file.DefaultFileOsMode, bytes.NewReader(data))
}

func (q *Queue[T]) read(ctx context.Context, URL string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", URL, err)
	}
	message := &Message[T]{}
	if err := json.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", URL, err)
	}
	return message, nil
}

// NewQueue creates a filesystem queue, creating state directories as needed
func NewQueue[T any](fs afs.Service, config Config) (*Queue[T], error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if fs == nil {
		fs = afs.New()
	}
	config.BasePath = url.Normalize(config.BasePath, file.Scheme)
	q := &Queue[T]{fs: fs, config: config}
	ctx := context.Background()
	for _, state := range states {
		dir := q.dir(state)
		if exists, _ := fs.Exists(ctx, dir); exists {
			continue
		}
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return q, nil
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
