// Package breaker implements a three state circuit breaker guarding an
// unreliable notification channel.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when calls are rejected without an attempt.
var ErrOpen = errors.New("breaker: circuit open")

// State represents breaker state
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "halfOpen"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config represents breaker settings
type Config struct {
	FailureThreshold int           `json:"failureThreshold" yaml:"failureThreshold"`
	RecoveryTimeout  time.Duration `json:"recoveryTimeout" yaml:"recoveryTimeout"`
}

// DefaultConfig returns default settings
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second}
}

// Validate checks settings
func (c Config) Validate() error {
	var errs []error
	if c.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker.failureThreshold must be > 0"))
	}
	if c.RecoveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.recoveryTimeout must be > 0"))
	}
	return errors.Join(errs...)
}

// Snapshot represents a point in time view of the breaker
type Snapshot struct {
	State    State
	Failures int
	OpenedAt time.Time
}

// Listener is notified after every state transition
type Listener func(from, to State)

// Breaker guards calls to a channel. All counters are protected by mu.
type Breaker struct {
	mu        sync.Mutex
	config    Config
	state     State
	failures  int
	openedAt  time.Time
	trial     bool
	now       func() time.Time
	listeners []Listener
}

// Option customises Breaker
type Option func(b *Breaker)

// WithClock sets time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithListener registers a state transition listener
func WithListener(listener Listener) Option {
	return func(b *Breaker) { b.listeners = append(b.listeners, listener) }
}

// New creates a closed breaker
func New(config Config, options ...Option) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &Breaker{config: config, state: Closed, now: time.Now}
	for _, opt := range options {
		opt(ret)
	}
	return ret, nil
}

// Allow returns nil when a call may proceed. In the open state, once the
// recovery timeout elapsed, exactly one caller is admitted as a trial.
func (b *Breaker) Allow() error {
	_, err := b.Admit()
	return err
}

// Admit is Allow reporting whether the caller holds the half-open trial
// slot. Only the trial holder may Release it.
func (b *Breaker) Admit() (trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return false, nil
	case Open:
		if b.now().Sub(b.openedAt) < b.config.RecoveryTimeout {
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.state = HalfOpen
		b.trial = true
		b.mu.Unlock()
		b.notify(from, HalfOpen)
		return true, nil
	default:
		if b.trial {
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.trial = true
		b.mu.Unlock()
		return true, nil
	}
}

// Success records a successful call
func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.trial = false
	b.mu.Unlock()
	if from != Closed {
		b.notify(from, Closed)
	}
}

// Failure records a failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = Open
			b.openedAt = b.now()
		}
	case HalfOpen:
		b.failures++
		b.state = Open
		b.openedAt = b.now()
		b.trial = false
	case Open:
		b.failures++
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

// Release abandons the admitted trial without a verdict, freeing its slot
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state != HalfOpen || !b.trial {
		b.mu.Unlock()
		return
	}
	b.trial = false
	b.state = Open
	b.mu.Unlock()
	b.notify(HalfOpen, Open)
}

// Report records err as success or failure
func (b *Breaker) Report(err error) {
	if err == nil {
		b.Success()
		return
	}
	b.Failure()
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns current state and counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
}

func (b *Breaker) notify(from, to State) {
	for _, listener := range b.listeners {
		listener(from, to)
	}
}
