// Package retry runs an operation with exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Config represents retry settings; delay before retry i (0 based) is
// InitialDelay * ExponentialBase^i, capped at MaxDelay when set.
type Config struct {
	MaxRetries      int           `json:"maxRetries" yaml:"maxRetries"`
	InitialDelay    time.Duration `json:"initialDelay" yaml:"initialDelay"`
	ExponentialBase float64       `json:"exponentialBase" yaml:"exponentialBase"`
	MaxDelay        time.Duration `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`
}

// DefaultConfig returns default settings
func DefaultConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: time.Second, ExponentialBase: 2.0, MaxDelay: 30 * time.Second}
}

// Validate checks settings
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.maxRetries must be >= 0"))
	}
	if c.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.initialDelay must be > 0"))
	}
	if c.ExponentialBase <= 1 {
		errs = append(errs, fmt.Errorf("retry.exponentialBase must be > 1"))
	}
	if c.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.maxDelay must be >= 0"))
	}
	return errors.Join(errs...)
}

// Delay returns wait duration before retry with the given 0 based index
func (c Config) Delay(index int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.ExponentialBase, float64(index))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Backoff returns a fresh backoff sequence stopping after MaxRetries
func (c Config) Backoff() goretry.Backoff {
	index := 0
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		if index >= c.MaxRetries {
			return 0, true
		}
		delay := c.Delay(index)
		index++
		return delay, false
	})
}

// Executor runs operations with retries. It holds no lock while waiting.
type Executor struct {
	config Config
}

// Do invokes fn until it succeeds or retries are exhausted; it returns the
// number of invocations made and the final error.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := goretry.Do(ctx, e.config.Backoff(), func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return goretry.RetryableError(err)
		}
		return nil
	})
	return attempts, err
}

// Config returns executor settings
func (e *Executor) Config() Config {
	return e.config
}

// New creates an executor
func New(config Config) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Executor{config: config}, nil
}
