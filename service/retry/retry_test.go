package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Delay(t *testing.T) {
	type testCase struct {
		name     string
		config   Config
		expected []time.Duration
	}
	for _, tc := range []testCase{
		{
			name:     "default schedule",
			config:   Config{MaxRetries: 3, InitialDelay: time.Second, ExponentialBase: 2},
			expected: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		{
			name:     "base three",
			config:   Config{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, ExponentialBase: 3},
			expected: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond},
		},
		{
			name:     "capped",
			config:   Config{MaxRetries: 4, InitialDelay: time.Second, ExponentialBase: 2, MaxDelay: 3 * time.Second},
			expected: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backoff := tc.config.Backoff()
			var actual []time.Duration
			for {
				next, stop := backoff.Next()
				if stop {
					break
				}
				actual = append(actual, next)
			}
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxRetries: -1, InitialDelay: time.Second, ExponentialBase: 2}.Validate())
	assert.Error(t, Config{InitialDelay: 0, ExponentialBase: 2}.Validate())
	assert.Error(t, Config{InitialDelay: time.Second, ExponentialBase: 1}.Validate())
}

func TestExecutor_Do(t *testing.T) {
	type testCase struct {
		name             string
		maxRetries       int
		failures         int
		expectedAttempts int
		expectError      bool
	}
	for _, tc := range []testCase{
		{name: "first attempt succeeds", maxRetries: 3, failures: 0, expectedAttempts: 1},
		{name: "succeeds on retry", maxRetries: 3, failures: 2, expectedAttempts: 3},
		{name: "always failing", maxRetries: 3, failures: 100, expectedAttempts: 4, expectError: true},
		{name: "no retries", maxRetries: 0, failures: 100, expectedAttempts: 1, expectError: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			executor, err := New(Config{MaxRetries: tc.maxRetries, InitialDelay: time.Millisecond, ExponentialBase: 2})
			require.NoError(t, err)
			failure := errors.New("send failed")
			calls := 0
			attempts, err := executor.Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls <= tc.failures {
					return failure
				}
				return nil
			})
			assert.Equal(t, tc.expectedAttempts, attempts)
			assert.Equal(t, tc.expectedAttempts, calls)
			if tc.expectError {
				assert.True(t, errors.Is(err, failure))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExecutor_DoCancelled(t *testing.T) {
	executor, err := New(Config{MaxRetries: 3, InitialDelay: time.Hour, ExponentialBase: 2})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	started := time.Now()
	attempts, err := executor.Do(ctx, func(ctx context.Context) error { return errors.New("down") })
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(started), time.Second)
}
