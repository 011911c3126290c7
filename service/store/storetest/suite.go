// Package storetest provides a conformance suite run against every
// store.Store adapter.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
)

// Factory creates an empty store for a single test
type Factory func(t *testing.T) store.Store

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecord(id, threadRef string, offset time.Duration) *model.Record {
	record := model.NewRecord(id, "action-"+id, threadRef, baseTime.Add(offset), 5*time.Minute)
	record.Metadata = map[string]string{"tool": "shell"}
	return record
}

// Run executes the conformance suite
func Run(t *testing.T, factory Factory) {
	t.Run("save and get", func(t *testing.T) { testSaveGet(t, factory(t)) })
	t.Run("validation", func(t *testing.T) { testValidation(t, factory(t)) })
	t.Run("list pending", func(t *testing.T) { testListPending(t, factory(t)) })
	t.Run("mark resolved", func(t *testing.T) { testMarkResolved(t, factory(t)) })
	t.Run("record delivery", func(t *testing.T) { testRecordDelivery(t, factory(t)) })
	t.Run("concurrent resolution", func(t *testing.T) { testConcurrentResolution(t, factory(t)) })
}

func testSaveGet(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	record := newRecord("r1", "t1", 0)
	require.NoError(t, s.Save(ctx, record))

	actual, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, actual.ID)
	assert.Equal(t, record.ActionRef, actual.ActionRef)
	assert.Equal(t, record.ThreadRef, actual.ThreadRef)
	assert.Equal(t, model.StatusPending, actual.Status)
	assert.True(t, record.CreatedAt.Equal(actual.CreatedAt))
	assert.True(t, record.DeadlineAt.Equal(actual.DeadlineAt))
	assert.Nil(t, actual.ResolvedAt)
	assert.Equal(t, "shell", actual.Metadata["tool"])

	record.ActionRef = "updated"
	require.NoError(t, s.Save(ctx, record))
	actual, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "updated", actual.ActionRef)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testValidation(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	assert.True(t, errors.Is(s.Save(ctx, nil), store.ErrNilRecord))
	assert.True(t, errors.Is(s.Save(ctx, &model.Record{}), store.ErrInvalidID))

	require.NoError(t, s.Save(ctx, newRecord("r1", "", 0)))
	_, err := s.MarkResolved(ctx, "r1", &store.Resolution{Status: model.StatusPending})
	assert.True(t, errors.Is(err, store.ErrInvalidStatus))
}

func testListPending(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRecord("r3", "t2", 3*time.Second)))
	require.NoError(t, s.Save(ctx, newRecord("r1", "t1", time.Second)))
	require.NoError(t, s.Save(ctx, newRecord("r2", "t1", 2*time.Second)))
	require.NoError(t, s.Save(ctx, newRecord("r4", "t1", 4*time.Second)))
	_, err := s.MarkResolved(ctx, "r4", &store.Resolution{Status: model.StatusApproved, DecidedBy: "bob", ResolvedAt: baseTime})
	require.NoError(t, err)

	type testCase struct {
		name      string
		threadRef string
		expected  []string
	}
	for _, tc := range []testCase{
		{name: "all", expected: []string{"r1", "r2", "r3"}},
		{name: "thread", threadRef: "t1", expected: []string{"r1", "r2"}},
		{name: "unknown thread", threadRef: "t9", expected: []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			records, err := s.ListPending(ctx, tc.threadRef)
			require.NoError(t, err)
			ids := make([]string, 0, len(records))
			for _, record := range records {
				ids = append(ids, record.ID)
			}
			assert.Equal(t, tc.expected, ids)
		})
	}
}

func testMarkResolved(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRecord("r1", "", 0)))
	resolvedAt := baseTime.Add(time.Minute)

	resolved, err := s.MarkResolved(ctx, "r1", &store.Resolution{Status: model.StatusApproved, DecidedBy: "alice", Reason: "ok", ResolvedAt: resolvedAt})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resolved.Status)
	assert.Equal(t, "alice", resolved.DecidedBy)

	actual, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, actual.Status)
	assert.Equal(t, "ok", actual.Reason)
	require.NotNil(t, actual.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*actual.ResolvedAt))

	type testCase struct {
		name        string
		status      model.Status
		sameOutcome bool
	}
	for _, tc := range []testCase{
		{name: "same outcome", status: model.StatusApproved, sameOutcome: true},
		{name: "different outcome", status: model.StatusRejected, sameOutcome: false},
		{name: "timeout after approval", status: model.StatusTimedOut, sameOutcome: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.MarkResolved(ctx, "r1", &store.Resolution{Status: tc.status, DecidedBy: "carol", ResolvedAt: resolvedAt})
			require.Error(t, err)
			assert.True(t, errors.Is(err, store.ErrConflict))
			conflict, ok := store.AsConflict(err)
			require.True(t, ok)
			assert.Equal(t, tc.sameOutcome, conflict.SameOutcome())
			assert.Equal(t, model.StatusApproved, conflict.Existing)
			assert.Equal(t, "alice", conflict.DecidedBy)
		})
	}

	actual, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, actual.Status)

	_, err = s.MarkResolved(ctx, "missing", &store.Resolution{Status: model.StatusApproved})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testRecordDelivery(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRecord("r1", "", 0)))

	require.NoError(t, s.RecordDelivery(ctx, "r1", &store.Delivery{Attempts: 3, LastError: "boom"}))
	require.NoError(t, s.RecordDelivery(ctx, "r1", &store.Delivery{Attempts: 1}))
	actual, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, actual.DeliveryAttempts)
	assert.Equal(t, "", actual.LastDeliveryError)

	_, err = s.MarkResolved(ctx, "r1", &store.Resolution{Status: model.StatusRejected, ResolvedAt: baseTime})
	require.NoError(t, err)
	require.NoError(t, s.RecordDelivery(ctx, "r1", &store.Delivery{Attempts: 7}))
	actual, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, actual.DeliveryAttempts)
	assert.Equal(t, model.StatusRejected, actual.Status)

	assert.True(t, errors.Is(s.RecordDelivery(ctx, "missing", &store.Delivery{Attempts: 1}), store.ErrNotFound))
}

func testConcurrentResolution(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRecord("r1", "", 0)))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := model.StatusApproved
			if i%2 == 1 {
				status = model.StatusTimedOut
			}
			_, err := s.MarkResolved(ctx, "r1", &store.Resolution{Status: status, DecidedBy: fmt.Sprintf("w%d", i), ResolvedAt: baseTime})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, store.ErrConflict), err)
	}
	assert.Equal(t, 1, succeeded)
}
