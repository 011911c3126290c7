package fs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs/file"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/service/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(context.Background(), t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, &model.Record{ID: "r1", ActionRef: "deploy", Status: model.StatusPending}))

	reopened, err := New(ctx, dir)
	require.NoError(t, err)
	pending, err := reopened.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "deploy", pending[0].ActionRef)
}

func TestStore_SharedBasePath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	server, err := New(ctx, dir)
	require.NoError(t, err)
	operator, err := New(ctx, dir)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, server.Save(ctx, model.NewRecord(id, "deploy", "", time.Now(), time.Minute)))

		var resolved atomic.Int32
		var wg sync.WaitGroup
		resolve := func(s *Store, status model.Status, decidedBy string) {
			defer wg.Done()
			_, err := s.MarkResolved(ctx, id, &store.Resolution{Status: status, DecidedBy: decidedBy, ResolvedAt: time.Now()})
			if err == nil {
				resolved.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrConflict)
		}
		wg.Add(3)
		go resolve(server, model.StatusTimedOut, model.DecidedBySystemTimeout)
		go resolve(operator, model.StatusApproved, "alice")
		go func() {
			defer wg.Done()
			assert.NoError(t, server.RecordDelivery(ctx, id, &store.Delivery{Attempts: 1, LastError: "boom"}))
		}()
		wg.Wait()

		assert.EqualValues(t, 1, resolved.Load(), id)
		record, err := operator.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, record.Status.IsTerminal(), id)
	}
}

func TestStore_Lock(t *testing.T) {
	var testCases = []struct {
		description string
		basePath    func(t *testing.T) string
	}{
		{description: "local directory", basePath: func(t *testing.T) string { return t.TempDir() }},
		{description: "memory scheme", basePath: func(t *testing.T) string { return "mem://localhost/hitloop/lock/" + fmt.Sprint(time.Now().UnixNano()) }},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			basePath := tc.basePath(t)
			owner, err := New(ctx, basePath)
			require.NoError(t, err)
			other, err := New(ctx, basePath, WithLockTimeout(30*time.Millisecond))
			require.NoError(t, err)
			require.NoError(t, owner.Save(ctx, model.NewRecord("r1", "deploy", "", time.Now(), time.Minute)))

			unlock, err := owner.lock(ctx, "r1")
			require.NoError(t, err)
			approve := &store.Resolution{Status: model.StatusApproved, DecidedBy: "alice", ResolvedAt: time.Now()}
			_, err = other.MarkResolved(ctx, "r1", approve)
			assert.ErrorIs(t, err, ErrLocked)
			assert.ErrorIs(t, other.RecordDelivery(ctx, "r1", &store.Delivery{Attempts: 1}), ErrLocked)

			unlock()
			record, err := other.MarkResolved(ctx, "r1", approve)
			require.NoError(t, err)
			assert.Equal(t, model.StatusApproved, record.Status)
		})
	}
}

func TestStore_StaleLock(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, t.TempDir(), WithLockTimeout(time.Second))
	require.NoError(t, err)
	s.staleLock = 10 * time.Millisecond
	require.NoError(t, s.Save(ctx, model.NewRecord("r1", "deploy", "", time.Now(), time.Minute)))

	lockPath := file.Path(s.lockURL("r1"))
	require.NoError(t, os.WriteFile(lockPath, nil, 0644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	record, err := s.MarkResolved(ctx, "r1", &store.Resolution{Status: model.StatusRejected, DecidedBy: "bob", ResolvedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, record.Status)
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
