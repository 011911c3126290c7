package correlation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitloop/internal/logging"
	"github.com/viant/hitloop/model"
)

func TestTable_Register(t *testing.T) {
	table := NewTable(logging.Discard())
	handle, err := table.Register("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", handle.ID)

	_, err = table.Register("r1")
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, []string{"r1"}, table.IDs())
}

func TestTable_Resolve(t *testing.T) {
	table := NewTable(logging.Discard())
	handle, err := table.Register("r1")
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		table.Resolve("r1", model.Outcome{ID: "r1", Status: model.StatusApproved, DecidedBy: "alice"})
	}()
	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, outcome.Status)
	assert.False(t, table.Contains("r1"))

	assert.False(t, table.Resolve("r1", model.Outcome{Status: model.StatusRejected}))
	outcome, err = handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, outcome.Status)
}

func TestTable_Cancel(t *testing.T) {
	table := NewTable(logging.Discard())
	handle, err := table.Register("r1")
	require.NoError(t, err)

	assert.True(t, table.Cancel("r1"))
	assert.False(t, table.Cancel("r1"))
	_, err = handle.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.False(t, table.Resolve("r1", model.Outcome{Status: model.StatusApproved}))

	_, err = table.Register("r1")
	assert.NoError(t, err)
}

func TestHandle_WaitContext(t *testing.T) {
	table := NewTable(logging.Discard())
	handle, err := table.Register("r1")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = handle.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, table.Contains("r1"))
}

func TestTable_ConcurrentResolve(t *testing.T) {
	table := NewTable(logging.Discard())
	handle, err := table.Register("r1")
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := model.StatusApproved
			if i%2 == 0 {
				status = model.StatusTimedOut
			}
			if table.Resolve("r1", model.Outcome{Status: status}) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	select {
	case <-handle.Done():
	default:
		t.Fatal("handle not completed")
	}
}

func TestTable_TakeRestore(t *testing.T) {
	table := NewTable(logging.Discard())
	handle, err := table.Register("r1")
	require.NoError(t, err)

	taken, ok := table.Take("r1")
	require.True(t, ok)
	assert.Same(t, handle, taken)
	assert.False(t, table.Cancel("r1"))
	_, ok = table.Take("r1")
	assert.False(t, ok)

	require.NoError(t, table.Restore(taken))
	assert.True(t, errors.Is(table.Restore(taken), ErrDuplicateID))
	assert.True(t, table.Resolve("r1", model.Outcome{ID: "r1", Status: model.StatusRejected}))
	outcome, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, outcome.Status)
}
