package timeout

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisor_Fires(t *testing.T) {
	supervisor := New(nil)
	fired := make(chan string, 1)
	supervisor.Arm("r1", time.Now().Add(10*time.Millisecond), func(id string) { fired <- id })
	assert.Equal(t, 1, supervisor.Armed())

	select {
	case id := <-fired:
		assert.Equal(t, "r1", id)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, supervisor.Armed())
}

func TestSupervisor_PastDeadline(t *testing.T) {
	supervisor := New(nil)
	fired := make(chan string, 1)
	supervisor.Arm("r1", time.Now().Add(-time.Minute), func(id string) { fired <- id })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSupervisor_Disarm(t *testing.T) {
	supervisor := New(nil)
	var calls int32
	supervisor.Arm("r1", time.Now().Add(20*time.Millisecond), func(string) { atomic.AddInt32(&calls, 1) })
	assert.True(t, supervisor.Disarm("r1"))
	assert.False(t, supervisor.Disarm("r1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSupervisor_Rearm(t *testing.T) {
	supervisor := New(nil)
	var mu sync.Mutex
	var fired []string
	record := func(tag string) Func {
		return func(string) {
			mu.Lock()
			fired = append(fired, tag)
			mu.Unlock()
		}
	}
	supervisor.Arm("r1", time.Now().Add(10*time.Millisecond), record("first"))
	deadline := time.Now().Add(30 * time.Millisecond)
	supervisor.Arm("r1", deadline, record("second"))
	armed, ok := supervisor.Deadline("r1")
	assert.True(t, ok)
	assert.Equal(t, deadline, armed)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"second"}, fired)
	mu.Unlock()
}

func TestSupervisor_Stop(t *testing.T) {
	supervisor := New(nil)
	var calls int32
	supervisor.Arm("r1", time.Now().Add(10*time.Millisecond), func(string) { atomic.AddInt32(&calls, 1) })
	supervisor.Stop()
	supervisor.Arm("r2", time.Now(), func(string) { atomic.AddInt32(&calls, 1) })
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, supervisor.Armed())
}
