// Package timeout schedules one expiry callback per pending request.
package timeout

import (
	"sync"
	"time"
)

// Func is invoked once when the deadline of id passes
type Func func(id string)

type entry struct {
	timer    *time.Timer
	deadline time.Time
	seq      uint64
}

// Supervisor keeps at most one armed timer per id
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	now     func() time.Time
	stopped bool
}

// Arm schedules fn at deadline, replacing any timer armed for id. A deadline
// in the past fires immediately on a separate goroutine.
func (s *Supervisor) Arm(id string, deadline time.Time, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if previous, ok := s.entries[id]; ok {
		previous.timer.Stop()
	}
	s.seq++
	seq := s.seq
	delay := deadline.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.entries[id] = &entry{
		deadline: deadline,
		seq:      seq,
		timer: time.AfterFunc(delay, func() {
			if s.expire(id, seq) {
				fn(id)
			}
		}),
	}
}

// Disarm cancels the timer for id; it returns false if none was armed
func (s *Supervisor) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[id]
	if !ok {
		return false
	}
	current.timer.Stop()
	delete(s.entries, id)
	return true
}

// Deadline returns armed deadline for id
func (s *Supervisor) Deadline(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return current.deadline, true
}

// Armed returns number of armed timers
func (s *Supervisor) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop disarms every timer; later Arm calls are ignored
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, current := range s.entries {
		current.timer.Stop()
		delete(s.entries, id)
	}
}

func (s *Supervisor) expire(id string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[id]
	if !ok || current.seq != seq {
		return false
	}
	delete(s.entries, id)
	return true
}

// New creates a supervisor; now defaults to time.Now
func New(now func() time.Time) *Supervisor {
	if now == nil {
		now = time.Now
	}
	return &Supervisor{entries: make(map[string]*entry), now: now}
}
