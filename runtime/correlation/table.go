package correlation

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/metrics"
)

// ErrDuplicateID is returned when registering an id that is already present
var ErrDuplicateID = errors.New("correlation: duplicate id")

// Table holds live correlation entries. Removing an entry is the
// linearisation point between a callback and a timeout for the same id.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Handle
	logger  *slog.Logger
}

// Register creates a handle for id
func (t *Table) Register(id string) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return nil, ErrDuplicateID
	}
	handle := newHandle(id)
	t.entries[id] = handle
	metrics.PendingWaiters.Set(float64(len(t.entries)))
	return handle, nil
}

// Resolve fulfils and removes the entry; it returns false when no entry exists
func (t *Table) Resolve(id string, outcome model.Outcome) bool {
	handle, ok := t.remove(id)
	if !ok {
		t.logger.Debug("no waiter for resolved id", "id", id, "status", outcome.Status)
		return false
	}
	return handle.Fulfil(outcome)
}

// Cancel removes the entry without fulfilling it; waiters get ErrCancelled
func (t *Table) Cancel(id string) bool {
	handle, ok := t.remove(id)
	if !ok {
		return false
	}
	handle.Cancel()
	return true
}

// Take removes the entry without completing it; the caller owns the handle
// and must complete or Restore it
func (t *Table) Take(id string) (*Handle, bool) {
	return t.remove(id)
}

// Restore puts back a handle obtained by Take
func (t *Table) Restore(handle *Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[handle.ID]; ok {
		return ErrDuplicateID
	}
	t.entries[handle.ID] = handle
	metrics.PendingWaiters.Set(float64(len(t.entries)))
	return nil
}

// Lookup returns live handle for id
func (t *Table) Lookup(id string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle, ok := t.entries[id]
	return handle, ok
}

// Contains returns true if id has a live entry
func (t *Table) Contains(id string) bool {
	_, ok := t.Lookup(id)
	return ok
}

// Len returns number of live entries
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// IDs returns sorted live ids
func (t *Table) IDs() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (t *Table) remove(id string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	metrics.PendingWaiters.Set(float64(len(t.entries)))
	return handle, true
}

// NewTable creates an empty table
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{entries: make(map[string]*Handle), logger: logger}
}
