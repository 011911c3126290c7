package idgen

import "github.com/google/uuid"

// NewFunc generates opaque identifiers; tests may replace it.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier.
func New() string { return NewFunc() }

// Short returns the first n characters of a new identifier, used where the
// identifier ends up in a human facing URL.
func Short(n int) string {
	id := New()
	if n <= 0 || n >= len(id) {
		return id
	}
	return id[:n]
}
