package model

import (
	"fmt"
	"strings"
)

// Status represents decision record status
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimedOut Status = "timedOut"
	StatusErrored  Status = "errored"
)

// IsTerminal returns true if no further transition is allowed
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusTimedOut, StatusErrored:
		return true
	}
	return false
}

// IsValid returns true for known statuses
func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// String returns status text
func (s Status) String() string {
	return string(s)
}

// ParseStatus parses status, case-insensitive
func ParseStatus(text string) (Status, error) {
	for _, candidate := range []Status{StatusPending, StatusApproved, StatusRejected, StatusTimedOut, StatusErrored} {
		if strings.EqualFold(string(candidate), text) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unsupported status: %q", text)
}

// StatusOf maps a human decision to a terminal status
func StatusOf(approved bool) Status {
	if approved {
		return StatusApproved
	}
	return StatusRejected
}
