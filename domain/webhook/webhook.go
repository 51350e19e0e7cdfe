// Package webhook provides value types and pure functions for the inbound
// webhook event ledger. Every verified provider event is recorded so that
// redeliveries of already processed events can be acknowledged without
// running their handlers again.
// All types are immutable values; all functions are pure.
package webhook

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an event is not in the ledger.
var ErrNotFound = errors.New("webhook event not found")

// Status is the processing state of a received event.
type Status string

const (
	StatusReceived  Status = "received"  // Verified, dispatch in progress
	StatusProcessed Status = "processed" // Handler completed
	StatusFailed    Status = "failed"    // Handler returned an error
	StatusIgnored   Status = "ignored"   // No handler for the type
)

// Entry is one ledger row (value type).
type Entry struct {
	EventID     string
	EventType   string
	Status      Status
	Attempts    int
	Error       string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// maxErrorLen bounds the stored error text.
const maxErrorLen = 1024

// ShouldDispatch reports whether a redelivered event must run its handler again.
// Events that completed (or were ignored) are acknowledged as duplicates;
// failed and in-flight events are dispatched again.
// This is a PURE function.
func ShouldDispatch(prior Entry, seen bool) bool {
	if !seen {
		return true
	}
	switch prior.Status {
	case StatusProcessed, StatusIgnored:
		return false
	}
	return true
}

// Outcome maps a handler result to the ledger status.
// This is a PURE function.
func Outcome(handled bool, err error) (Status, string) {
	switch {
	case err != nil:
		return StatusFailed, Truncate(err.Error())
	case !handled:
		return StatusIgnored, ""
	}
	return StatusProcessed, ""
}

// Truncate bounds an error message for storage.
// This is a PURE function.
func Truncate(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen-3] + "..."
}
