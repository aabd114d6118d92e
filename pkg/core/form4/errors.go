package form4

import (
	"fmt"
	"time"
)

// ThrottledError reports an upstream rate-limit response (HTTP 429/503).
// Callers retry with backoff up to a bounded attempt count, then surface the
// failure at batch level while keeping everything already merged.
type ThrottledError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("upstream throttled request (status %d): %s", e.StatusCode, e.URL)
}

// MalformedDocumentError reports a single filing that could not be parsed.
// It never aborts a batch; syncs count it as a skip and continue.
type MalformedDocumentError struct {
	AccessionNumber string
	Reason          string
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed filing document %s: %s", e.AccessionNumber, e.Reason)
}

// TransportError wraps a network or timeout failure talking to the upstream.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StateCorruptionError reports unreadable persisted cache state. The engine
// fails closed: the error surfaces instead of repairing or partially trusting
// the stored bytes, and the operator resets the scope explicitly.
type StateCorruptionError struct {
	Key string
	Err error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache state %q: %v", e.Key, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }
