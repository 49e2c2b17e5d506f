// Package agenterr defines the closed set of error kinds the agent core
// surfaces to callers. Every provider-facing error carries a trace id so a
// user can deep-link from a visible error message to the matching log lines.
package agenterr

import "fmt"

// Cancelled is returned when a request observes a cancellation signal.
type Cancelled struct {
	TraceID string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("[trace_id=%s] cancelled", e.TraceID)
}

// ProviderFailure wraps a classified provider error that could not be
// recovered via fallback.
type ProviderFailure struct {
	TraceID  string
	Category string
	Summary  string
}

func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("[trace_id=%s] provider failure (%s): %s", e.TraceID, e.Category, e.Summary)
}

// CapabilityExhausted is returned when the fallback planner has no further
// steps to offer for the last classified category.
type CapabilityExhausted struct {
	TraceID      string
	LastCategory string
}

func (e *CapabilityExhausted) Error() string {
	return fmt.Sprintf("[trace_id=%s] capability exhausted after %s", e.TraceID, e.LastCategory)
}

// FilesystemRefusal is returned by the safety journal or tool surface when a
// path fails the workspace-containment or symlink checks, or exceeds a size
// cap.
type FilesystemRefusal struct {
	TraceID string
	Reason  string
}

func (e *FilesystemRefusal) Error() string {
	if e.TraceID == "" {
		return fmt.Sprintf("filesystem refusal: %s", e.Reason)
	}
	return fmt.Sprintf("[trace_id=%s] filesystem refusal: %s", e.TraceID, e.Reason)
}

// EncodingCorruption is returned by the encoding gate when a payload is not
// valid UTF-8 or contains a forbidden code point.
type EncodingCorruption struct {
	Reason string
}

func (e *EncodingCorruption) Error() string {
	return fmt.Sprintf("encoding corruption: %s", e.Reason)
}

// PendingMissing is returned when an operation expects a pending-writes
// directory for a trace that does not exist.
type PendingMissing struct {
	TraceID string
}

func (e *PendingMissing) Error() string {
	return fmt.Sprintf("[trace_id=%s] no pending writes", e.TraceID)
}

// SnapshotConflict is returned when an apply is attempted twice for the same
// trace id.
type SnapshotConflict struct {
	TraceID string
}

func (e *SnapshotConflict) Error() string {
	return fmt.Sprintf("[trace_id=%s] snapshot already exists for this trace", e.TraceID)
}

// TracedError wraps an arbitrary cause with a trace id for display.
type TracedError struct {
	TraceID string
	Cause   error
}

func (e *TracedError) Error() string {
	return fmt.Sprintf("[trace_id=%s] %v", e.TraceID, e.Cause)
}

func (e *TracedError) Unwrap() error {
	return e.Cause
}

// Traced wraps cause in a TracedError unless cause is already nil.
func Traced(traceID string, cause error) error {
	if cause == nil {
		return nil
	}
	return &TracedError{TraceID: traceID, Cause: cause}
}
