// Package errors provides the error taxonomy shared by the worker lifecycle,
// the process manager and the transport layer.
//
// # Sentinel Errors
//
// Start and stop outcomes are reported with a small set of sentinels:
//   - ErrAbort: the process manager has been shut down
//   - ErrProcessNotFound: the host could not create a process
//   - ErrTransportFailed: a message could not be delivered, or the worker was
//     not in a state where a message could be sent
//   - ErrScriptEvaluateFailed: the worker reported that its script failed to
//     evaluate
//   - ErrInvalidState: a lifecycle method was called from the wrong status
//
// # Usage
//
//	err := errors.NewWorkerError("start failed", errors.ErrTransportFailed).
//	    WithWorkerID(7).
//	    WithProcessID(3)
//
//	if errors.Is(err, errors.ErrTransportFailed) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrAbort indicates the process manager was shut down before or while
	// a process was being allocated.
	ErrAbort = New("aborted: process manager shut down")
	// ErrProcessNotFound indicates the host failed to create a process.
	ErrProcessNotFound = New("process not found")
	// ErrTransportFailed indicates a message could not be delivered.
	ErrTransportFailed = New("transport failed")
	// ErrScriptEvaluateFailed indicates the worker script failed to evaluate.
	ErrScriptEvaluateFailed = New("script evaluation failed")
	// ErrInvalidState indicates a lifecycle call that is not legal from the
	// current status.
	ErrInvalidState = New("invalid worker state")
)

// -----------------------------------------------------------------------------
// WorkerError
// -----------------------------------------------------------------------------

// WorkerError carries a lifecycle failure together with the worker and
// process it concerns.
//
// Example:
//
//	err := errors.NewWorkerError("allocation failed", errors.ErrProcessNotFound).WithWorkerID(4)
//	fmt.Println(err) // "worker error [worker=4]: allocation failed: process not found"
type WorkerError struct {
	message   string
	cause     error
	severity  Severity
	WorkerID  int64
	ProcessID int64
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		message:  message,
		cause:    cause,
		severity: SeverityError,
		WorkerID: -1,
	}
}

// WithWorkerID adds a worker ID to the error context.
func (e *WorkerError) WithWorkerID(id int64) *WorkerError {
	e.WorkerID = id
	return e
}

// WithProcessID adds a process ID to the error context.
func (e *WorkerError) WithProcessID(id int64) *WorkerError {
	e.ProcessID = id
	return e
}

// WithSeverity sets the error severity.
func (e *WorkerError) WithSeverity(s Severity) *WorkerError {
	e.severity = s
	return e
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	var sb strings.Builder
	sb.WriteString("worker error")

	var ctx []string
	if e.WorkerID >= 0 {
		ctx = append(ctx, fmt.Sprintf("worker=%d", e.WorkerID))
	}
	if e.ProcessID > 0 {
		ctx = append(ctx, fmt.Sprintf("process=%d", e.ProcessID))
	}
	if len(ctx) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(ctx, ", "))
		sb.WriteString("]")
	}

	sb.WriteString(": ")
	sb.WriteString(e.message)
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *WorkerError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *WorkerError or matches the cause.
func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return false
}

// Severity returns the error severity.
func (e *WorkerError) Severity() Severity {
	return e.severity
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether a failed start may succeed if attempted again.
// Process creation and delivery failures are transient; an aborted manager
// and a script that does not evaluate are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrProcessNotFound) || Is(err, ErrTransportFailed)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that are not a *WorkerError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var workerErr *WorkerError
	if As(err, &workerErr) {
		return workerErr.Severity()
	}
	if Is(err, ErrAbort) {
		return SeverityInfo
	}
	return SeverityError
}

// Code returns a short stable name for a lifecycle error, suitable for
// metric labels and log fields. Unknown errors map to "unknown" and nil to
// "ok".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Is(err, ErrAbort):
		return "abort"
	case Is(err, ErrProcessNotFound):
		return "process_not_found"
	case Is(err, ErrTransportFailed):
		return "transport_failed"
	case Is(err, ErrScriptEvaluateFailed):
		return "script_evaluate_failed"
	case Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "unknown"
	}
}
