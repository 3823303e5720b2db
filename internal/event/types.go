package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "worker.status_changed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeProcessAllocated        = "process.allocated"
	TypeProcessAllocationFailed = "process.allocation_failed"
	TypeProcessReleased         = "process.released"
	TypeWorkerStatusChanged     = "worker.status_changed"
	TypeWorkerPhaseChanged      = "worker.phase_changed"
	TypeWorkerConsole           = "worker.console"
	TypeScriptChanged           = "script.changed"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Process Allocation Events
// -----------------------------------------------------------------------------

// ProcessAllocatedEvent is emitted when a worker is assigned a host process.
type ProcessAllocatedEvent struct {
	baseEvent
	WorkerID  int64
	ProcessID int64
	Scope     string
	IsNew     bool // True if the process was created for this allocation
}

// NewProcessAllocatedEvent creates a ProcessAllocatedEvent.
func NewProcessAllocatedEvent(workerID, processID int64, scope string, isNew bool) ProcessAllocatedEvent {
	return ProcessAllocatedEvent{
		baseEvent: newBaseEvent(TypeProcessAllocated),
		WorkerID:  workerID,
		ProcessID: processID,
		Scope:     scope,
		IsNew:     isNew,
	}
}

// ProcessAllocationFailedEvent is emitted when an allocation request cannot
// be satisfied.
type ProcessAllocationFailedEvent struct {
	baseEvent
	WorkerID int64
	Scope    string
	Reason   string // Error code, e.g. "abort" or "process_not_found"
}

// NewProcessAllocationFailedEvent creates a ProcessAllocationFailedEvent.
func NewProcessAllocationFailedEvent(workerID int64, scope, reason string) ProcessAllocationFailedEvent {
	return ProcessAllocationFailedEvent{
		baseEvent: newBaseEvent(TypeProcessAllocationFailed),
		WorkerID:  workerID,
		Scope:     scope,
		Reason:    reason,
	}
}

// ProcessReleasedEvent is emitted when a worker gives its process back.
type ProcessReleasedEvent struct {
	baseEvent
	WorkerID  int64
	ProcessID int64
}

// NewProcessReleasedEvent creates a ProcessReleasedEvent.
func NewProcessReleasedEvent(workerID, processID int64) ProcessReleasedEvent {
	return ProcessReleasedEvent{
		baseEvent: newBaseEvent(TypeProcessReleased),
		WorkerID:  workerID,
		ProcessID: processID,
	}
}

// -----------------------------------------------------------------------------
// Worker Lifecycle Events
// -----------------------------------------------------------------------------

// WorkerStatusChangedEvent is emitted when a worker instance changes status.
type WorkerStatusChangedEvent struct {
	baseEvent
	WorkerID       int64
	PreviousStatus string
	CurrentStatus  string
	Detached       bool // True when the stop was a forced teardown
}

// NewWorkerStatusChangedEvent creates a WorkerStatusChangedEvent.
func NewWorkerStatusChangedEvent(workerID int64, previous, current string, detached bool) WorkerStatusChangedEvent {
	return WorkerStatusChangedEvent{
		baseEvent:      newBaseEvent(TypeWorkerStatusChanged),
		WorkerID:       workerID,
		PreviousStatus: previous,
		CurrentStatus:  current,
		Detached:       detached,
	}
}

// WorkerPhaseChangedEvent is emitted as a starting worker advances through
// its start phases.
type WorkerPhaseChangedEvent struct {
	baseEvent
	WorkerID      int64
	PreviousPhase string
	CurrentPhase  string
	Elapsed       time.Duration // Time spent in the previous phase
}

// NewWorkerPhaseChangedEvent creates a WorkerPhaseChangedEvent.
func NewWorkerPhaseChangedEvent(workerID int64, previous, current string, elapsed time.Duration) WorkerPhaseChangedEvent {
	return WorkerPhaseChangedEvent{
		baseEvent:     newBaseEvent(TypeWorkerPhaseChanged),
		WorkerID:      workerID,
		PreviousPhase: previous,
		CurrentPhase:  current,
		Elapsed:       elapsed,
	}
}

// WorkerConsoleEvent carries console output or an uncaught exception reported
// by a worker script.
type WorkerConsoleEvent struct {
	baseEvent
	WorkerID  int64
	Level     string
	Message   string
	Exception bool
}

// NewWorkerConsoleEvent creates a WorkerConsoleEvent.
func NewWorkerConsoleEvent(workerID int64, level, message string, exception bool) WorkerConsoleEvent {
	return WorkerConsoleEvent{
		baseEvent: newBaseEvent(TypeWorkerConsole),
		WorkerID:  workerID,
		Level:     level,
		Message:   message,
		Exception: exception,
	}
}

// -----------------------------------------------------------------------------
// Script Events
// -----------------------------------------------------------------------------

// ScriptChangedEvent is emitted when a watched worker script changes on disk.
type ScriptChangedEvent struct {
	baseEvent
	Path string
	Op   string // fsnotify operation, e.g. "WRITE" or "REMOVE"
}

// NewScriptChangedEvent creates a ScriptChangedEvent.
func NewScriptChangedEvent(path, op string) ScriptChangedEvent {
	return ScriptChangedEvent{
		baseEvent: newBaseEvent(TypeScriptChanged),
		Path:      path,
		Op:        op,
	}
}
