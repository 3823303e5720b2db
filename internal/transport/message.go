package transport

import (
	"github.com/google/uuid"

	"github.com/Iron-Ham/workerhost/internal/process"
)

// MessageType identifies an outbound message.
type MessageType string

// Outbound message types.
const (
	MessageStartWorker MessageType = "start_worker"
	MessageStopWorker  MessageType = "stop_worker"
)

// Message is a request sent to a worker process. Every message carries a
// unique RequestID and the generation of the worker instance that sent it.
type Message struct {
	RequestID  string
	Type       MessageType
	WorkerID   int64
	Generation uint64

	// Start parameters, set on MessageStartWorker only.
	ScriptURL       string
	Scope           string
	RouteID         int64
	InspectionToken string
	WaitForDebugger bool
	Settings        process.Settings
}

// NewMessage creates a message of type t with a fresh request ID.
func NewMessage(t MessageType, workerID int64, generation uint64) Message {
	return Message{
		RequestID:  uuid.NewString(),
		Type:       t,
		WorkerID:   workerID,
		Generation: generation,
	}
}

// EventType identifies an inbound event from a worker process.
type EventType string

// Inbound event types, listed in the order a successful start produces them.
const (
	EventScriptReadStarted EventType = "script_read_started"
	EventNetworkAccessed   EventType = "network_accessed"
	EventScriptLoaded      EventType = "script_loaded"
	EventScriptLoadFailed  EventType = "script_load_failed"
	EventThreadStarted     EventType = "thread_started"
	EventScriptEvaluated   EventType = "script_evaluated"
	EventStarted           EventType = "started"
	EventStopped           EventType = "stopped"
	EventDetached          EventType = "detached"
	EventException         EventType = "exception"
	EventConsoleMessage    EventType = "console_message"
)

// Event is a notification from a worker process about one worker. The
// Generation echoes the start message that created the worker so stale
// events can be told apart from current ones.
type Event struct {
	Type       EventType
	ProcessID  process.ID
	WorkerID   int64
	Generation uint64

	ThreadID int64  // EventThreadStarted
	Success  bool   // EventScriptEvaluated
	Level    string // EventConsoleMessage
	Message  string // EventConsoleMessage, EventException
}
