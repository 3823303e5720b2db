// Package worker implements the worker instance lifecycle.
//
// An [Instance] moves through
//
//	stopped -> starting -> running -> stopping -> stopped
//
// and falls back from starting to stopped when a start fails. While
// starting it reports phases in a fixed order: AllocatingProcess,
// RegisteringInspection, SentStartMessage, ScriptDownloading, ScriptLoaded,
// ThreadStarted, ScriptEvaluated. Phase events that arrive out of order are
// dropped.
//
// Start hands the work to a start sequence that allocates a process from the
// process manager, registers an inspection route and sends the start message.
// Each hop crosses between the control and host execution contexts and
// carries the instance's generation, which Start bumps. Anything that comes
// back for an older generation, or after Stop cancelled the sequence, is
// ignored. Stop during a start never resolves the start callback; listeners
// see the stop instead.
//
// # Main Types
//
//   - [Instance]: the per-worker state machine
//   - [Listener], [NopListener]: lifecycle observers, notified in registration order
//   - [BusListener]: republishes notifications as [event] bus events
//   - [Router]: applies inbound transport events on the control context
//
// All Instance methods must run on the control context.
package worker
