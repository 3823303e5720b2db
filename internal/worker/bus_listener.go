package worker

import (
	"time"

	"github.com/Iron-Ham/workerhost/internal/event"
)

// BusListener republishes one instance's notifications on an event bus.
type BusListener struct {
	workerID ID
	bus      *event.Bus
	status   Status
}

// NewBusListener creates a listener for the worker with the given ID.
func NewBusListener(workerID ID, bus *event.Bus) *BusListener {
	return &BusListener{workerID: workerID, bus: bus}
}

func (b *BusListener) transition(to Status, detached bool) {
	from := b.status
	b.status = to
	b.bus.Publish(event.NewWorkerStatusChangedEvent(int64(b.workerID), from.String(), to.String(), detached))
}

// OnStarting implements Listener.
func (b *BusListener) OnStarting() { b.transition(StatusStarting, false) }

// OnPhaseChanged implements Listener.
func (b *BusListener) OnPhaseChanged(previous, current Phase, elapsed time.Duration) {
	b.bus.Publish(event.NewWorkerPhaseChangedEvent(int64(b.workerID), previous.String(), current.String(), elapsed))
}

// OnStarted implements Listener.
func (b *BusListener) OnStarted() { b.transition(StatusRunning, false) }

// OnStopping implements Listener.
func (b *BusListener) OnStopping() { b.transition(StatusStopping, false) }

// OnStopped implements Listener.
func (b *BusListener) OnStopped(previous Status) {
	b.status = previous
	b.transition(StatusStopped, false)
}

// OnDetached implements Listener.
func (b *BusListener) OnDetached(previous Status) {
	b.status = previous
	b.transition(StatusStopped, true)
}

// OnScriptLoaded implements Listener.
func (b *BusListener) OnScriptLoaded() {}

// OnScriptLoadFailed implements Listener.
func (b *BusListener) OnScriptLoadFailed() {
	b.bus.Publish(event.NewWorkerConsoleEvent(int64(b.workerID), "error", "script load failed", true))
}

// OnScriptEvaluated implements Listener.
func (b *BusListener) OnScriptEvaluated(bool) {}

// OnReportException implements Listener.
func (b *BusListener) OnReportException(message string) {
	b.bus.Publish(event.NewWorkerConsoleEvent(int64(b.workerID), "error", message, true))
}

// OnReportConsoleMessage implements Listener.
func (b *BusListener) OnReportConsoleMessage(level, message string) {
	b.bus.Publish(event.NewWorkerConsoleEvent(int64(b.workerID), level, message, false))
}

var _ Listener = (*BusListener)(nil)
