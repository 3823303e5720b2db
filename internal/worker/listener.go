package worker

import "time"

// Listener observes a worker instance. Notifications are delivered on the
// control context in registration order.
type Listener interface {
	OnStarting()
	OnPhaseChanged(previous, current Phase, elapsed time.Duration)
	OnStarted()
	OnStopping()
	OnStopped(previous Status)
	OnDetached(previous Status)
	OnScriptLoaded()
	OnScriptLoadFailed()
	OnScriptEvaluated(success bool)
	OnReportException(message string)
	OnReportConsoleMessage(level, message string)
}

// NopListener implements Listener with no-ops. Embed it to observe only some
// notifications.
type NopListener struct{}

func (NopListener) OnStarting() {}
func (NopListener) OnPhaseChanged(Phase, Phase, time.Duration) {}
func (NopListener) OnStarted() {}
func (NopListener) OnStopping() {}
func (NopListener) OnStopped(Status) {}
func (NopListener) OnDetached(Status) {}
func (NopListener) OnScriptLoaded() {}
func (NopListener) OnScriptLoadFailed() {}
func (NopListener) OnScriptEvaluated(bool) {}
func (NopListener) OnReportException(string) {}
func (NopListener) OnReportConsoleMessage(string, string) {}

type listenerEntry struct {
	listener Listener
	removed  bool
}

// listenerRegistry iterates listeners in registration order. While a
// notification runs, only the listener currently being notified may remove
// itself; it is skipped for the rest of the notification. A listener added
// during a notification first hears the next one.
type listenerRegistry struct {
	entries   []*listenerEntry
	notifying []Listener
}

func (r *listenerRegistry) add(l Listener) bool {
	if l == nil {
		return false
	}
	for _, e := range r.entries {
		if e.listener == l {
			return false
		}
	}
	r.entries = append(r.entries, &listenerEntry{listener: l})
	return true
}

func (r *listenerRegistry) remove(l Listener) bool {
	if n := len(r.notifying); n > 0 && r.notifying[n-1] != l {
		return false
	}
	for i, e := range r.entries {
		if e.listener != l {
			continue
		}
		e.removed = true
		remaining := make([]*listenerEntry, 0, len(r.entries)-1)
		remaining = append(remaining, r.entries[:i]...)
		remaining = append(remaining, r.entries[i+1:]...)
		r.entries = remaining
		return true
	}
	return false
}

func (r *listenerRegistry) len() int { return len(r.entries) }

func (r *listenerRegistry) notify(fn func(Listener)) {
	snapshot := r.entries
	for _, e := range snapshot {
		if e.removed {
			continue
		}
		r.notifying = append(r.notifying, e.listener)
		fn(e.listener)
		r.notifying = r.notifying[:len(r.notifying)-1]
	}
}
