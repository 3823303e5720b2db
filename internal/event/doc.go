// Package event provides a pub-sub event bus that lets observers follow the
// worker host without depending on its internals.
//
// The process manager publishes allocation events from the host context,
// worker instances publish status, phase and console events from the control
// context, and the script watcher publishes file changes from its own
// goroutine. Handlers run synchronously on the publishing goroutine.
//
// # Main Types
//
//   - [Event]: Interface that all events implement (EventType, Timestamp)
//   - [Bus]: Synchronous dispatcher, safe for concurrent use
//   - [Handler]: Function type for event handlers
//
// # Event Types
//
//   - process.allocated, process.allocation_failed, process.released
//   - worker.status_changed, worker.phase_changed, worker.console
//   - script.changed
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	id := bus.Subscribe(event.TypeWorkerStatusChanged, func(e event.Event) {
//	    changed := e.(event.WorkerStatusChangedEvent)
//	    fmt.Println(changed.WorkerID, changed.CurrentStatus)
//	})
//	defer bus.Unsubscribe(id)
package event
