// Package transport carries start and stop requests to worker processes and
// brings their phase events back.
//
// [Transport] is the collaborator interface. [Memory] is an in-process
// implementation that plays the worker side: a start request yields the
// start phase events in order, a stop request yields a stopped event and a
// process exit yields a detached event for every worker on that process.
package transport

import "github.com/Iron-Ham/workerhost/internal/process"

// Transport delivers messages to worker processes.
type Transport interface {
	// Send delivers msg to the process. Returns false if the process is
	// unreachable; nothing is delivered in that case.
	Send(processID process.ID, msg Message) bool

	// Events returns the stream of inbound events. It is closed when the
	// transport shuts down.
	Events() <-chan Event
}
