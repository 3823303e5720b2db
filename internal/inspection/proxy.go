package inspection

import (
	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/process"
)

// Proxy forwards one worker's inspection notifications from the control
// context to the registry on the host context. It is created once the
// worker's process and route are known and closed when the worker stops.
//
// A Proxy belongs to the control context and is not safe for concurrent use.
type Proxy struct {
	registry  Registry
	hostCtx   executor.Executor
	processID process.ID
	routeID   int64

	stopIgnoredNotified bool
	closed              bool
}

// NewProxy creates a Proxy for the worker at (processID, routeID).
func NewProxy(registry Registry, hostCtx executor.Executor, processID process.ID, routeID int64) *Proxy {
	return &Proxy{
		registry:  registry,
		hostCtx:   hostCtx,
		processID: processID,
		routeID:   routeID,
	}
}

// ProcessID returns the process the proxied worker runs in.
func (p *Proxy) ProcessID() process.ID { return p.processID }

// RouteID returns the proxied worker's route.
func (p *Proxy) RouteID() int64 { return p.routeID }

// NotifyReadyForInspection tells the registry the worker can be attached to.
func (p *Proxy) NotifyReadyForInspection() {
	p.post(Registry.NotifyReady)
}

// NotifyVersionInstalled tells the registry the worker's script version was
// installed.
func (p *Proxy) NotifyVersionInstalled() {
	p.post(Registry.NotifyInstalled)
}

// NotifyVersionDoomed tells the registry the worker's script version will be
// replaced.
func (p *Proxy) NotifyVersionDoomed() {
	p.post(Registry.NotifyDoomed)
}

// NotifyStopIgnored tells the registry an idle stop was skipped because a
// debugger is attached. Only the first call per proxy is forwarded.
func (p *Proxy) NotifyStopIgnored() {
	if p.stopIgnoredNotified {
		return
	}
	p.stopIgnoredNotified = true
	p.post(Registry.NotifyStopIgnored)
}

// Close posts the final destroyed notification. Later calls, and any
// notification after Close, are dropped.
func (p *Proxy) Close() {
	if p == nil || p.closed {
		return
	}
	p.post(Registry.NotifyDestroyed)
	p.closed = true
}

func (p *Proxy) post(notify func(Registry, process.ID, int64)) {
	if p == nil || p.closed {
		return
	}
	registry, processID, routeID := p.registry, p.processID, p.routeID
	p.hostCtx.Post(func() { notify(registry, processID, routeID) })
}
