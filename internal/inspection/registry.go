// Package inspection connects worker instances to the external debugger
// subsystem.
//
// A [Registry] lives on the host context. Worker start sequences obtain a
// [Route] from it with [RequestRoute]; afterwards the control context talks
// to it only through a [Proxy], whose notifications are fire-and-forget.
package inspection

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/process"
)

// Route addresses one worker inside the inspection subsystem.
type Route struct {
	RouteID         int64
	Token           string // Opaque token a debugger presents to attach
	WaitForDebugger bool   // Pause the worker before evaluating its script
}

// Registry is the inspection subsystem. All methods are called on the host
// context.
type Registry interface {
	CreateRoute(processID process.ID) Route
	NotifyReady(processID process.ID, routeID int64)
	NotifyInstalled(processID process.ID, routeID int64)
	NotifyDoomed(processID process.ID, routeID int64)
	NotifyStopIgnored(processID process.ID, routeID int64)
	NotifyDestroyed(processID process.ID, routeID int64)
}

// RequestRoute asks registry for a route on the host context and delivers it
// to cb on the reply context. Returns false if either context is closed, in
// which case cb never runs.
func RequestRoute(hostCtx, replyCtx executor.Executor, registry Registry, processID process.ID, cb func(Route)) bool {
	return hostCtx.Post(func() {
		route := registry.CreateRoute(processID)
		replyCtx.Post(func() { cb(route) })
	})
}

// Kind names a registry notification.
type Kind string

// Notification kinds recorded by MemoryRegistry.
const (
	KindReady       Kind = "ready"
	KindInstalled   Kind = "installed"
	KindDoomed      Kind = "doomed"
	KindStopIgnored Kind = "stop_ignored"
	KindDestroyed   Kind = "destroyed"
)

// Notification is one recorded registry call.
type Notification struct {
	Kind      Kind
	ProcessID process.ID
	RouteID   int64
}

// MemoryRegistry is an in-memory Registry. Route IDs increase from 1.
type MemoryRegistry struct {
	mu              sync.Mutex
	nextRoute       int64
	waitForDebugger bool
	routes          map[int64]Route
	notifications   []Notification
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{routes: make(map[int64]Route)}
}

// SetWaitForDebugger controls the flag returned with new routes.
func (r *MemoryRegistry) SetWaitForDebugger(wait bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitForDebugger = wait
}

// CreateRoute implements Registry.
func (r *MemoryRegistry) CreateRoute(process.ID) Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRoute++
	route := Route{
		RouteID:         r.nextRoute,
		Token:           uuid.NewString(),
		WaitForDebugger: r.waitForDebugger,
	}
	r.routes[route.RouteID] = route
	return route
}

// NotifyReady implements Registry.
func (r *MemoryRegistry) NotifyReady(processID process.ID, routeID int64) {
	r.record(KindReady, processID, routeID)
}

// NotifyInstalled implements Registry.
func (r *MemoryRegistry) NotifyInstalled(processID process.ID, routeID int64) {
	r.record(KindInstalled, processID, routeID)
}

// NotifyDoomed implements Registry.
func (r *MemoryRegistry) NotifyDoomed(processID process.ID, routeID int64) {
	r.record(KindDoomed, processID, routeID)
}

// NotifyStopIgnored implements Registry.
func (r *MemoryRegistry) NotifyStopIgnored(processID process.ID, routeID int64) {
	r.record(KindStopIgnored, processID, routeID)
}

// NotifyDestroyed implements Registry. The route is forgotten.
func (r *MemoryRegistry) NotifyDestroyed(processID process.ID, routeID int64) {
	r.record(KindDestroyed, processID, routeID)
	r.mu.Lock()
	delete(r.routes, routeID)
	r.mu.Unlock()
}

func (r *MemoryRegistry) record(kind Kind, processID process.ID, routeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{Kind: kind, ProcessID: processID, RouteID: routeID})
}

// Notifications returns every notification received so far.
func (r *MemoryRegistry) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Count returns how many notifications of kind were received for routeID.
func (r *MemoryRegistry) Count(kind Kind, routeID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notifications {
		if note.Kind == kind && note.RouteID == routeID {
			n++
		}
	}
	return n
}

// ActiveRoutes returns the number of routes not yet destroyed.
func (r *MemoryRegistry) ActiveRoutes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}

var _ Registry = (*MemoryRegistry)(nil)
