package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/transport"
)

// Router delivers inbound transport events to the instance they belong to,
// on the control context. Register, Unregister and Lookup may be called from
// any goroutine; the instances themselves are only touched on the control
// context.
type Router struct {
	controlCtx executor.Executor
	logger     *logging.Logger

	mu        sync.RWMutex
	instances map[ID]*Instance
}

// NewRouter creates a Router posting to controlCtx.
func NewRouter(controlCtx executor.Executor, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Router{
		controlCtx: controlCtx,
		logger:     logger.WithComponent("router"),
		instances:  make(map[ID]*Instance),
	}
}

// Register routes events for inst.ID() to inst, replacing any earlier
// registration.
func (r *Router) Register(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID()] = inst
}

// Unregister stops routing events for id.
func (r *Router) Unregister(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// Lookup returns the instance registered for id.
func (r *Router) Lookup(id ID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Instances returns the registered instances ordered by ID.
func (r *Router) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Deliver posts ev to the control context, where it is applied to its
// instance if the event's generation is still current. Returns false if the
// control context is closed.
func (r *Router) Deliver(ev transport.Event) bool {
	return r.controlCtx.Post(func() {
		inst, ok := r.Lookup(ID(ev.WorkerID))
		if !ok {
			r.logger.Debug("event for unknown worker", "worker_id", ev.WorkerID, "event", string(ev.Type))
			return
		}
		inst.Dispatch(ev)
	})
}

// Run delivers events until the channel closes or ctx is done.
func (r *Router) Run(ctx context.Context, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !r.Deliver(ev) {
				r.logger.Debug("control context closed, stopping router")
				return nil
			}
		}
	}
}
