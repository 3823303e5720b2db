package worker

import (
	"github.com/Iron-Ham/workerhost/internal/errors"
	"github.com/Iron-Ham/workerhost/internal/inspection"
	"github.com/Iron-Ham/workerhost/internal/process"
	"github.com/Iron-Ham/workerhost/internal/procmgr"
	"github.com/Iron-Ham/workerhost/internal/transport"
)

type allocationState int

const (
	notAllocated allocationState = iota
	allocating
	allocated
)

// startSequence drives one start cycle: allocate a process, register an
// inspection route, send the start message. It holds the caller's callback
// until the instance resolves it on script evaluation.
//
// Every step re-enters the control context through a posted callback that
// carries the generation it was issued for; a callback whose generation is no
// longer current, or that arrives after cancel, is dropped.
type startSequence struct {
	inst       *Instance
	generation uint64
	params     StartParams
	origin     string
	allowReuse bool

	callback  StatusCallback
	state     allocationState
	cancelled bool
	settings  process.Settings
}

func newStartSequence(inst *Instance, generation uint64, params StartParams, origin string, allowReuse bool, cb StatusCallback) *startSequence {
	return &startSequence{
		inst:       inst,
		generation: generation,
		params:     params,
		origin:     origin,
		allowReuse: allowReuse,
		callback:   cb,
	}
}

func (s *startSequence) start() {
	s.state = allocating
	gen := s.generation
	s.inst.cfg.Manager.AllocateProcess(int64(s.inst.id), s.params.Scope, s.origin, s.allowReuse,
		func(err error, processID process.ID, isNew bool, settings process.Settings) {
			s.onProcessAllocated(gen, err, processID, isNew, settings)
		})
}

// live reports whether a callback issued for gen may still act.
func (s *startSequence) live(gen uint64) bool {
	return !s.cancelled && s.inst.sequence == s && s.inst.generation == gen
}

func (s *startSequence) onProcessAllocated(gen uint64, err error, processID process.ID, isNew bool, settings process.Settings) {
	if !s.live(gen) {
		// cancel already asked the manager to release this allocation.
		return
	}
	if err != nil {
		s.state = notAllocated
		s.inst.onStartFailed(s.takeCallback(), err)
		return
	}

	s.state = allocated
	s.settings = settings
	s.inst.onProcessAllocated(procmgr.NewHandle(s.inst.cfg.Manager, int64(s.inst.id), processID, isNew))
	if !s.live(gen) {
		return
	}

	cfg := s.inst.cfg
	ok := inspection.RequestRoute(cfg.HostCtx, cfg.ControlCtx, cfg.Registry, processID, func(route inspection.Route) {
		s.onRouteCreated(gen, processID, route)
	})
	if !ok {
		s.inst.onStartFailed(s.takeCallback(),
			errors.NewWorkerError("register inspection route", errors.ErrAbort).
				WithWorkerID(int64(s.inst.id)).
				WithProcessID(int64(processID)))
	}
}

func (s *startSequence) onRouteCreated(gen uint64, processID process.ID, route inspection.Route) {
	cfg := s.inst.cfg
	if !s.live(gen) {
		registry := cfg.Registry
		cfg.HostCtx.Post(func() { registry.NotifyDestroyed(processID, route.RouteID) })
		return
	}
	s.inst.onRouteRegistered(inspection.NewProxy(cfg.Registry, cfg.HostCtx, processID, route.RouteID))

	msg := transport.NewMessage(transport.MessageStartWorker, int64(s.inst.id), gen)
	msg.ScriptURL = s.params.ScriptURL
	msg.Scope = s.params.Scope
	msg.RouteID = route.RouteID
	msg.InspectionToken = route.Token
	msg.WaitForDebugger = route.WaitForDebugger
	msg.Settings = s.settings.Clone()

	if !cfg.Sender.Send(processID, msg) {
		s.inst.onStartFailed(s.takeCallback(),
			errors.NewWorkerError("send start message", errors.ErrTransportFailed).
				WithWorkerID(int64(s.inst.id)).
				WithProcessID(int64(processID)))
		return
	}
	s.inst.onStartWorkerMessageSent()
}

func (s *startSequence) takeCallback() StatusCallback {
	cb := s.callback
	s.callback = nil
	return cb
}

// cancel abandons the sequence without running its callback. An allocation
// still in flight is released here; a completed one belongs to the
// instance's handle.
func (s *startSequence) cancel() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	s.callback = nil
	if s.state == allocating {
		s.inst.cfg.Manager.ReleaseProcess(int64(s.inst.id))
	}
	s.state = notAllocated
}
