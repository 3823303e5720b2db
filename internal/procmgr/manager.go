package procmgr

import (
	"sort"

	"github.com/Iron-Ham/workerhost/internal/errors"
	"github.com/Iron-Ham/workerhost/internal/event"
	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/process"
	"github.com/Iron-Ham/workerhost/internal/telemetry"
)

// AllocateCallback receives the result of AllocateProcess on the reply
// context. On failure processID is process.InvalidID and isNew is false.
type AllocateCallback func(err error, processID process.ID, isNew bool, settings process.Settings)

// Allocation describes the process a worker currently holds.
type Allocation struct {
	ProcessID process.ID
	IsNew     bool
	Scope     string
}

// Snapshot is a point-in-time copy of the manager's bookkeeping.
type Snapshot struct {
	Allocations map[int64]Allocation
	ScopeRefs   map[string]map[process.ID]int
	Shutdown    bool
}

// Manager allocates host processes to workers, preferring processes that
// already serve the worker's scope.
//
// Every public method except SortCandidates and Snapshot may be called from
// any goroutine: the work is posted to the host context and results are
// posted to the reply context. All bookkeeping fields are owned by the host
// context.
type Manager struct {
	host     process.Host
	hostCtx  executor.Executor
	replyCtx executor.Executor
	logger   *logging.Logger
	bus      *event.Bus
	recorder telemetry.Recorder
	settings process.Settings

	// Host context only.
	scopeRefs   map[string]map[process.ID]int
	allocations map[int64]Allocation
	shutdown    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithBus publishes allocation events on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithRecorder counts allocation outcomes on recorder.
func WithRecorder(recorder telemetry.Recorder) Option {
	return func(m *Manager) { m.recorder = recorder }
}

// WithSettings sets the host settings handed to every successful allocation.
func WithSettings(settings process.Settings) Option {
	return func(m *Manager) { m.settings = settings.Clone() }
}

// New creates a Manager that creates processes through host, runs its
// bookkeeping on hostCtx and delivers allocation results on replyCtx.
func New(host process.Host, hostCtx, replyCtx executor.Executor, opts ...Option) *Manager {
	m := &Manager{
		host:        host,
		hostCtx:     hostCtx,
		replyCtx:    replyCtx,
		recorder:    telemetry.Nop{},
		scopeRefs:   make(map[string]map[process.ID]int),
		allocations: make(map[int64]Allocation),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.logger = m.logger.WithComponent("procmgr")
	return m
}

// AllocateProcess finds or creates a process for workerID. If allowReuse is
// set, the live candidate with the highest affinity score for scope is chosen,
// preferring processes that are not backgrounded. Otherwise, or when no
// candidate exists, a new process is created for scriptOrigin.
//
// cb always runs asynchronously on the reply context, including when the
// manager has been shut down (errors.ErrAbort) or the host failed to create a
// process (errors.ErrProcessNotFound).
func (m *Manager) AllocateProcess(workerID int64, scope, scriptOrigin string, allowReuse bool, cb AllocateCallback) {
	if m.hostCtx.Post(func() {
		m.allocate(workerID, scope, scriptOrigin, allowReuse, cb)
	}) {
		return
	}
	m.logger.Warn("host context closed, aborting allocation", "worker_id", workerID)
	m.reply(cb, errors.ErrAbort, process.InvalidID, false)
}

func (m *Manager) allocate(workerID int64, scope, scriptOrigin string, allowReuse bool, cb AllocateCallback) {
	log := m.logger.WithWorker(workerID).WithScope(scope)

	if m.shutdown {
		log.Debug("allocation after shutdown")
		m.fail(workerID, scope, cb, errors.ErrAbort, telemetry.OutcomeAborted)
		return
	}

	if prev, ok := m.allocations[workerID]; ok {
		// A worker holds at most one process; give back a stale allocation
		// before replacing it so the host refcount stays balanced.
		log.Warn("worker already holds a process, releasing it", "process_id", int64(prev.ProcessID))
		m.release(workerID)
	}

	var (
		id    process.ID
		isNew bool
	)
	if allowReuse {
		id = m.selectExisting(scope)
	}
	if !id.IsValid() {
		created, err := m.host.Create(scriptOrigin)
		if err != nil || !created.IsValid() {
			log.Warn("process creation failed", "origin", scriptOrigin, "error", err)
			cause := errors.NewWorkerError("create process for "+scriptOrigin, errors.ErrProcessNotFound).
				WithWorkerID(workerID)
			m.fail(workerID, scope, cb, cause, telemetry.OutcomeFailed)
			return
		}
		id, isNew = created, true
	}

	m.host.IncrementRefCount(id)
	m.allocations[workerID] = Allocation{ProcessID: id, IsNew: isNew, Scope: scope}

	outcome := telemetry.OutcomeReused
	if isNew {
		outcome = telemetry.OutcomeCreated
	}
	m.recorder.CountAllocation(outcome)
	log.Debug("process allocated", "process_id", int64(id), "is_new", isNew)
	m.bus.Publish(event.NewProcessAllocatedEvent(workerID, int64(id), scope, isNew))

	m.reply(cb, nil, id, isNew)
}

// selectExisting returns the best live candidate for scope, or InvalidID.
func (m *Manager) selectExisting(scope string) process.ID {
	fallback := process.InvalidID
	for _, id := range m.SortCandidates(scope) {
		if !m.host.IsAlive(id) {
			continue
		}
		if !m.host.IsBackgrounded(id) {
			return id
		}
		if !fallback.IsValid() {
			fallback = id
		}
	}
	return fallback
}

func (m *Manager) fail(workerID int64, scope string, cb AllocateCallback, err error, outcome string) {
	m.recorder.CountAllocation(outcome)
	m.bus.Publish(event.NewProcessAllocationFailedEvent(workerID, scope, errors.Code(err)))
	m.reply(cb, err, process.InvalidID, false)
}

func (m *Manager) reply(cb AllocateCallback, err error, id process.ID, isNew bool) {
	if cb == nil {
		return
	}
	settings := process.Settings{}
	if err == nil {
		settings = m.settings.Clone()
	}
	if !m.replyCtx.Post(func() { cb(err, id, isNew, settings) }) {
		m.logger.Debug("reply context closed, dropping allocation result")
	}
}

// ReleaseProcess gives back the process held by workerID. Unknown workers and
// calls after Shutdown are no-ops.
func (m *Manager) ReleaseProcess(workerID int64) {
	m.hostCtx.Post(func() {
		if m.shutdown {
			return
		}
		m.release(workerID)
	})
}

func (m *Manager) release(workerID int64) {
	alloc, ok := m.allocations[workerID]
	if !ok {
		m.logger.Debug("release for unknown worker", "worker_id", workerID)
		return
	}
	delete(m.allocations, workerID)
	m.host.DecrementRefCount(alloc.ProcessID)
	m.logger.Debug("process released", "worker_id", workerID, "process_id", int64(alloc.ProcessID))
	m.bus.Publish(event.NewProcessReleasedEvent(workerID, int64(alloc.ProcessID)))
}

// AddProcessReference records that processID serves scope, raising its
// affinity score for that scope by one.
func (m *Manager) AddProcessReference(scope string, processID process.ID) {
	m.hostCtx.Post(func() {
		refs, ok := m.scopeRefs[scope]
		if !ok {
			refs = make(map[process.ID]int)
			m.scopeRefs[scope] = refs
		}
		refs[processID]++
	})
}

// RemoveProcessReference lowers the affinity score of processID for scope by
// one, forgetting the process (and the scope) when nothing references it.
func (m *Manager) RemoveProcessReference(scope string, processID process.ID) {
	m.hostCtx.Post(func() {
		refs, ok := m.scopeRefs[scope]
		if !ok || refs[processID] == 0 {
			m.logger.Warn("removing unknown process reference",
				"scope", scope, "process_id", int64(processID))
			return
		}
		refs[processID]--
		if refs[processID] == 0 {
			delete(refs, processID)
		}
		if len(refs) == 0 {
			delete(m.scopeRefs, scope)
		}
	})
}

// Shutdown releases every outstanding allocation. Later allocations resolve
// with errors.ErrAbort and later releases are ignored.
func (m *Manager) Shutdown() {
	m.hostCtx.Post(func() {
		if m.shutdown {
			return
		}
		workers := make([]int64, 0, len(m.allocations))
		for id := range m.allocations {
			workers = append(workers, id)
		}
		sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })
		for _, id := range workers {
			m.release(id)
		}
		m.shutdown = true
		m.logger.Info("process manager shut down", "released", len(workers))
	})
}

// SortCandidates returns the processes referencing scope by descending
// affinity score. Equal scores are ordered by ascending process ID.
// Must be called on the host context.
func (m *Manager) SortCandidates(scope string) []process.ID {
	refs := m.scopeRefs[scope]
	ids := make([]process.ID, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := refs[ids[i]], refs[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Snapshot copies the manager's bookkeeping. Must be called on the host
// context.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Allocations: make(map[int64]Allocation, len(m.allocations)),
		ScopeRefs:   make(map[string]map[process.ID]int, len(m.scopeRefs)),
		Shutdown:    m.shutdown,
	}
	for id, a := range m.allocations {
		s.Allocations[id] = a
	}
	for scope, refs := range m.scopeRefs {
		cp := make(map[process.ID]int, len(refs))
		for id, n := range refs {
			cp[id] = n
		}
		s.ScopeRefs[scope] = cp
	}
	return s
}
