// Package host assembles the worker host: the two execution contexts, the
// process manager, the simulated transport, the inspection registry and the
// worker instances, and drives them from outside every context.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/workerhost/internal/config"
	"github.com/Iron-Ham/workerhost/internal/errors"
	"github.com/Iron-Ham/workerhost/internal/event"
	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/inspection"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/process"
	"github.com/Iron-Ham/workerhost/internal/procmgr"
	"github.com/Iron-Ham/workerhost/internal/scope"
	"github.com/Iron-Ham/workerhost/internal/scriptwatch"
	"github.com/Iron-Ham/workerhost/internal/telemetry"
	"github.com/Iron-Ham/workerhost/internal/tracing"
	"github.com/Iron-Ham/workerhost/internal/transport"
	"github.com/Iron-Ham/workerhost/internal/worker"
)

// ServiceName identifies the host in traces.
const ServiceName = "workerhost"

// ErrUnknownWorker is returned for a worker ID the host never created.
var ErrUnknownWorker = errors.New("unknown worker")

// Option configures a Host.
type Option func(*Host)

// WithRegisterer records step durations and allocations as Prometheus
// metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Host) { h.registerer = reg }
}

// WithRecorder overrides the telemetry recorder.
func WithRecorder(r telemetry.Recorder) Option {
	return func(h *Host) { h.recorder = r }
}

// WithTracer overrides the tracer built from the telemetry config.
func WithTracer(t *tracing.Tracer) Option {
	return func(h *Host) { h.tracer = t }
}

// WithBus publishes host events on bus instead of a private one.
func WithBus(bus *event.Bus) Option {
	return func(h *Host) { h.bus = bus }
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	ID         worker.ID
	Status     worker.Status
	Phase      worker.Phase
	ProcessID  process.ID
	Generation uint64
	ScriptURL  string
	DevTools   bool
}

// Host owns every component of a running worker host.
type Host struct {
	cfg    *config.Config
	logger *logging.Logger

	bus        *event.Bus
	registerer prometheus.Registerer
	recorder   telemetry.Recorder
	tracer     *tracing.Tracer
	ownTracer  bool

	hostLoop    *executor.Loop
	controlLoop *executor.Loop

	processes *process.MemoryHost
	manager   *procmgr.Manager
	transport *transport.Memory
	registry  *inspection.MemoryRegistry
	router    *worker.Router
	policy    *scope.Policy
	watcher   *scriptwatch.Watcher

	routerCancel context.CancelFunc
	routerDone   chan error

	mu       sync.Mutex
	nextID   worker.ID
	trackers map[worker.ID]*stopTracker
	closed   bool
}

// New builds a Host from cfg. The host is inert until Run.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Host, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	h := &Host{
		cfg:      cfg,
		logger:   logger.WithComponent("host"),
		trackers: make(map[worker.ID]*stopTracker),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus == nil {
		h.bus = event.NewBus(logger)
	}
	if h.recorder == nil {
		if h.registerer != nil {
			h.recorder = telemetry.NewPrometheus(h.registerer)
		} else {
			h.recorder = telemetry.Nop{}
		}
	}

	policy, err := scope.NewPolicy(cfg.Process.IsolateScopes)
	if err != nil {
		return nil, fmt.Errorf("isolation policy: %w", err)
	}
	h.policy = policy

	if h.tracer == nil && cfg.Telemetry.TraceFile != "" {
		tracer, err := tracing.New(ServiceName, "dev", cfg.Telemetry.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		h.tracer, h.ownTracer = tracer, true
	}

	h.hostLoop = executor.NewLoop("host")
	h.controlLoop = executor.NewLoop("control")

	h.processes = process.NewMemoryHost()
	h.manager = procmgr.New(h.processes, h.hostLoop, h.controlLoop,
		procmgr.WithLogger(logger),
		procmgr.WithBus(h.bus),
		procmgr.WithRecorder(h.recorder),
		procmgr.WithSettings(process.Settings{
			Flags:  append([]string(nil), cfg.Process.Flags...),
			Locale: cfg.Process.Locale,
		}),
	)
	h.transport = transport.NewMemory(h.processes,
		transport.WithLogger(logger),
		transport.WithStepDelay(cfg.Worker.StepDelay),
		transport.WithFailEvaluation(cfg.Worker.FailEvaluation),
	)
	h.processes.OnExit(h.transport.ProcessExited)
	h.registry = inspection.NewMemoryRegistry()
	h.registry.SetWaitForDebugger(cfg.Inspection.WaitForDebugger)
	h.router = worker.NewRouter(h.controlLoop, logger)

	if cfg.Watch.Enabled {
		doom := scriptwatch.DoomWorkers(h.controlLoop, h.router.Instances, logger)
		w, err := scriptwatch.New(cfg.Watch.Paths, doom,
			scriptwatch.WithLogger(logger),
			scriptwatch.WithBus(h.bus),
			scriptwatch.WithDebounce(cfg.Watch.Debounce),
		)
		if err != nil {
			h.closeComponents()
			return nil, err
		}
		h.watcher = w
	}
	return h, nil
}

// Bus returns the bus the host publishes on.
func (h *Host) Bus() *event.Bus { return h.bus }

// Processes returns the simulated process host.
func (h *Host) Processes() *process.MemoryHost { return h.processes }

// Transport returns the simulated transport.
func (h *Host) Transport() *transport.Memory { return h.transport }

// Registry returns the inspection registry.
func (h *Host) Registry() *inspection.MemoryRegistry { return h.registry }

// Run starts event routing and, if configured, script watching.
func (h *Host) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	h.routerCancel = cancel
	h.routerDone = make(chan error, 1)
	go func() { h.routerDone <- h.router.Run(ctx, h.transport.Events()) }()

	if h.watcher != nil {
		h.watcher.Start()
	}
	h.logger.Info("host running",
		"workers", h.cfg.Worker.Count,
		"script_url", h.cfg.Worker.ScriptURL,
	)
}

// StartWorkers starts cfg.Worker.Count new workers concurrently and waits
// until each has evaluated its script. A start that fails with a retryable
// error is attempted once more with a fresh worker. The first failure is
// returned; the other starts still run to completion.
func (h *Host) StartWorkers(ctx context.Context) ([]worker.ID, error) {
	n := h.cfg.Worker.Count
	ids := make([]worker.ID, n)

	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			params := worker.StartParams{
				ScriptURL:  h.cfg.Worker.ScriptURL,
				Scope:      h.cfg.Worker.Scope,
				AllowReuse: h.cfg.Worker.AllowReuse,
			}
			id, err := h.StartWorker(ctx, params)
			if errors.IsRetryable(err) {
				h.logger.Warn("retrying worker start",
					"worker_id", int64(id),
					"error", err.Error(),
					"code", errors.Code(err),
				)
				id, err = h.StartWorker(ctx, params)
			}
			ids[i] = id
			return err
		})
	}
	err := g.Wait()
	return ids, err
}

// StartWorker creates, registers and starts one worker, then waits for its
// start callback.
func (h *Host) StartWorker(ctx context.Context, params worker.StartParams) (worker.ID, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, executor.ErrClosed
	}
	h.nextID++
	id := h.nextID
	tracker := newStopTracker()
	h.trackers[id] = tracker
	h.mu.Unlock()

	result := make(chan error, 1)
	var startErr error
	err := executor.Call(ctx, h.controlLoop, func() {
		inst, err := worker.NewInstance(id, worker.Config{
			Manager:    h.manager,
			Sender:     h.transport,
			Registry:   h.registry,
			HostCtx:    h.hostLoop,
			ControlCtx: h.controlLoop,
			Policy:     h.policy,
			Recorder:   h.recorder,
			Tracer:     h.tracer,
			Logger:     h.logger,
		})
		if err != nil {
			startErr = err
			return
		}
		inst.AddListener(worker.NewBusListener(id, h.bus))
		inst.AddListener(&scopeClient{inst: inst, manager: h.manager})
		inst.AddListener(tracker)
		h.router.Register(inst)
		startErr = inst.Start(params, func(err error) { result <- err })
	})
	if err != nil {
		return id, err
	}
	if startErr != nil {
		return id, fmt.Errorf("worker %d: %w", id, startErr)
	}

	select {
	case err := <-result:
		if err != nil {
			return id, fmt.Errorf("worker %d: %w", id, err)
		}
		return id, nil
	case <-tracker.done:
		// A failed start runs its callback before telling listeners.
		select {
		case err := <-result:
			if err != nil {
				return id, fmt.Errorf("worker %d: %w", id, err)
			}
		default:
		}
		return id, errors.NewWorkerError("stopped while starting", errors.ErrAbort).
			WithWorkerID(int64(id)).
			WithSeverity(errors.SeverityInfo)
	case <-ctx.Done():
		return id, ctx.Err()
	}
}

// Statuses returns a snapshot of every registered worker, ordered by ID.
func (h *Host) Statuses(ctx context.Context) ([]WorkerStatus, error) {
	var out []WorkerStatus
	err := executor.Call(ctx, h.controlLoop, func() {
		for _, inst := range h.router.Instances() {
			out = append(out, WorkerStatus{
				ID:         inst.ID(),
				Status:     inst.Status(),
				Phase:      inst.Phase(),
				ProcessID:  inst.ProcessID(),
				Generation: inst.Generation(),
				ScriptURL:  inst.ScriptURL(),
				DevTools:   inst.DevToolsAttached(),
			})
		}
	})
	return out, err
}

// StopWorkers stops every starting or running worker and waits until each
// one reports it stopped.
func (h *Host) StopWorkers(ctx context.Context) error {
	var waiting []*stopTracker
	err := executor.Call(ctx, h.controlLoop, func() {
		for _, inst := range h.router.Instances() {
			switch inst.Status() {
			case worker.StatusStarting, worker.StatusRunning:
				if err := inst.Stop(); err != nil {
					h.logger.Warn("stop failed", "worker_id", int64(inst.ID()), "error", err)
					continue
				}
			case worker.StatusStopping:
			default:
				continue
			}
			if inst.Status() != worker.StatusStopped {
				waiting = append(waiting, h.tracker(inst.ID()))
			}
		}
	})
	if err != nil {
		return err
	}

	for _, t := range waiting {
		if t == nil {
			continue
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SetDevToolsAttached marks a debugger as attached to or detached from a
// worker. While attached, idle stops are ignored; detaching performs an idle
// stop that was ignored meanwhile.
func (h *Host) SetDevToolsAttached(ctx context.Context, id worker.ID, attached bool) error {
	found := false
	err := executor.Call(ctx, h.controlLoop, func() {
		inst, ok := h.router.Lookup(id)
		if !ok {
			return
		}
		found = true
		inst.SetDevToolsAttached(attached)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("worker %d: %w", id, ErrUnknownWorker)
	}
	return nil
}

// KillProcess simulates the death of a process; its workers detach.
func (h *Host) KillProcess(id process.ID) error {
	return h.processes.Kill(id)
}

// Close stops the workers, shuts the process manager down and releases every
// goroutine the host started. Close is safe to call more than once.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	var errs []error
	if err := h.StopWorkers(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop workers: %w", err))
	}
	h.manager.Shutdown()

	if h.routerCancel != nil {
		h.routerCancel()
		<-h.routerDone
	}
	h.closeComponents()

	if h.ownTracer {
		if err := h.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	h.logger.Info("host closed")
	return errors.Join(errs...)
}

func (h *Host) closeComponents() {
	if h.watcher != nil {
		h.watcher.Stop()
	}
	h.transport.Close()
	h.controlLoop.Close()
	h.hostLoop.Close()
}

func (h *Host) tracker(id worker.ID) *stopTracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trackers[id]
}

// stopTracker closes done the first time its worker stops or detaches.
type stopTracker struct {
	worker.NopListener
	once sync.Once
	done chan struct{}
}

func newStopTracker() *stopTracker {
	return &stopTracker{done: make(chan struct{})}
}

func (t *stopTracker) OnStopped(worker.Status)  { t.once.Do(func() { close(t.done) }) }
func (t *stopTracker) OnDetached(worker.Status) { t.once.Do(func() { close(t.done) }) }

// scopeClient holds a scope reference on a worker's process while the worker
// runs, so later workers of the same scope are placed on that process. The
// reference is separate from the allocation refcount the handle owns.
type scopeClient struct {
	worker.NopListener
	inst    *worker.Instance
	manager *procmgr.Manager
	scope   string
	process process.ID
}

func (c *scopeClient) OnStarted() {
	c.scope, c.process = c.inst.Scope(), c.inst.ProcessID()
	if c.process.IsValid() {
		c.manager.AddProcessReference(c.scope, c.process)
	}
}

func (c *scopeClient) OnStopped(worker.Status)  { c.drop() }
func (c *scopeClient) OnDetached(worker.Status) { c.drop() }

func (c *scopeClient) drop() {
	if !c.process.IsValid() {
		return
	}
	c.manager.RemoveProcessReference(c.scope, c.process)
	c.process = process.InvalidID
}
