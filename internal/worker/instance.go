package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/workerhost/internal/errors"
	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/inspection"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/process"
	"github.com/Iron-Ham/workerhost/internal/procmgr"
	"github.com/Iron-Ham/workerhost/internal/scope"
	"github.com/Iron-Ham/workerhost/internal/telemetry"
	"github.com/Iron-Ham/workerhost/internal/tracing"
	"github.com/Iron-Ham/workerhost/internal/transport"
)

// errStoppedWhileStarting ends the trace span of a start that was cancelled.
var errStoppedWhileStarting = errors.New("stopped while starting")

// ProcessManager allocates and releases worker processes.
// *procmgr.Manager implements it.
type ProcessManager interface {
	AllocateProcess(workerID int64, scope, scriptOrigin string, allowReuse bool, cb procmgr.AllocateCallback)
	ReleaseProcess(workerID int64)
}

// Sender delivers messages to worker processes.
type Sender interface {
	Send(processID process.ID, msg transport.Message) bool
}

// Config holds an instance's collaborators. Manager, Sender, Registry,
// HostCtx and ControlCtx are required.
type Config struct {
	Manager    ProcessManager
	Sender     Sender
	Registry   inspection.Registry
	HostCtx    executor.Executor
	ControlCtx executor.Executor

	Policy   *scope.Policy
	Recorder telemetry.Recorder
	Tracer   *tracing.Tracer
	Logger   *logging.Logger
	Now      func() time.Time
}

// StartParams describe the script a worker runs.
type StartParams struct {
	ScriptURL string

	// Scope is the affinity key used for process reuse. Defaults to the
	// directory of ScriptURL.
	Scope string

	// AllowReuse lets the worker share an existing process. The isolation
	// policy may still force a dedicated one.
	AllowReuse bool
}

// StatusCallback receives the outcome of a start: nil once the script has
// evaluated, or the error that ended the attempt.
type StatusCallback func(err error)

// Instance is the lifecycle state machine of one worker. An Instance is
// reused across start/stop cycles and is owned by the control context: every
// method must be called there.
type Instance struct {
	id     ID
	cfg    Config
	logger *logging.Logger

	status     Status
	phase      Phase
	generation uint64
	handle     *procmgr.Handle
	sequence   *startSequence
	proxy      *inspection.Proxy
	listeners  listenerRegistry

	params            StartParams
	threadID          int64
	devToolsAttached  bool
	networkAccessed   bool
	stopIgnoredLogged bool
	stopWhenDetached  bool
	startedAt         time.Time
	stepAt            time.Time
	span              *tracing.Span
}

// NewInstance creates a stopped instance.
func NewInstance(id ID, cfg Config) (*Instance, error) {
	switch {
	case cfg.Manager == nil:
		return nil, fmt.Errorf("worker %d: process manager is required", id)
	case cfg.Sender == nil:
		return nil, fmt.Errorf("worker %d: sender is required", id)
	case cfg.Registry == nil:
		return nil, fmt.Errorf("worker %d: inspection registry is required", id)
	case cfg.HostCtx == nil || cfg.ControlCtx == nil:
		return nil, fmt.Errorf("worker %d: host and control contexts are required", id)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = telemetry.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &Instance{
		id:     id,
		cfg:    cfg,
		logger: logger.WithComponent("worker").WithWorker(int64(id)),
	}, nil
}

// ID returns the worker ID.
func (i *Instance) ID() ID { return i.id }

// Status returns the lifecycle status.
func (i *Instance) Status() Status { return i.status }

// Phase returns the start phase reached in the current cycle.
func (i *Instance) Phase() Phase { return i.phase }

// Generation returns the token of the current start cycle. It increases on
// every Start.
func (i *Instance) Generation() uint64 { return i.generation }

// ProcessID returns the process backing the worker, or process.InvalidID.
func (i *Instance) ProcessID() process.ID {
	if i.handle == nil {
		return process.InvalidID
	}
	return i.handle.ProcessID()
}

// ThreadID returns the worker thread reported by the process, or 0.
func (i *Instance) ThreadID() int64 { return i.threadID }

// ScriptURL returns the script of the current or last start.
func (i *Instance) ScriptURL() string { return i.params.ScriptURL }

// Scope returns the scope of the current or last start.
func (i *Instance) Scope() string { return i.params.Scope }

// DevToolsAttached reports whether a debugger is attached.
func (i *Instance) DevToolsAttached() bool { return i.devToolsAttached }

// NetworkAccessed reports whether the current start fetched the script over
// the network.
func (i *Instance) NetworkAccessed() bool { return i.networkAccessed }

// AddListener registers l. Adding the same listener twice has no effect.
func (i *Instance) AddListener(l Listener) { i.listeners.add(l) }

// RemoveListener unregisters l and reports whether it was registered. During
// a notification only a listener being notified may remove itself; removing
// any other listener then has no effect and reports false.
func (i *Instance) RemoveListener(l Listener) bool { return i.listeners.remove(l) }

// Start begins a start cycle. It is legal only while stopped. The status
// becomes StatusStarting before Start returns; cb runs later on the control
// context with the outcome, unless the start is cancelled by Stop, in which
// case cb never runs and listeners learn of the stop instead.
func (i *Instance) Start(params StartParams, cb StatusCallback) error {
	if i.status != StatusStopped {
		return errors.NewWorkerError("start while "+i.status.String(), errors.ErrInvalidState).
			WithWorkerID(int64(i.id))
	}

	origin, err := scope.Origin(params.ScriptURL)
	if err != nil {
		return fmt.Errorf("start worker %d: %w", i.id, err)
	}
	if params.Scope == "" {
		if params.Scope, err = scope.Default(params.ScriptURL); err != nil {
			return fmt.Errorf("start worker %d: %w", i.id, err)
		}
	}
	allowReuse := i.cfg.Policy.AllowReuse(params.Scope, params.AllowReuse)

	i.status = StatusStarting
	i.generation++
	i.resetRunState()
	i.params = params
	now := i.cfg.Now()
	i.startedAt, i.stepAt = now, now
	_, i.span = i.cfg.Tracer.StartSpan(context.Background(), "StartWorker", map[string]string{
		"worker.id":         i.id.String(),
		"worker.generation": fmt.Sprint(i.generation),
		"worker.scope":      params.Scope,
	})

	seq := newStartSequence(i, i.generation, params, origin, allowReuse, cb)
	i.sequence = seq
	i.logger.Info("starting worker",
		"script_url", params.ScriptURL,
		"scope", params.Scope,
		"allow_reuse", allowReuse,
		"generation", i.generation,
	)

	i.listeners.notify(func(l Listener) { l.OnStarting() })
	if i.sequence != seq {
		return nil
	}
	i.setPhase(PhaseAllocatingProcess)
	if i.sequence != seq {
		return nil
	}
	seq.start()
	return nil
}

// Stop ends a starting or running worker. An in-flight start is cancelled
// and its callback never runs. If the start message was never delivered the
// worker detaches at once; otherwise a stop request is sent and the worker
// stays StatusStopping until the process confirms. An undeliverable stop
// request also detaches at once.
func (i *Instance) Stop() error {
	if i.status != StatusStarting && i.status != StatusRunning {
		return errors.NewWorkerError("stop while "+i.status.String(), errors.ErrInvalidState).
			WithWorkerID(int64(i.id))
	}

	messageSent := i.status == StatusRunning || i.phase >= PhaseSentStartMessage
	i.cancelSequence()

	if i.handle == nil || !messageSent {
		i.logger.Debug("stopping before start message was sent, detaching")
		i.Detach()
		return nil
	}
	if !i.sendStop() {
		i.logger.Warn("stop request undeliverable, detaching", "process_id", int64(i.handle.ProcessID()))
		i.Detach()
		return nil
	}

	if i.status == StatusStarting {
		i.endSpan(errStoppedWhileStarting)
	}
	i.status = StatusStopping
	i.logger.Info("stopping worker")
	i.listeners.notify(func(l Listener) { l.OnStopping() })
	return nil
}

// StopIfIdle stops the worker unless a debugger is attached. While one is,
// the request is ignored: it is logged once per start cycle, the inspection
// subsystem is told once, and the worker stops when the debugger detaches.
func (i *Instance) StopIfIdle() error {
	if i.devToolsAttached && (i.status == StatusStarting || i.status == StatusRunning) {
		if !i.stopIgnoredLogged {
			i.stopIgnoredLogged = true
			i.logger.Info("idle stop ignored while debugger is attached")
		}
		i.stopWhenDetached = true
		if i.proxy != nil {
			i.proxy.NotifyStopIgnored()
		}
		return nil
	}
	return i.Stop()
}

// Detach tears the worker down locally without waiting for the process.
func (i *Instance) Detach() {
	if i.status == StatusStopped {
		return
	}
	i.teardown(true)
}

// SetDevToolsAttached records whether a debugger is attached. Detaching the
// debugger performs an idle stop that was ignored while it was attached.
func (i *Instance) SetDevToolsAttached(attached bool) {
	i.devToolsAttached = attached
	if attached || !i.stopWhenDetached {
		return
	}
	i.stopWhenDetached = false
	if i.status == StatusStarting || i.status == StatusRunning {
		if err := i.Stop(); err != nil {
			i.logger.Warn("deferred idle stop failed", "error", err)
		}
	}
}

// NotifyVersionInstalled forwards a version-installed notification to the
// inspection subsystem.
func (i *Instance) NotifyVersionInstalled() {
	if i.proxy != nil {
		i.proxy.NotifyVersionInstalled()
	}
}

// NotifyVersionDoomed forwards a version-doomed notification to the
// inspection subsystem.
func (i *Instance) NotifyVersionDoomed() {
	if i.proxy != nil {
		i.proxy.NotifyVersionDoomed()
	}
}

// -----------------------------------------------------------------------------
// Inbound events
// -----------------------------------------------------------------------------

// Dispatch applies an inbound transport event. Events for another worker or
// an earlier generation are dropped; it reports whether ev was applied.
func (i *Instance) Dispatch(ev transport.Event) bool {
	if ev.WorkerID != int64(i.id) {
		return false
	}
	if ev.Generation != i.generation {
		i.logger.Debug("dropping stale event",
			"event", string(ev.Type),
			"event_generation", ev.Generation,
			"generation", i.generation,
		)
		return false
	}
	if i.handle != nil && ev.ProcessID != i.handle.ProcessID() {
		i.logger.Debug("dropping event from another process",
			"event", string(ev.Type),
			"process_id", int64(ev.ProcessID),
		)
		return false
	}

	switch ev.Type {
	case transport.EventScriptReadStarted:
		i.OnScriptReadStarted()
	case transport.EventNetworkAccessed:
		i.OnNetworkAccessedForScriptLoad()
	case transport.EventScriptLoaded:
		i.OnScriptLoaded()
	case transport.EventScriptLoadFailed:
		i.OnScriptLoadFailed()
	case transport.EventThreadStarted:
		i.OnThreadStarted(ev.ThreadID)
	case transport.EventScriptEvaluated:
		i.OnScriptEvaluated(ev.Success)
	case transport.EventStarted:
		i.OnStarted()
	case transport.EventStopped:
		i.OnStopped()
	case transport.EventDetached:
		i.OnDetached()
	case transport.EventException:
		i.OnReportException(ev.Message)
	case transport.EventConsoleMessage:
		i.OnReportConsoleMessage(ev.Level, ev.Message)
	default:
		i.logger.Warn("unknown event type", "event", string(ev.Type))
		return false
	}
	return true
}

// OnScriptReadStarted records that the process began reading the script.
func (i *Instance) OnScriptReadStarted() {
	i.advance(PhaseScriptDownloading)
}

// OnNetworkAccessedForScriptLoad records that the script was fetched over
// the network.
func (i *Instance) OnNetworkAccessedForScriptLoad() {
	if i.status == StatusStarting {
		i.networkAccessed = true
	}
}

// OnScriptLoaded records that the script was loaded.
func (i *Instance) OnScriptLoaded() {
	if i.advance(PhaseScriptLoaded) {
		i.listeners.notify(func(l Listener) { l.OnScriptLoaded() })
	}
}

// OnScriptLoadFailed tells listeners the script could not be loaded. The
// process follows up with a stop or detach.
func (i *Instance) OnScriptLoadFailed() {
	if i.status != StatusStarting {
		i.logger.Debug("ignoring script load failure", "status", i.status.String())
		return
	}
	i.logger.Warn("script load failed", "script_url", i.params.ScriptURL)
	i.listeners.notify(func(l Listener) { l.OnScriptLoadFailed() })
}

// OnThreadStarted records the worker thread and makes the worker inspectable.
func (i *Instance) OnThreadStarted(threadID int64) {
	if !i.advance(PhaseThreadStarted) {
		return
	}
	i.threadID = threadID
	if i.proxy != nil {
		i.proxy.NotifyReadyForInspection()
	}
}

// OnScriptEvaluated resolves the start callback: nil on success. A failed
// evaluation sends a best-effort stop and fails the start with
// errors.ErrScriptEvaluateFailed.
func (i *Instance) OnScriptEvaluated(success bool) {
	if !i.advance(PhaseScriptEvaluated) {
		return
	}
	gen := i.generation
	i.listeners.notify(func(l Listener) { l.OnScriptEvaluated(success) })
	if i.generation != gen || i.status != StatusStarting || i.sequence == nil {
		return
	}

	cb := i.sequence.takeCallback()
	if success {
		if cb != nil {
			cb(nil)
		}
		return
	}

	i.sendStop()
	i.onStartFailed(cb, errors.NewWorkerError("evaluate "+i.params.ScriptURL, errors.ErrScriptEvaluateFailed).
		WithWorkerID(int64(i.id)).
		WithProcessID(int64(i.ProcessID())))
}

// OnStarted moves a starting worker to StatusRunning. It does nothing if a
// Stop already moved the worker on.
func (i *Instance) OnStarted() {
	if i.status != StatusStarting || i.phase != PhaseScriptEvaluated {
		i.logger.Debug("ignoring started event",
			"status", i.status.String(),
			"phase", i.phase.String(),
		)
		return
	}
	i.sequence = nil
	i.status = StatusRunning

	total := i.cfg.Now().Sub(i.startedAt)
	i.cfg.Recorder.ObserveDuration("StartWorker.Total", total)
	i.endSpan(nil)
	i.logger.Info("worker running", "process_id", int64(i.ProcessID()), "duration", total.String())
	i.listeners.notify(func(l Listener) { l.OnStarted() })
}

// OnStopped handles the process confirming the worker stopped.
func (i *Instance) OnStopped() {
	if i.status == StatusStopped {
		i.logger.Debug("ignoring stopped event, already stopped")
		return
	}
	i.teardown(false)
}

// OnDetached handles the process dropping the worker without a clean stop.
func (i *Instance) OnDetached() {
	if i.status == StatusStopped {
		i.logger.Debug("ignoring detached event, already stopped")
		return
	}
	i.teardown(true)
}

// OnReportException forwards an uncaught script exception to listeners.
func (i *Instance) OnReportException(message string) {
	if i.status == StatusStopped {
		return
	}
	i.listeners.notify(func(l Listener) { l.OnReportException(message) })
}

// OnReportConsoleMessage forwards script console output to listeners.
func (i *Instance) OnReportConsoleMessage(level, message string) {
	if i.status == StatusStopped {
		return
	}
	i.listeners.notify(func(l Listener) { l.OnReportConsoleMessage(level, message) })
}

// -----------------------------------------------------------------------------
// Start sequence hooks
// -----------------------------------------------------------------------------

func (i *Instance) onProcessAllocated(handle *procmgr.Handle) {
	if i.handle != nil {
		i.logger.Warn("replacing process handle", "process_id", int64(i.handle.ProcessID()))
		i.handle.Release()
	}
	i.handle = handle
	i.logger.Debug("process allocated", "process_id", int64(handle.ProcessID()), "is_new", handle.IsNew())
	i.setPhase(PhaseRegisteringInspection)
}

func (i *Instance) onRouteRegistered(proxy *inspection.Proxy) {
	i.proxy.Close()
	i.proxy = proxy
}

func (i *Instance) onStartWorkerMessageSent() {
	i.setPhase(PhaseSentStartMessage)
}

// onStartFailed ends a failed start: the process is released, the worker is
// stopped, cb learns the error and listeners are told the worker stopped.
func (i *Instance) onStartFailed(cb StatusCallback, err error) {
	previous := i.status
	severity := errors.GetSeverity(err)
	logf := i.logger.Warn
	if severity < errors.SeverityWarning {
		logf = i.logger.Info
	}
	logf("worker start failed", "error", err.Error(), "code", errors.Code(err), "severity", severity.String())

	i.releaseProcess()
	i.endSpan(err)
	i.status = StatusStopped
	i.phase = PhaseNone

	if cb != nil {
		cb(err)
	}
	if previous != StatusStopped {
		i.listeners.notify(func(l Listener) { l.OnStopped(previous) })
	}
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// advance moves to phase p if the worker is starting and sits exactly on the
// preceding phase. Anything else is logged and dropped.
func (i *Instance) advance(p Phase) bool {
	if i.status != StatusStarting || i.phase != p.previous() {
		i.logger.Warn("dropping out-of-order phase event",
			"target_phase", p.String(),
			"phase", i.phase.String(),
			"status", i.status.String(),
		)
		return false
	}
	i.setPhase(p)
	return true
}

func (i *Instance) setPhase(p Phase) {
	now := i.cfg.Now()
	elapsed := now.Sub(i.stepAt)
	previous := i.phase
	i.phase = p
	i.stepAt = now

	i.cfg.Recorder.ObserveDuration("StartWorker."+p.String(), elapsed)
	i.span.AddEvent(p.String(), nil)
	i.logger.Debug("phase changed", "from", previous.String(), "to", p.String(), "elapsed", elapsed.String())
	i.listeners.notify(func(l Listener) { l.OnPhaseChanged(previous, p, elapsed) })
}

func (i *Instance) sendStop() bool {
	if i.handle == nil {
		return false
	}
	msg := transport.NewMessage(transport.MessageStopWorker, int64(i.id), i.generation)
	return i.cfg.Sender.Send(i.handle.ProcessID(), msg)
}

func (i *Instance) cancelSequence() {
	if i.sequence == nil {
		return
	}
	i.sequence.cancel()
	i.sequence = nil
}

// releaseProcess drops everything the current cycle holds.
func (i *Instance) releaseProcess() {
	i.cancelSequence()
	i.proxy.Close()
	i.proxy = nil
	i.handle.Release()
	i.handle = nil
	i.threadID = 0
}

func (i *Instance) resetRunState() {
	i.threadID = 0
	i.networkAccessed = false
	i.stopIgnoredLogged = false
	i.stopWhenDetached = false
	i.phase = PhaseNone
}

func (i *Instance) teardown(detached bool) {
	previous := i.status
	i.releaseProcess()
	if previous == StatusStarting {
		i.endSpan(errStoppedWhileStarting)
	}
	i.span = nil
	i.status = StatusStopped
	i.phase = PhaseNone
	i.stopWhenDetached = false

	if detached {
		i.logger.Info("worker detached", "previous_status", previous.String())
		i.listeners.notify(func(l Listener) { l.OnDetached(previous) })
		return
	}
	i.logger.Info("worker stopped", "previous_status", previous.String())
	i.listeners.notify(func(l Listener) { l.OnStopped(previous) })
}

func (i *Instance) endSpan(err error) {
	i.span.End(err)
	i.span = nil
}
