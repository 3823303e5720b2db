package transport

import (
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/process"
)

// Liveness reports whether a process is running.
type Liveness interface {
	IsAlive(id process.ID) bool
}

// MemoryOption configures a Memory transport.
type MemoryOption func(*Memory)

// WithLogger sets the transport's logger.
func WithLogger(logger *logging.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

// WithStepDelay delays every simulated worker-side event by d.
func WithStepDelay(d time.Duration) MemoryOption {
	return func(m *Memory) { m.stepDelay = d }
}

// WithFailEvaluation makes every simulated script evaluation fail.
func WithFailEvaluation(fail bool) MemoryOption {
	return func(m *Memory) { m.failEvaluation = fail }
}

type runningWorker struct {
	generation uint64
	threadID   int64
}

// Memory is an in-process Transport that simulates the worker side.
// Events are produced on a dedicated goroutine in the order their causes were
// sent. Close must be called to release it.
type Memory struct {
	live   Liveness
	logger *logging.Logger

	stepDelay      time.Duration
	failEvaluation bool

	events chan Event
	done   chan struct{}
	worker *executor.Loop

	mu           sync.Mutex
	closed       bool
	failNextSend int
	nextThreadID int64
	running      map[process.ID]map[int64]runningWorker
	sent         []Message
}

// NewMemory creates a Memory transport. live decides which processes are
// reachable; a nil live treats every process as reachable.
func NewMemory(live Liveness, opts ...MemoryOption) *Memory {
	m := &Memory{
		live:    live,
		events:  make(chan Event),
		done:    make(chan struct{}),
		worker:  executor.NewLoop("worker-side"),
		running: make(map[process.ID]map[int64]runningWorker),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.logger = m.logger.WithComponent("transport")
	return m
}

// Events implements Transport.
func (m *Memory) Events() <-chan Event {
	return m.events
}

// Send implements Transport.
func (m *Memory) Send(processID process.ID, msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.failNextSend > 0 {
		m.failNextSend--
		m.logger.Debug("send failed (injected)", "process_id", int64(processID), "type", string(msg.Type))
		m.rejectLocked(processID, msg)
		return false
	}
	if m.live != nil && !m.live.IsAlive(processID) {
		m.logger.Debug("send to dead process", "process_id", int64(processID), "type", string(msg.Type))
		m.rejectLocked(processID, msg)
		return false
	}
	m.sent = append(m.sent, msg)

	switch msg.Type {
	case MessageStartWorker:
		m.startLocked(processID, msg)
	case MessageStopWorker:
		m.stopLocked(processID, msg)
	}
	return true
}

func (m *Memory) startLocked(processID process.ID, msg Message) {
	m.nextThreadID++
	threadID := m.nextThreadID
	workers, ok := m.running[processID]
	if !ok {
		workers = make(map[int64]runningWorker)
		m.running[processID] = workers
	}
	workers[msg.WorkerID] = runningWorker{generation: msg.Generation, threadID: threadID}

	base := Event{ProcessID: processID, WorkerID: msg.WorkerID, Generation: msg.Generation}
	steps := []Event{withType(base, EventScriptReadStarted)}
	if isNetworkURL(msg.ScriptURL) {
		steps = append(steps, withType(base, EventNetworkAccessed))
	}
	steps = append(steps, withType(base, EventScriptLoaded))

	thread := withType(base, EventThreadStarted)
	thread.ThreadID = threadID
	steps = append(steps, thread)

	evaluated := withType(base, EventScriptEvaluated)
	evaluated.Success = !m.failEvaluation
	steps = append(steps, evaluated)
	if evaluated.Success {
		steps = append(steps, withType(base, EventStarted))
	}

	for _, ev := range steps {
		m.emitLocked(ev)
	}
}

// rejectLocked handles an undeliverable message. A sender whose stop request
// is rejected detaches the worker locally, so the worker is forgotten here
// too and never reported again.
func (m *Memory) rejectLocked(processID process.ID, msg Message) {
	if msg.Type == MessageStopWorker {
		m.forgetLocked(processID, msg.WorkerID)
	}
}

func (m *Memory) forgetLocked(processID process.ID, workerID int64) (runningWorker, bool) {
	workers := m.running[processID]
	w, ok := workers[workerID]
	if !ok {
		return runningWorker{}, false
	}
	delete(workers, workerID)
	if len(workers) == 0 {
		delete(m.running, processID)
	}
	return w, true
}

func (m *Memory) stopLocked(processID process.ID, msg Message) {
	w, ok := m.forgetLocked(processID, msg.WorkerID)
	if !ok {
		return
	}
	m.emitLocked(Event{
		Type:       EventStopped,
		ProcessID:  processID,
		WorkerID:   msg.WorkerID,
		Generation: w.generation,
	})
}

// ProcessExited reports the death of a process: every worker running on it
// is detached. It matches the process.MemoryHost exit callback.
func (m *Memory) ProcessExited(processID process.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	workers := m.running[processID]
	delete(m.running, processID)

	ids := make([]int64, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.emitLocked(Event{
			Type:       EventDetached,
			ProcessID:  processID,
			WorkerID:   id,
			Generation: workers[id].generation,
		})
	}
}

// Inject queues an arbitrary worker-side event, such as a console message.
func (m *Memory) Inject(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(ev)
}

// FailNextSend makes the next n sends report the process as unreachable.
func (m *Memory) FailNextSend(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextSend = n
}

// Sent returns a copy of every message accepted so far.
func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Running returns the number of workers the simulated processes are running.
func (m *Memory) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, workers := range m.running {
		n += len(workers)
	}
	return n
}

// Close stops event delivery and closes the Events channel. Undelivered
// events are dropped.
func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.worker.Close()
	close(m.events)
}

func (m *Memory) emitLocked(ev Event) {
	if m.closed {
		return
	}
	delay := m.stepDelay
	m.worker.Post(func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-m.done:
				return
			}
		}
		select {
		case m.events <- ev:
		case <-m.done:
		}
	})
}

func withType(base Event, t EventType) Event {
	base.Type = t
	return base
}

func isNetworkURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

var _ Transport = (*Memory)(nil)
