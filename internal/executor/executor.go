// Package executor provides the single-threaded execution contexts the worker
// host runs on.
//
// The host uses two of them: a control context that owns worker instances and
// their start sequences, and a host context that owns process creation,
// process bookkeeping and inspection registration. Contexts never share
// mutable state; they exchange closures over immutable values with [Post].
//
// Two implementations are provided:
//   - [Loop]: a goroutine draining an unbounded FIFO mailbox
//   - [Queue]: a manually pumped FIFO for deterministic tests
package executor

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Call when the executor no longer accepts tasks.
var ErrClosed = errors.New("executor closed")

// Executor runs posted tasks one at a time in posting order.
type Executor interface {
	// Post schedules task to run on the executor. It never blocks and never
	// runs task inline. Returns false if the executor has been closed, in
	// which case task is dropped.
	Post(task func()) bool
}

// Loop is an Executor backed by a dedicated goroutine.
type Loop struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool

	done chan struct{}
}

// NewLoop starts a Loop. Close must be called to stop its goroutine.
func NewLoop(name string) *Loop {
	l := &Loop{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Name returns the loop name given at construction.
func (l *Loop) Name() string { return l.name }

// Post implements Executor.
func (l *Loop) Post(task func()) bool {
	if task == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.pending = append(l.pending, task)
	l.cond.Signal()
	return true
}

// Close stops accepting tasks, lets already queued tasks finish and waits for
// the goroutine to exit. Safe to call more than once. Must not be called from
// a task running on the same loop.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Signal()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, task := range batch {
			task()
		}
	}
}

// Call posts fn to e and blocks until it has run or ctx is done.
// It is meant for code running outside every executor (CLI, tests); calling
// it from a task on e deadlocks.
func Call(ctx context.Context, e Executor, fn func()) error {
	done := make(chan struct{})
	if !e.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
