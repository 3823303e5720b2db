package executor

import "sync"

// Queue is an Executor whose tasks only run when the owner pumps it.
// It makes cross-context handshakes reproducible in tests: every hop between
// contexts is an explicit step.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Post implements Executor.
func (q *Queue) Post(task func()) bool {
	if task == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, task)
	return true
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunPending runs the tasks queued at the time of the call and returns how
// many ran. Tasks posted while running are left for the next call.
func (q *Queue) RunPending() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, task := range batch {
		task()
	}
	return len(batch)
}

// Close drops pending tasks and rejects further posts.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
}

// RunUntilIdle pumps every queue until all of them are empty.
func RunUntilIdle(queues ...*Queue) {
	for {
		ran := 0
		for _, q := range queues {
			ran += q.RunPending()
		}
		if ran == 0 {
			return
		}
	}
}
