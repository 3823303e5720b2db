package process

import (
	"fmt"
	"sort"
	"sync"
)

// info is the host-side record for one process.
type info struct {
	originKey    string
	refCount     int
	backgrounded bool
	alive        bool
}

// MemoryHost is an in-memory Host. Processes are bookkeeping records only;
// nothing is spawned. It is used by the CLI simulation and by tests.
type MemoryHost struct {
	mu        sync.Mutex
	nextID    ID
	processes map[ID]*info
	failNext  int

	onExit func(id ID)
}

// NewMemoryHost creates an empty MemoryHost. Process IDs start at 1.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		processes: make(map[ID]*info),
	}
}

// Create implements Host.
func (h *MemoryHost) Create(originKey string) (ID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failNext > 0 {
		h.failNext--
		return InvalidID, fmt.Errorf("%w: origin %q", ErrCreateFailed, originKey)
	}

	h.nextID++
	id := h.nextID
	h.processes[id] = &info{originKey: originKey, alive: true}
	return id, nil
}

// Spawn creates a process that is not backing any worker yet, as when a page
// for the origin opens. It never fails.
func (h *MemoryHost) Spawn(originKey string) ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.processes[id] = &info{originKey: originKey, alive: true}
	return id
}

// IncrementRefCount implements Host.
func (h *MemoryHost) IncrementRefCount(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[id]; ok {
		p.refCount++
	}
}

// DecrementRefCount implements Host.
func (h *MemoryHost) DecrementRefCount(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[id]; ok && p.refCount > 0 {
		p.refCount--
	}
}

// IsBackgrounded implements Host.
func (h *MemoryHost) IsBackgrounded(id ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.processes[id]
	return ok && p.backgrounded
}

// IsAlive implements Host.
func (h *MemoryHost) IsAlive(id ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.processes[id]
	return ok && p.alive
}

// SetBackgrounded changes the placement priority of a process.
func (h *MemoryHost) SetBackgrounded(id ID, backgrounded bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.processes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProcess, id)
	}
	p.backgrounded = backgrounded
	return nil
}

// Kill marks a process dead and invokes the exit callback, if any, outside
// the host lock.
func (h *MemoryHost) Kill(id ID) error {
	h.mu.Lock()
	p, ok := h.processes[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownProcess, id)
	}
	wasAlive := p.alive
	p.alive = false
	cb := h.onExit
	h.mu.Unlock()

	if wasAlive && cb != nil {
		cb(id)
	}
	return nil
}

// OnExit registers a callback invoked when a process is killed.
func (h *MemoryHost) OnExit(cb func(id ID)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = cb
}

// FailNextCreate makes the next n Create calls fail.
func (h *MemoryHost) FailNextCreate(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = n
}

// RefCount returns the number of workers the process currently hosts.
func (h *MemoryHost) RefCount(id ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[id]; ok {
		return p.refCount
	}
	return 0
}

// OriginKey returns the affinity grouping the process was created for.
func (h *MemoryHost) OriginKey(id ID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processes[id]; ok {
		return p.originKey
	}
	return ""
}

// Processes returns the IDs of every process ever created, ascending.
func (h *MemoryHost) Processes() []ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]ID, 0, len(h.processes))
	for id := range h.processes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
