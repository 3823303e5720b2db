package procmgr

import "github.com/Iron-Ham/workerhost/internal/process"

// Releaser gives a worker's process back to its allocator.
type Releaser interface {
	ReleaseProcess(workerID int64)
}

// Handle is a worker's claim on an allocated process. Releasing the handle
// releases the allocation. It refers to its manager only through Releaser and
// the worker ID, so it holds no back pointer into manager state.
//
// A Handle belongs to the control context and is not safe for concurrent use.
type Handle struct {
	owner     Releaser
	workerID  int64
	processID process.ID
	isNew     bool
	released  bool
}

// NewHandle creates a Handle for an allocation that owner made to workerID.
func NewHandle(owner Releaser, workerID int64, processID process.ID, isNew bool) *Handle {
	return &Handle{
		owner:     owner,
		workerID:  workerID,
		processID: processID,
		isNew:     isNew,
	}
}

// ProcessID returns the allocated process.
func (h *Handle) ProcessID() process.ID { return h.processID }

// IsNew reports whether the process was created for this allocation.
func (h *Handle) IsNew() bool { return h.isNew }

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.released }

// Release gives the process back. Calls after the first do nothing.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	if h.owner != nil {
		h.owner.ReleaseProcess(h.workerID)
	}
}
