package procmgr

import "testing"

type countingReleaser struct {
	released []int64
}

func (c *countingReleaser) ReleaseProcess(workerID int64) {
	c.released = append(c.released, workerID)
}

func TestHandle_ReleaseOnce(t *testing.T) {
	owner := &countingReleaser{}
	h := NewHandle(owner, 3, 11, true)

	if h.ProcessID() != 11 || !h.IsNew() || h.Released() {
		t.Fatalf("unexpected handle state: %+v", h)
	}

	h.Release()
	h.Release()

	if len(owner.released) != 1 || owner.released[0] != 3 {
		t.Errorf("released = %v, want [3]", owner.released)
	}
	if !h.Released() {
		t.Error("Released() should be true")
	}
}

func TestHandle_NilSafe(t *testing.T) {
	var h *Handle
	h.Release()

	NewHandle(nil, 1, 1, false).Release()
}
