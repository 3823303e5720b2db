package process

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestMemoryHost_CreateAssignsIncreasingIDs(t *testing.T) {
	h := NewMemoryHost()
	a, err := h.Create("https://a.example")
	if err != nil {
		t.Fatal(err)
	}
	b := h.Spawn("https://b.example")

	if a != 1 || b != 2 {
		t.Errorf("ids = %v, %v, want 1, 2", a, b)
	}
	if h.OriginKey(a) != "https://a.example" {
		t.Errorf("origin = %q", h.OriginKey(a))
	}
	if !h.IsAlive(a) || !h.IsAlive(b) {
		t.Error("new processes should be alive")
	}
	if !slices.Equal(h.Processes(), []ID{1, 2}) {
		t.Errorf("Processes() = %v", h.Processes())
	}
}

func TestMemoryHost_FailNextCreate(t *testing.T) {
	h := NewMemoryHost()
	h.FailNextCreate(2)

	for range 2 {
		id, err := h.Create("https://a.example")
		if !errors.Is(err, ErrCreateFailed) {
			t.Fatalf("Create error = %v, want ErrCreateFailed", err)
		}
		if id.IsValid() {
			t.Errorf("failed Create returned valid id %v", id)
		}
	}
	if _, err := h.Create("https://a.example"); err != nil {
		t.Errorf("third Create failed: %v", err)
	}
}

func TestMemoryHost_RefCounting(t *testing.T) {
	h := NewMemoryHost()
	id := h.Spawn("o")

	h.IncrementRefCount(id)
	h.IncrementRefCount(id)
	h.DecrementRefCount(id)
	if got := h.RefCount(id); got != 1 {
		t.Errorf("refcount = %d, want 1", got)
	}

	h.DecrementRefCount(id)
	h.DecrementRefCount(id)
	if got := h.RefCount(id); got != 0 {
		t.Errorf("refcount = %d, want 0 (never negative)", got)
	}

	h.IncrementRefCount(99)
	if got := h.RefCount(99); got != 0 {
		t.Errorf("unknown process refcount = %d", got)
	}
}

func TestMemoryHost_Backgrounded(t *testing.T) {
	h := NewMemoryHost()
	id := h.Spawn("o")

	if err := h.SetBackgrounded(id, true); err != nil {
		t.Fatal(err)
	}
	if !h.IsBackgrounded(id) {
		t.Error("process should be backgrounded")
	}
	if err := h.SetBackgrounded(42, true); !errors.Is(err, ErrUnknownProcess) {
		t.Errorf("SetBackgrounded(unknown) = %v, want ErrUnknownProcess", err)
	}
}

func TestMemoryHost_KillNotifiesOnce(t *testing.T) {
	h := NewMemoryHost()
	id := h.Spawn("o")

	var exited []ID
	h.OnExit(func(id ID) {
		// The callback may call back into the host.
		if h.IsAlive(id) {
			t.Error("process still alive inside exit callback")
		}
		exited = append(exited, id)
	})

	if err := h.Kill(id); err != nil {
		t.Fatal(err)
	}
	if err := h.Kill(id); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(exited, []ID{id}) {
		t.Errorf("exit callbacks = %v, want one for %v", exited, id)
	}
	if err := h.Kill(42); !errors.Is(err, ErrUnknownProcess) {
		t.Errorf("Kill(unknown) = %v, want ErrUnknownProcess", err)
	}
}

func TestMemoryHost_ConcurrentUse(t *testing.T) {
	h := NewMemoryHost()
	id := h.Spawn("o")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IncrementRefCount(id)
				_ = h.IsAlive(id)
				h.DecrementRefCount(id)
			}
		}()
	}
	wg.Wait()

	if got := h.RefCount(id); got != 0 {
		t.Errorf("refcount = %d, want 0", got)
	}
}

func TestSettingsClone(t *testing.T) {
	s := Settings{Flags: []string{"--a"}, Locale: "en"}
	c := s.Clone()
	c.Flags[0] = "--b"
	if s.Flags[0] != "--a" {
		t.Error("Clone shares the flags slice")
	}
}

func TestIDString(t *testing.T) {
	if ID(12).String() != "12" || InvalidID.IsValid() {
		t.Error("unexpected ID formatting or validity")
	}
}
