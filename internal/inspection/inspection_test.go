package inspection

import (
	"testing"

	"github.com/Iron-Ham/workerhost/internal/executor"
)

func TestRequestRoute(t *testing.T) {
	hostQ, ctrlQ := executor.NewQueue(), executor.NewQueue()
	reg := NewMemoryRegistry()
	reg.SetWaitForDebugger(true)

	var got []Route
	for range 2 {
		ok := RequestRoute(hostQ, ctrlQ, reg, 5, func(r Route) { got = append(got, r) })
		if !ok {
			t.Fatal("RequestRoute returned false")
		}
	}
	if len(got) != 0 {
		t.Fatal("route delivered synchronously")
	}

	executor.RunUntilIdle(hostQ, ctrlQ)

	if len(got) != 2 {
		t.Fatalf("got %d routes, want 2", len(got))
	}
	if got[0].RouteID != 1 || got[1].RouteID != 2 {
		t.Errorf("route ids = %d, %d, want 1, 2", got[0].RouteID, got[1].RouteID)
	}
	if got[0].Token == "" || got[0].Token == got[1].Token {
		t.Errorf("tokens should be unique and non-empty: %q, %q", got[0].Token, got[1].Token)
	}
	if !got[0].WaitForDebugger {
		t.Error("WaitForDebugger should follow the registry setting")
	}
	if reg.ActiveRoutes() != 2 {
		t.Errorf("ActiveRoutes = %d, want 2", reg.ActiveRoutes())
	}
}

func TestRequestRoute_ClosedHost(t *testing.T) {
	hostQ, ctrlQ := executor.NewQueue(), executor.NewQueue()
	hostQ.Close()
	if RequestRoute(hostQ, ctrlQ, NewMemoryRegistry(), 1, func(Route) {
		t.Error("callback must not run")
	}) {
		t.Error("RequestRoute should fail when the host context is closed")
	}
	executor.RunUntilIdle(hostQ, ctrlQ)
}

func TestProxy_Notifications(t *testing.T) {
	hostQ := executor.NewQueue()
	reg := NewMemoryRegistry()
	route := reg.CreateRoute(9)
	p := NewProxy(reg, hostQ, 9, route.RouteID)

	p.NotifyReadyForInspection()
	p.NotifyVersionInstalled()
	p.NotifyVersionDoomed()

	if n := len(reg.Notifications()); n != 0 {
		t.Fatalf("notifications delivered synchronously: %d", n)
	}
	hostQ.RunPending()

	want := []Kind{KindReady, KindInstalled, KindDoomed}
	got := reg.Notifications()
	if len(got) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Kind != k || got[i].ProcessID != 9 || got[i].RouteID != route.RouteID {
			t.Errorf("notification %d = %+v, want kind %s", i, got[i], k)
		}
	}
}

func TestProxy_StopIgnoredOnce(t *testing.T) {
	hostQ := executor.NewQueue()
	reg := NewMemoryRegistry()
	p := NewProxy(reg, hostQ, 1, 3)

	p.NotifyStopIgnored()
	p.NotifyStopIgnored()
	p.NotifyStopIgnored()
	hostQ.RunPending()

	if n := reg.Count(KindStopIgnored, 3); n != 1 {
		t.Errorf("stop-ignored forwarded %d times, want 1", n)
	}

	// A new proxy is a new start cycle.
	NewProxy(reg, hostQ, 1, 3).NotifyStopIgnored()
	hostQ.RunPending()
	if n := reg.Count(KindStopIgnored, 3); n != 2 {
		t.Errorf("stop-ignored forwarded %d times, want 2", n)
	}
}

func TestProxy_Close(t *testing.T) {
	hostQ := executor.NewQueue()
	reg := NewMemoryRegistry()
	route := reg.CreateRoute(2)
	p := NewProxy(reg, hostQ, 2, route.RouteID)

	p.Close()
	p.Close()
	p.NotifyReadyForInspection()
	hostQ.RunPending()

	if n := reg.Count(KindDestroyed, route.RouteID); n != 1 {
		t.Errorf("destroyed posted %d times, want 1", n)
	}
	if n := reg.Count(KindReady, route.RouteID); n != 0 {
		t.Error("notifications after Close must be dropped")
	}
	if reg.ActiveRoutes() != 0 {
		t.Error("route should be forgotten after destroy")
	}

	var nilProxy *Proxy
	nilProxy.Close()
}
