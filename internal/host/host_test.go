package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Iron-Ham/workerhost/internal/config"
	"github.com/Iron-Ham/workerhost/internal/errors"
	"github.com/Iron-Ham/workerhost/internal/event"
	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/inspection"
	"github.com/Iron-Ham/workerhost/internal/procmgr"
	"github.com/Iron-Ham/workerhost/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 5 * time.Second

func testConfig(count int) *config.Config {
	cfg := config.Default()
	cfg.Worker.Count = count
	cfg.Worker.StepDelay = 0
	return cfg
}

func newHost(t *testing.T, cfg *config.Config, opts ...Option) *Host {
	t.Helper()
	h, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	h.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, h.Close(ctx))
	})
	return h
}

func statuses(t *testing.T, h *Host) []WorkerStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	out, err := h.Statuses(ctx)
	require.NoError(t, err)
	return out
}

// flushHost waits until tasks already posted to the host loop have run.
func flushHost(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, executor.Call(ctx, h.hostLoop, func() {}))
}

func snapshot(t *testing.T, h *Host) procmgr.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	var snap procmgr.Snapshot
	require.NoError(t, executor.Call(ctx, h.hostLoop, func() { snap = h.manager.Snapshot() }))
	return snap
}

func allIn(t *testing.T, h *Host, want worker.Status) func() bool {
	return func() bool {
		for _, s := range statuses(t, h) {
			if s.Status != want {
				return false
			}
		}
		return true
	}
}

func TestHost_StartAndStopWorkers(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHost(t, testConfig(3), WithRegisterer(reg))

	// Published on the control loop; read only after a Statuses call.
	var stopped []int64
	h.Bus().Subscribe(event.TypeWorkerStatusChanged, func(e event.Event) {
		if changed := e.(event.WorkerStatusChangedEvent); changed.CurrentStatus == "stopped" {
			stopped = append(stopped, changed.WorkerID)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	ids, err := h.StartWorkers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []worker.ID{1, 2, 3}, ids)

	require.Eventually(t, allIn(t, h, worker.StatusRunning), waitFor, 10*time.Millisecond)
	for _, s := range statuses(t, h) {
		assert.True(t, s.ProcessID.IsValid(), "worker %d has no process", s.ID)
		assert.Equal(t, uint64(1), s.Generation)
		assert.Equal(t, worker.PhaseScriptEvaluated, s.Phase)
	}

	require.NoError(t, h.StopWorkers(ctx))
	for _, s := range statuses(t, h) {
		assert.Equal(t, worker.StatusStopped, s.Status)
	}
	flushHost(t, h)
	for _, id := range h.Processes().Processes() {
		assert.Zero(t, h.Processes().RefCount(id), "process %v still referenced", id)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, stopped)
	assert.Zero(t, h.Transport().Running())
	assert.Zero(t, h.Registry().ActiveRoutes())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "workerhost_step_duration_seconds")
	assert.Contains(t, names, "workerhost_process_allocations_total")
}

func TestHost_EvaluationFailure(t *testing.T) {
	cfg := testConfig(1)
	cfg.Worker.FailEvaluation = true
	h := newHost(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := h.StartWorkers(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrScriptEvaluateFailed), "err = %v", err)

	for _, s := range statuses(t, h) {
		assert.Equal(t, worker.StatusStopped, s.Status)
	}
}

func TestHost_ProcessDeathDetachesWorkers(t *testing.T) {
	h := newHost(t, testConfig(1))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := h.StartWorkers(ctx)
	require.NoError(t, err)
	require.Eventually(t, allIn(t, h, worker.StatusRunning), waitFor, 10*time.Millisecond)

	pid := statuses(t, h)[0].ProcessID
	require.NoError(t, h.KillProcess(pid))

	require.Eventually(t, allIn(t, h, worker.StatusStopped), waitFor, 10*time.Millisecond)
	flushHost(t, h)
	assert.Zero(t, h.Processes().RefCount(pid))
}

func TestHost_IsolatedScopesGetOwnProcess(t *testing.T) {
	cfg := testConfig(2)
	cfg.Process.IsolateScopes = []string{"https://localhost/**"}
	h := newHost(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := h.StartWorkers(ctx)
	require.NoError(t, err)

	st := statuses(t, h)
	require.Len(t, st, 2)
	assert.NotEqual(t, st[0].ProcessID, st[1].ProcessID)
}

func TestHost_ScriptChangeStopsWorkers(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "main.js")
	require.NoError(t, os.WriteFile(script, []byte("v1"), 0o644))

	cfg := testConfig(1)
	cfg.Worker.ScriptURL = "https://localhost/worker/main.js"
	cfg.Watch.Enabled = true
	cfg.Watch.Paths = []string{script}
	cfg.Watch.Debounce = 10 * time.Millisecond
	h := newHost(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := h.StartWorkers(ctx)
	require.NoError(t, err)
	require.Eventually(t, allIn(t, h, worker.StatusRunning), waitFor, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(script, []byte("v2"), 0o644))

	require.Eventually(t, allIn(t, h, worker.StatusStopped), waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return h.Registry().Count(inspection.KindDoomed, 1) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestHost_CloseIsIdempotent(t *testing.T) {
	h, err := New(testConfig(1), nil)
	require.NoError(t, err)
	h.Run()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))

	_, err = h.StartWorker(ctx, worker.StartParams{ScriptURL: "https://localhost/a.js"})
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(0)
	_, err := New(cfg, nil)
	var verrs config.ValidationErrors
	assert.True(t, errors.As(err, &verrs), "err = %v", err)
}

func TestHost_RunningWorkerAttractsSameScope(t *testing.T) {
	tests := []struct {
		name       string
		allowReuse bool
		processes  int
	}{
		{name: "reuse allowed", allowReuse: true, processes: 1},
		{name: "reuse disallowed", allowReuse: false, processes: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(1)
			cfg.Worker.AllowReuse = tt.allowReuse
			h := newHost(t, cfg)

			ctx, cancel := context.WithTimeout(context.Background(), waitFor)
			defer cancel()

			_, err := h.StartWorkers(ctx)
			require.NoError(t, err)
			require.Eventually(t, allIn(t, h, worker.StatusRunning), waitFor, 10*time.Millisecond)

			_, err = h.StartWorkers(ctx)
			require.NoError(t, err)
			require.Eventually(t, allIn(t, h, worker.StatusRunning), waitFor, 10*time.Millisecond)

			st := statuses(t, h)
			require.Len(t, st, 2)
			if tt.allowReuse {
				assert.Equal(t, st[0].ProcessID, st[1].ProcessID)
			} else {
				assert.NotEqual(t, st[0].ProcessID, st[1].ProcessID)
			}
			assert.Len(t, h.Processes().Processes(), tt.processes)

			refs := snapshot(t, h).ScopeRefs["https://localhost/worker/"]
			total := 0
			for _, n := range refs {
				total += n
			}
			assert.Equal(t, 2, total, "scope refs = %v", refs)

			require.NoError(t, h.StopWorkers(ctx))
			assert.Empty(t, snapshot(t, h).ScopeRefs)
		})
	}
}

func TestHost_RetriesRetryableStartFailure(t *testing.T) {
	h := newHost(t, testConfig(1))
	h.Processes().FailNextCreate(1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	ids, err := h.StartWorkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []worker.ID{2}, ids)

	require.Eventually(t, func() bool {
		st := statuses(t, h)
		return len(st) == 2 && st[1].Status == worker.StatusRunning
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, worker.StatusStopped, statuses(t, h)[0].Status)
}

func TestHost_StopWhileStartingIsInformationalAbort(t *testing.T) {
	cfg := testConfig(1)
	cfg.Worker.StepDelay = 50 * time.Millisecond
	h := newHost(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.StartWorker(ctx, worker.StartParams{ScriptURL: cfg.Worker.ScriptURL})
		done <- err
	}()
	require.Eventually(t, func() bool {
		st := statuses(t, h)
		return len(st) == 1 && st[0].Status == worker.StatusStarting
	}, waitFor, time.Millisecond)
	require.NoError(t, h.StopWorkers(ctx))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrAbort), "err = %v", err)
		assert.Equal(t, errors.SeverityInfo, errors.GetSeverity(err))
	case <-time.After(waitFor):
		t.Fatal("StartWorker never returned")
	}
}

func TestHost_DebuggerDefersScriptChangeStop(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "main.js")
	require.NoError(t, os.WriteFile(script, []byte("v1"), 0o644))

	cfg := testConfig(1)
	cfg.Worker.ScriptURL = "https://localhost/worker/main.js"
	cfg.Watch.Enabled = true
	cfg.Watch.Paths = []string{script}
	cfg.Watch.Debounce = 10 * time.Millisecond
	h := newHost(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	ids, err := h.StartWorkers(ctx)
	require.NoError(t, err)
	require.Eventually(t, allIn(t, h, worker.StatusRunning), waitFor, 10*time.Millisecond)

	require.NoError(t, h.SetDevToolsAttached(ctx, ids[0], true))
	assert.True(t, statuses(t, h)[0].DevTools)

	require.NoError(t, os.WriteFile(script, []byte("v2"), 0o644))
	require.Eventually(t, func() bool {
		return h.Registry().Count(inspection.KindStopIgnored, 1) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, worker.StatusRunning, statuses(t, h)[0].Status)

	require.NoError(t, h.SetDevToolsAttached(ctx, ids[0], false))
	require.Eventually(t, allIn(t, h, worker.StatusStopped), waitFor, 10*time.Millisecond)
}

func TestHost_SetDevToolsAttachedUnknownWorker(t *testing.T) {
	h := newHost(t, testConfig(1))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	err := h.SetDevToolsAttached(ctx, 42, true)
	assert.True(t, errors.Is(err, ErrUnknownWorker), "err = %v", err)
}
