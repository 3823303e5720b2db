package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_CountAllocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg)

	rec.CountAllocation(OutcomeCreated)
	rec.CountAllocation(OutcomeCreated)
	rec.CountAllocation(OutcomeReused)

	assert.Equal(t, float64(2), testutil.ToFloat64(rec.allocations.WithLabelValues(OutcomeCreated)))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.allocations.WithLabelValues(OutcomeReused)))
	assert.Equal(t, float64(0), testutil.ToFloat64(rec.allocations.WithLabelValues(OutcomeAborted)))
}

func TestPrometheus_ObserveDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg)

	rec.ObserveDuration("StartWorker.ScriptLoaded", 15*time.Millisecond)
	rec.ObserveDuration("StartWorker.Total", time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(rec.durations))
}

func TestPrometheus_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg)

	assert.Panics(t, func() { NewPrometheus(reg) })
}

func TestMemory(t *testing.T) {
	rec := NewMemory()
	rec.ObserveDuration("a", time.Millisecond)
	rec.ObserveDuration("b", time.Millisecond)
	rec.CountAllocation(OutcomeFailed)

	assert.Equal(t, []string{"a", "b"}, rec.Names())
	assert.Equal(t, 1, rec.Allocations(OutcomeFailed))
	assert.Equal(t, 0, rec.Allocations(OutcomeReused))
}

func TestNop(t *testing.T) {
	var rec Recorder = Nop{}
	assert.NotPanics(t, func() {
		rec.ObserveDuration("x", time.Second)
		rec.CountAllocation(OutcomeCreated)
	})
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg)
	rec.CountAllocation(OutcomeReused)

	srv := NewServer(":0", reg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `workerhost_process_allocations_total{outcome="reused"} 1`)
}

func TestServer_ErrBeforeStart(t *testing.T) {
	srv := NewServer(":0", prometheus.NewRegistry())
	assert.NoError(t, srv.Err())
}
