// Package telemetry records start-phase durations and allocation outcomes.
//
// [Recorder] is the observational hook the worker instance and the process
// manager report to. [Prometheus] exports the samples as Prometheus metrics
// and [Server] serves them over HTTP. [Nop] discards everything.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Allocation outcomes passed to CountAllocation.
const (
	OutcomeReused  = "reused"
	OutcomeCreated = "created"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Recorder receives telemetry samples. Implementations must be safe for
// concurrent use because the control and host contexts report independently.
type Recorder interface {
	// ObserveDuration records a named duration sample such as
	// "StartWorker.ScriptLoaded".
	ObserveDuration(name string, d time.Duration)

	// CountAllocation counts one process allocation with the given outcome.
	CountAllocation(outcome string)
}

// Nop is a Recorder that discards every sample.
type Nop struct{}

// ObserveDuration implements Recorder.
func (Nop) ObserveDuration(string, time.Duration) {}

// CountAllocation implements Recorder.
func (Nop) CountAllocation(string) {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	durations   *prometheus.HistogramVec
	allocations *prometheus.CounterVec
}

// NewPrometheus registers the worker host collectors on reg. Passing
// prometheus.DefaultRegisterer exposes them through promhttp.Handler.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		durations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workerhost_step_duration_seconds",
				Help:    "Duration of worker start phases",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"name"},
		),
		allocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workerhost_process_allocations_total",
				Help: "Total process allocations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveDuration implements Recorder.
func (p *Prometheus) ObserveDuration(name string, d time.Duration) {
	p.durations.WithLabelValues(name).Observe(d.Seconds())
}

// CountAllocation implements Recorder.
func (p *Prometheus) CountAllocation(outcome string) {
	p.allocations.WithLabelValues(outcome).Inc()
}

// Sample is one duration observation held by Memory.
type Sample struct {
	Name     string
	Duration time.Duration
}

// Memory is a Recorder that keeps samples in memory for inspection.
type Memory struct {
	mu          sync.Mutex
	samples     []Sample
	allocations map[string]int
}

// NewMemory creates an empty Memory recorder.
func NewMemory() *Memory {
	return &Memory{allocations: make(map[string]int)}
}

// ObserveDuration implements Recorder.
func (m *Memory) ObserveDuration(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, Sample{Name: name, Duration: d})
}

// CountAllocation implements Recorder.
func (m *Memory) CountAllocation(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[outcome]++
}

// Names returns the sample names in observation order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.samples))
	for i, s := range m.samples {
		names[i] = s.Name
	}
	return names
}

// Allocations returns how many allocations were counted with outcome.
func (m *Memory) Allocations(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocations[outcome]
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = (*Memory)(nil)
)
