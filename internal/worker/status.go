package worker

import "strconv"

// ID identifies a worker instance.
type ID int64

// String returns the decimal form of the ID.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Status is the lifecycle status of a worker instance.
type Status int

const (
	// StatusStopped indicates the worker is not running. Initial and terminal.
	StatusStopped Status = iota

	// StatusStarting indicates a start sequence is in progress.
	StatusStarting

	// StatusRunning indicates the worker's script has started.
	StatusRunning

	// StatusStopping indicates a stop request was delivered and the worker
	// has not confirmed it yet.
	StatusStopping
)

// String returns a human-readable string for the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Phase is the step a starting worker has reached. It is informational;
// Status drives behavior.
type Phase int

// Start phases in the order they are reached.
const (
	PhaseNone Phase = iota
	PhaseAllocatingProcess
	PhaseRegisteringInspection
	PhaseSentStartMessage
	PhaseScriptDownloading
	PhaseScriptLoaded
	PhaseThreadStarted
	PhaseScriptEvaluated
)

var phaseNames = [...]string{
	PhaseNone:                  "None",
	PhaseAllocatingProcess:     "AllocatingProcess",
	PhaseRegisteringInspection: "RegisteringInspection",
	PhaseSentStartMessage:      "SentStartMessage",
	PhaseScriptDownloading:     "ScriptDownloading",
	PhaseScriptLoaded:          "ScriptLoaded",
	PhaseThreadStarted:         "ThreadStarted",
	PhaseScriptEvaluated:       "ScriptEvaluated",
}

// String returns the phase name used in logs and telemetry.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "Unknown"
	}
	return phaseNames[p]
}

// previous returns the phase that must immediately precede p.
func (p Phase) previous() Phase {
	if p <= PhaseAllocatingProcess {
		return PhaseNone
	}
	return p - 1
}
