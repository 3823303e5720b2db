package process

import (
	"errors"
	"strconv"
)

// Common errors returned by Host implementations.
var (
	// ErrCreateFailed is returned when the host cannot launch a new process.
	ErrCreateFailed = errors.New("process creation failed")

	// ErrUnknownProcess is returned when an operation names a process the
	// host never created or has already reaped.
	ErrUnknownProcess = errors.New("unknown process")
)

// ID identifies a host process. Zero is never a valid ID.
type ID int64

// InvalidID is the ID reported alongside failed allocations.
const InvalidID ID = 0

// IsValid reports whether id refers to a process.
func (id ID) IsValid() bool { return id > 0 }

// String returns the decimal form of the ID.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Settings are host-wide options delivered to a worker together with its
// process. They are immutable once handed out.
type Settings struct {
	// Flags are extra script-engine flags applied in every worker process.
	Flags []string

	// Locale is the locale reported to worker scripts.
	Locale string
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := Settings{Locale: s.Locale}
	if len(s.Flags) > 0 {
		out.Flags = append([]string(nil), s.Flags...)
	}
	return out
}

// Host creates and tracks the OS processes that workers run in.
//
// Implementations are called only from the host execution context, so they
// need no synchronization of their own for the manager's sake. MemoryHost is
// nonetheless safe for concurrent use so tests can inspect it.
type Host interface {
	// Create launches a process in the affinity grouping identified by
	// originKey and returns its ID.
	Create(originKey string) (ID, error)

	// IncrementRefCount records one more worker hosted by the process,
	// keeping it alive.
	IncrementRefCount(id ID)

	// DecrementRefCount records one fewer worker hosted by the process.
	DecrementRefCount(id ID)

	// IsBackgrounded reports whether the process is deprioritized for new
	// placements (for example, none of its pages are visible).
	IsBackgrounded(id ID) bool

	// IsAlive reports whether the process is still running.
	IsAlive(id ID) bool
}
