// Package procmgr allocates host processes to workers.
//
// A [Manager] keeps two independent counters per process. The scope
// affinity score counts how many consumers of a scope (open pages, other
// workers' registrations) reference the process and decides which process a
// new worker for that scope reuses. The host worker refcount, kept by the
// [process.Host], counts the workers a process currently backs and keeps it
// alive.
//
// Allocation ranks the live processes referencing the scope by descending
// score (ties broken by ascending process ID) and picks the first one that
// is not backgrounded, falling back to the best backgrounded one. If there is
// no candidate, or reuse is not allowed, a new process is created.
//
// The manager's state lives on the host execution context. Results are
// delivered on the reply (control) context. A [Handle] is the control
// context's claim on one allocation.
package procmgr
