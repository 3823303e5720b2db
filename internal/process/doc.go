// Package process defines the host-process collaborator used by the process
// manager.
//
// The worker host never launches OS processes itself. It asks a [Host] to
// create one for an origin, tells it how many workers each process backs, and
// queries its placement priority and liveness when ranking reuse candidates.
//
// # Main Types
//
//   - [Host]: the collaborator interface (Create, ref counting, IsBackgrounded, IsAlive)
//   - [ID]: process identifier; [InvalidID] accompanies failed allocations
//   - [Settings]: host-wide options handed to every allocated worker
//   - [MemoryHost]: in-memory implementation for simulation and tests
//
// # Thread Safety
//
// The process manager calls Host methods only from the host execution context.
// [MemoryHost] additionally guards its state with a mutex so tests and the CLI
// may inspect it from any goroutine.
//
// # Basic Usage
//
//	host := process.NewMemoryHost()
//	id, err := host.Create("https://example.com")
//	if err != nil {
//	    return err
//	}
//	host.IncrementRefCount(id)
//	defer host.DecrementRefCount(id)
package process
