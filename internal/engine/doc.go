// Package engine runs processes and records their provenance.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All process state is owned by one goroutine draining a FIFO event queue.
// This ensures:
//   - One step of one process runs at a time
//   - Awaitables resolve in child completion order
//   - Checkpoints always describe a state between two events
//
// Event Processing Flow:
//  1. Submit stores a process node with its input and call links
//  2. A start event makes the process live and moves it to running
//  3. Workchains advance one outline step per step event
//  4. Steps submit children and await them; the workchain waits
//  5. A terminated child notifies its caller, which resumes once every
//     awaitable is resolved
//  6. Terminal processes are sealed and removed from the loop
//
// Calcfunctions run on the loop. Calcjobs request a transport from the
// pool and run their job on another goroutine; the lease and the job
// result come back as events.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every event is stamped with a monotonic seq from Clock.Next().
// Wall-clock timestamps never order events.
//
// Checkpoints:
// A non-terminal workchain writes its stepper cursor, context variables,
// awaitables, outputs and step count to the checkpoints attribute after
// every transition. Recover rebuilds live processes from them.
package engine
