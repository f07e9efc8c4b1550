// Package loop implements a deterministic, single-threaded cooperative
// scheduler.
//
// A Loop multiplexes many logical operations on one goroutine. An operation
// suspends by scheduling its continuation, either right away with Post or
// after a virtual delay with After, and resumes when the loop reaches it,
// possibly interleaved with other operations' continuations.
//
// Every task is called with the exact context.Context it was scheduled
// with. That is what carries request scope across suspension points: a
// continuation scheduled from inside a scope.Run resumes inside that same
// scope, even though Run itself returned long ago.
//
// # Ordering
//
//   - Posted tasks run first, in FIFO order.
//   - When no posted task is pending, virtual time jumps to the earliest
//     timer. Timers due at the same instant run in scheduling order.
//   - Run returns nil once nothing is left to do.
//
// Virtual time never reads the wall clock, so a scenario produces the same
// interleaving on every run.
package loop
