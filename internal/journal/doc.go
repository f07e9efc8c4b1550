// Package journal provides a SQLite-backed log of scope lifecycle events.
//
// The journal records one entry per lifecycle transition reported through
// scope.Observer: started, ended, cloned, cancelled and callback_failed.
// Entries carry metadata only (scope IDs, callback indexes, error text).
// Values stored in a scope are never written.
//
// # Ordering
//
// Entries are ordered by seq, an autoincrement column assigned on insert.
// Queries always ORDER BY seq ASC so repeated reads are identical.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: SQLite allows one writer
//
// Use ":memory:" as the path for a throwaway journal in tests.
package journal
