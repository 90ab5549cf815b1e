// Package store is the SQLite run journal.
//
// Three tables:
//   - runs: one terminal snapshot per settlement run, keyed by run id
//   - run_steps: the stage transitions of a run, ordered by seq
//   - submissions: chain writes keyed by report digest
//
// Writes are idempotent (ON CONFLICT DO NOTHING). Reads always order by a
// seq column, never by timestamps, so output is stable across invocations.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
