// Package store provides SQLite-backed durable storage for execution
// results.
//
// The archive holds:
//   - Executions: one row per finalized run, with the full result as JSON
//   - Steps: one row per recorded step, keyed by (execution_id, idx)
//   - Annotations: tags, notes and bookmark per execution
//
// # Critical Patterns
//
// Immutable records:
//   - Save uses ON CONFLICT(id) DO NOTHING; a result is written once
//   - Only annotations change after a save
//
// Deterministic query results:
//   - Every list query ends with id ASC COLLATE BINARY
//   - Steps are read ORDER BY idx ASC
//
// Content addressing:
//   - Bit-strings are summarized by ir.BitsHash and steps by ir.StepHash,
//     so two archives can be compared without reading the bits
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Steps and annotations cascade with their execution
package store
