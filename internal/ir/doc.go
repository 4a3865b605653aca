// Package ir holds the shared record types for bitstrat: scripts,
// strategies, transformation steps, execution results and verification
// reports, plus the deterministic value model used for operation
// parameters.
//
// Every other internal package imports ir. ir imports only bits, which
// has no internal dependencies, so the record types stay at the bottom of
// the dependency graph.
//
// Key constraints:
//   - Operation parameters use the sealed Value model (no floats, no null)
//     so they hash identically across runs
//   - Content hashes are domain-separated BLAKE3 over canonical JSON
//   - All JSON tags use snake_case
package ir
