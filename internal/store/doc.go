// Package store provides SQLite-backed storage for facts and rule results.
//
// The store holds:
//   - Facts: reported values with their aspect coordinates
//   - Fact Aspects: one posting row per (aspect, value, fact)
//   - Runs: one row per processor run with its final status
//   - Results: rule output, content-addressed by result id
//
// Index answers the engine's fact index lookups (All, Lookup, Missing,
// Fact) from the posting table, and ResultSink streams a run's messages
// into the results table.
//
// # Critical Patterns
//
// Content-Addressed Idempotency
//   - results.id is ir.ResultID, facts.id is the fact id
//   - All inserts use ON CONFLICT DO NOTHING; rewriting is a no-op
//
// Logical Identity and Time
//   - Results are ordered by seq (the processor's logical clock), runs by
//     their start seq, NEVER by timestamps
//
// Deterministic Query Results
//   - All multi-row queries include ORDER BY with a stable tiebreaker:
//     ORDER BY seq ASC, id ASC COLLATE BINARY
//
// Canonical Encoding
//   - Alignments, tags, dimensions and fact id lists are stored as RFC 8785
//     canonical JSON via ir.MarshalCanonical
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Open(MemoryPath) skips the WAL and synchronous settings; the CLI uses it
// for runs over a fact file with no --db.
package store
