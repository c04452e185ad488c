// Package engine evaluates rule expressions over a fact index with implicit
// alignment.
//
// An expression such as Assets[] - Liabilities[] has no explicit loop: each
// factset yields one value per matching fact, and values whose aspects
// (period, entity, unit, dimensions) line up are combined. The engine makes
// this work with an iteration table.
//
// ARCHITECTURE:
//
// Iteration table:
// Every node that yields several values (factsets, constant references,
// aggregations, for loops, user function calls) is mounted as a column of
// the table of its scope. The table steps through the cross product of its
// columns like an odometer, one alignment at a time: concrete alignments
// first, values without alignment last. Scopes that must be evaluated in
// isolation (aggregate arguments, for bodies, function bodies, where
// clauses) push a sub-table on top of the enclosing one.
//
// Evaluation:
// Context.Evaluate dispatches on the node kind through a Registry. Mounted
// nodes are read from their column; unmounted ones are looked up in a
// per-context cache keyed by the current values of their dependencies, or
// evaluated and mounted. Evaluation results are Bound, Stop (no value for
// this iteration) or Realign (a where clause taught the enclosing table its
// alignment and the factset must match again).
//
// Processing:
// Processor computes the rule set's constants, then hands rules to a pool
// of workers. Each rule runs in its own Context; results travel over a
// channel to one collector that numbers them and calls the Sink.
//
// CRITICAL PATTERNS:
//
// Deterministic output:
// For a fixed fact index, a run emits the same messages in the same order
// with the same content-addressed ids, whatever the number of workers.
//
// Isolation:
// A processing error or a panic aborts only the rule or constant that
// raised it.
package engine
