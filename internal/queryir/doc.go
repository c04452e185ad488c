// Package queryir provides an abstract query intermediate representation
// for fact index lookups.
//
// QueryIR is the boundary between the fact index contract the engine uses
// (All, Lookup, Missing, Fact) and the backend that answers it. The SQLite
// store builds its lookups as QueryIR values and compiles them with
// internal/querysql:
//
//	[FactIndex call] → [Query IR] → [SQL Backend]
//
// THE FRAGMENT:
//
//   - Select(from, fields, filter, order) - table access with an explicit field list
//   - Predicates: Equals, In, NotIn, And
//   - Literals: String, Int, Bool (no NULL, no floats)
//
// Excluded: joins, OR, aggregation and SELECT *. Aspect lookups never need
// them: every lookup is a posting list, an intersection the engine does in
// memory, or a complement expressed with NotIn.
//
// SEALED INTERFACES:
//
// Query, Predicate and Literal are sealed with marker methods, so backends
// can switch exhaustively:
//
//	switch q := query.(type) {
//	case Select, *Select:
//	    // the only query form
//	}
//
// # Invariants
//
// Deterministic Ordering
// Every compiled top-level query carries ORDER BY on a stable key, so the
// same index yields fact ids in the same order on every run.
//
// No Floats
// Literals are text, integers or booleans. Fact values are compared as the
// engine's decimals, never inside the query.
package queryir
