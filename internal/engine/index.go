package engine

import (
	"context"

	"github.com/roach88/factrule/internal/ir"
)

// FactIndex answers the aspect lookups of the factset matcher.
//
// Implementations must be safe for concurrent reads: every worker of a
// Processor queries the same index.
type FactIndex interface {
	// All returns every fact id.
	All(ctx context.Context) (ir.FactSet, error)

	// Lookup returns the facts whose aspect key has the given value.
	Lookup(ctx context.Context, key ir.AspectKey, value string) (ir.FactSet, error)

	// Missing returns the facts that do not carry key at all.
	Missing(ctx context.Context, key ir.AspectKey) (ir.FactSet, error)

	// Fact returns one fact by id.
	Fact(ctx context.Context, id ir.FactID) (*ir.Fact, error)
}
