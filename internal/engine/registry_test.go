package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()

	for _, kind := range []ast.Kind{ast.KindLiteral, ast.KindFactset, ast.KindAggregate, ast.KindFor, ast.KindWith} {
		_, ok := r.Evaluator(kind)
		assert.True(t, ok, "no evaluator for %s", kind)
	}

	functions, properties, aggregators := r.Names()
	assert.Contains(t, functions, "abs")
	assert.Contains(t, properties, "period")
	assert.Equal(t, []string{"all", "any", "count", "exists", "first", "list", "max", "min", "missing", "set", "sum"}, aggregators)
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	base := NewRegistry()
	clone := base.Clone()
	clone.RegisterFunction("twice", func(args []ir.Value) (ir.Value, error) {
		return arith("*", args[0], ir.Int(2))
	})

	_, ok := base.Function("twice")
	assert.False(t, ok)

	fn, ok := clone.Function("twice")
	require.True(t, ok)
	v, err := fn([]ir.Value{ir.Int(21)})
	require.NoError(t, err)
	assert.Equal(t, "42", v.Format())
}

func TestBuiltins_Errors(t *testing.T) {
	r := NewRegistry()
	abs, _ := r.Function("abs")
	_, err := abs([]ir.Value{ir.String("x")})
	assert.Error(t, err)
	_, err = abs(nil)
	assert.ErrorContains(t, err, "takes 1 arguments, got 0")

	round, _ := r.Function("round")
	_, err = round([]ir.Value{ir.Int(1), ir.Int(2), ir.Int(3)})
	assert.ErrorContains(t, err, "takes 1 to 2 arguments")
}
