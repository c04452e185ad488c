package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// ConstantTable holds the value sets of a rule set's constants.
//
// Constants are computed once, sequentially, before any rule runs. A
// constant referenced before its own turn is computed on demand, so
// declaration order does not matter; a reference back to a constant still
// being computed is a CONSTANT_CYCLE error. After Precompute the table is
// read-only and safe to share between workers.
type ConstantTable struct {
	values map[string]*ir.ValueSet
	errs   map[string]error
	cycles *CycleDetector
	sealed bool
}

// NewConstantTable returns an empty table.
func NewConstantTable() *ConstantTable {
	return &ConstantTable{
		values: make(map[string]*ir.ValueSet),
		errs:   make(map[string]error),
		cycles: NewCycleDetector(),
	}
}

// Precompute evaluates every constant of env.Rules in declaration order.
// Failed constants are recorded, see Err; Precompute only fails when ctx is
// cancelled.
func (t *ConstantTable) Precompute(ctx context.Context, env *Env) error {
	env.Constants = t
	for _, k := range env.Rules.Constants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.done(k.Name) {
			continue
		}
		t.compute(ctx, env, k)
	}
	t.sealed = true
	return nil
}

// Resolve returns the value set of the named constant.
func (t *ConstantTable) Resolve(c *Context, name string) (*ir.ValueSet, error) {
	if set, ok := t.values[name]; ok {
		return set, nil
	}
	if err, ok := t.errs[name]; ok {
		return nil, fmt.Errorf("constant %s: %w", name, err)
	}
	k, ok := c.env.Rules.Constant(name)
	if !ok || t.sealed {
		return nil, &ProcessingError{
			Code:    ErrCodeUndeclared,
			Message: fmt.Sprintf("unknown constant %s", name),
			Rule:    c.owner,
		}
	}
	if err := t.cycles.Enter(name); err != nil {
		return nil, err
	}
	t.cycles.Leave(name)
	t.compute(c.ctx, c.env, k)
	return t.Resolve(c, name)
}

// Err returns the error recorded for a failed constant.
func (t *ConstantTable) Err(name string) error {
	return t.errs[name]
}

// Failed returns the names of the constants that failed, in declaration
// order of rules.
func (t *ConstantTable) Failed(rules *ast.RuleSet) []string {
	var out []string
	for _, k := range rules.Constants {
		if _, ok := t.errs[k.Name]; ok {
			out = append(out, k.Name)
		}
	}
	return out
}

func (t *ConstantTable) done(name string) bool {
	_, ok := t.values[name]
	_, failed := t.errs[name]
	return ok || failed
}

// compute evaluates one constant in its own context and records the value
// set or the error. A panic fails the constant as INTERNAL.
func (t *ConstantTable) compute(ctx context.Context, env *Env, k *ast.Constant) {
	if err := t.cycles.Enter(k.Name); err != nil {
		t.errs[k.Name] = err
		return
	}
	defer t.cycles.Leave(k.Name)

	c := NewContext(ctx, env, k.Name)
	defer func() {
		if p := recover(); p != nil {
			c.logger().Error("constant panicked", "constant", k.Name, "panic", p, "stack", string(debug.Stack()))
			delete(t.values, k.Name)
			t.errs[k.Name] = &ProcessingError{
				Code:    ErrCodeInternal,
				Message: fmt.Sprintf("panic: %v", p),
				Rule:    k.Name,
			}
		}
	}()
	set := ir.NewValueSet()
	res, err := c.isolate(k.ID, nil,
		func() (Result, error) { return c.Evaluate(k.Expr) },
		func(align ir.Alignment, res Result) error {
			if res.State == Bound {
				set.AppendAligned(align, res.Value.WithAlignment(align))
			}
			return nil
		})
	if err == nil && res.State == Realign {
		err = &ProcessingError{
			Code:    ErrCodeRealignEscaped,
			Message: fmt.Sprintf("alignment %s discovered outside a factset", res.Alignment),
		}
	}
	if err != nil {
		t.errs[k.Name] = withRule(err, k.Name)
		c.logger().Warn("constant failed", "constant", k.Name, "error", err)
		return
	}
	t.values[k.Name] = set
	c.logger().Debug("constant computed",
		"constant", k.Name,
		"values", set.Len(),
		"iterations", c.stats.Iterations,
	)
}
