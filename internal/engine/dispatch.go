package engine

import (
	"maps"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// Evaluate returns n's value for the current iteration of the tables.
//
// Nodes that produce value sets (factsets, constant references,
// aggregations, for loops and user function calls) are mounted as columns
// of the table of their scope. A mounted node is read from its column; an
// unmounted one is looked up in the cache or evaluated, then mounted. All
// other nodes are evaluated directly from the current values of their
// operands.
//
// A Stop result means the current iteration has no value for n. A Realign
// result unwinds to the factset waiting for alignment.
func (c *Context) Evaluate(n *ast.Node) (Result, error) {
	if n == nil {
		return stop(), nil
	}
	ev, ok := c.env.Registry.Evaluator(n.Kind)
	if !ok {
		return Result{}, newError(ErrCodeUndeclared, n.ID, "no evaluator for %s", n.Kind)
	}
	if !c.isColumn(n) {
		res, err := ev(c, n)
		if err != nil || res.State != Bound {
			return res, err
		}
		if res.Set != nil {
			return Result{}, newError(ErrCodeInternal, n.ID, "%s node %d yields a value set but is not annotated iterable", n.Kind, n.ID)
		}
		return c.post(n, res.Value), nil
	}
	return c.evaluateColumn(n, ev)
}

// isColumn reports whether n is mounted as a column. Constant references
// always are. Otherwise n must be annotated iterable and produce a value
// set of its own; operators over iterable operands read their operands'
// columns instead.
func (c *Context) isColumn(n *ast.Node) bool {
	if n.Kind == ast.KindConstRef {
		return true
	}
	if !n.Ann.Iterable {
		return false
	}
	switch n.Kind {
	case ast.KindFactset, ast.KindAggregate, ast.KindFor:
		return true
	case ast.KindCall:
		_, user := c.env.Rules.Function(n.Name)
		return user
	}
	return false
}

func (c *Context) evaluateColumn(n *ast.Node, ev Evaluator) (Result, error) {
	h, err := c.tableFor(n)
	if err != nil {
		return Result{}, err
	}
	if v, ok, mounted := c.tables.Current(h, n.ID); mounted {
		if !ok {
			return stop(), nil
		}
		return c.post(n, v), nil
	}

	if res, err := c.prefetch(n); err != nil || res.State == Realign {
		return res, err
	}
	key, err := c.cacheKey(n, h)
	if err != nil {
		return Result{}, newError(ErrCodeInternal, n.ID, "%v", err)
	}

	set, hit := c.cache[key]
	if hit {
		c.stats.CacheHits++
	} else {
		before := c.tables.EnclosingAlignment(h)
		res, err := ev(c, n)
		if err != nil || res.State != Bound {
			return res, err
		}
		c.stats.Evaluations++
		set = res.valueSet()
		if n.Ann.Dependent && !c.tables.EnclosingAlignment(h).Equal(before) {
			if key, err = c.cacheKey(n, h); err != nil {
				return Result{}, newError(ErrCodeInternal, n.ID, "%v", err)
			}
		}
		c.cache[key] = set
	}

	if err := c.tables.AddColumn(h, n.ID, n.Ann.DependentIterables, set, n.Ann.Dependent); err != nil {
		return Result{}, err
	}
	// Only a column that can carry alignments can give the waiting factset
	// one.
	if n.Ann.HasAlignment {
		if res, ok := c.checkRealign(); ok {
			return res, nil
		}
	}
	v, ok, _ := c.tables.Current(h, n.ID)
	if !ok {
		return stop(), nil
	}
	return c.post(n, v), nil
}

// prefetch mounts the iterable dependencies of n that are not mounted yet,
// so that the cache key sees their current values.
func (c *Context) prefetch(n *ast.Node) (Result, error) {
	for _, id := range n.Ann.DependentIterables {
		if _, _, mounted := c.tables.Lookup(id, false); mounted {
			continue
		}
		dep, ok := c.env.Rules.Node(id)
		if !ok || dep.Kind == ast.KindVarDecl {
			continue
		}
		res, err := c.Evaluate(dep)
		if err != nil || res.State == Realign {
			return res, err
		}
	}
	return Result{State: Bound}, nil
}

// cacheKey builds the key of n from the current values of its
// dependencies, the values bound to the variables it reads, the enclosing
// alignment when n follows it, and the ambient filters.
func (c *Context) cacheKey(n *ast.Node, h TableHandle) (string, error) {
	deps := make([]ir.DepValue, 0, len(n.Ann.DependentIterables)+len(n.Ann.VarRefs))
	for _, id := range n.Ann.DependentIterables {
		v, ok, _ := c.tables.Lookup(id, false)
		deps = append(deps, ir.DepValue{Node: id, Value: v, Missing: !ok})
	}
	for _, id := range n.Ann.VarRefs {
		if v, ok := c.binding(id); ok {
			deps = append(deps, ir.DepValue{Node: id, Value: v})
		}
	}
	align := ir.NoAlignment
	if n.Ann.Dependent {
		align = c.tables.EnclosingAlignment(h)
	}
	return ir.CacheKey(n.ID, deps, align, c.filterKey())
}

// checkRealign reports whether the table of the innermost waiting factset
// has found a concrete alignment.
func (c *Context) checkRealign() (Result, bool) {
	n := len(c.pending)
	if n == 0 {
		return Result{}, false
	}
	p := c.pending[n-1]
	if a := c.tables.EnclosingAlignment(p.table); !a.IsNone() {
		c.stats.Realigns++
		c.logger().Debug("alignment discovered",
			"owner", c.owner,
			"factset", p.factset,
			"alignment", a.String(),
		)
		return realign(a), true
	}
	return Result{}, false
}

// post records v in the accumulator of n's table and turns unbound values
// into Stop.
func (c *Context) post(n *ast.Node, v ir.Value) Result {
	h, ok := c.tables.ForScope(n.Ann.ScopeID)
	if !ok {
		h, ok = c.tables.Top()
	}
	if n.Tag != "" && !v.IsUnbound() {
		tags := maps.Clone(v.Tags)
		if tags == nil {
			tags = make(map[string]ir.Value, 1)
		}
		tags[n.Tag] = v
		v.Tags = tags
	}
	if ok {
		acc := c.tables.acc(h)
		acc.merge(v)
		if v.AlignedResultOnly && c.tables.CurrentAlignment(h).IsNone() {
			acc.alignedOnly = true
		}
	}
	if v.IsUnbound() {
		return stop()
	}
	return bound(v)
}
