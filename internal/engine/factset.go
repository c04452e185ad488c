package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// evalFactset matches a factset. When the where clause makes the
// enclosing table discover an alignment, matching restarts once under that
// alignment; a second discovery is a REALIGN_LOOP error.
func evalFactset(c *Context, n *ast.Node) (Result, error) {
	h, err := c.tableFor(n)
	if err != nil {
		return Result{}, err
	}
	m := &matcher{c: c, n: n, table: h}

	enclosing := ir.NoAlignment
	if n.Ann.Dependent {
		enclosing = c.tables.EnclosingAlignment(h)
	}
	for attempt := 1; ; attempt++ {
		set, res, err := m.match(enclosing)
		if err != nil {
			return Result{}, err
		}
		switch res.State {
		case Stop:
			return res, nil
		case Bound:
			return boundSet(set), nil
		}
		if attempt > 1 {
			return Result{}, &ProcessingError{
				Code:    ErrCodeRealignLoop,
				Message: fmt.Sprintf("factset discovered alignment twice (%s)", res.Alignment),
				Node:    n.ID,
				Details: map[string]string{"first": enclosing.String(), "second": res.Alignment.String()},
			}
		}
		c.logger().Debug("factset realigned",
			"owner", c.owner,
			"node_id", n.ID,
			"alignment", res.Alignment.String(),
		)
		enclosing = res.Alignment
	}
}

type matcher struct {
	c     *Context
	n     *ast.Node
	table TableHandle
}

// match runs one pass: filters, index pre-match, nil exclusion, residual
// alignment, where refinement and the default value.
func (m *matcher) match(enclosing ir.Alignment) (*ir.ValueSet, Result, error) {
	c, fs := m.c, m.n.Factset

	filters, res, err := m.filters()
	if err != nil || res.State != Bound {
		return nil, res, err
	}
	pinned := make(map[ir.AspectKey]bool, len(filters))
	var kept []ir.AspectKey
	for _, f := range filters {
		if f.match == ast.MatchAny {
			kept = append(kept, f.key)
			continue
		}
		pinned[f.key] = true
	}
	var pinnedKeys []ir.AspectKey
	for k := range pinned {
		pinnedKeys = append(pinnedKeys, k)
	}

	// a dependent factset follows the enclosing alignment on the aspects it
	// does not filter itself
	want := ir.NoAlignment
	if !enclosing.IsNone() {
		want = enclosing.Without(pinnedKeys...)
		for _, p := range want.Pairs() {
			filters = append(filters, ambientFilter{key: p.Key, match: ast.MatchEq, values: []string{p.Value}})
		}
	}

	cands, err := m.prematch(filters)
	if err != nil {
		return nil, Result{}, err
	}

	waiting := fs.Where != nil && m.n.Ann.Dependent && enclosing.IsNone()
	if waiting {
		c.pending = append(c.pending, pendingAlignment{factset: m.n.ID, table: m.table})
		depth := len(c.pending)
		defer func() { c.pending = c.pending[:depth-1] }()
	}

	set := ir.NewValueSet()
	for _, id := range cands {
		f, err := c.env.Index.Fact(c.ctx, id)
		if err != nil {
			return nil, Result{}, newError(ErrCodeInternal, m.n.ID, "fact %d: %v", id, err)
		}
		if f.Nil && !fs.Nils && !c.env.IncludeNils {
			continue
		}
		align := residual(f, pinned, kept, fs.Covered)
		if !enclosing.IsNone() {
			if !align.Equal(want) {
				continue
			}
			align = enclosing
		}
		v := ir.FactValue(f).WithAlignment(align)

		if fs.Where != nil {
			keep, res, err := m.where(v)
			if err != nil {
				return nil, Result{}, err
			}
			if res.State == Realign {
				return nil, res, nil
			}
			if waiting {
				if res, ok := c.checkRealign(); ok {
					return nil, res, nil
				}
			}
			if !keep {
				continue
			}
		}
		set.AppendAligned(align, v)
	}

	matched := set.Len()
	if len(set.Values(ir.NoAlignment)) == 0 {
		def := ir.Unbound()
		def.AlignedResultOnly = true
		set.AppendAligned(ir.NoAlignment, def)
	}
	c.logger().Debug("factset matched",
		"owner", c.owner,
		"node_id", m.n.ID,
		"candidates", len(cands),
		"values", matched,
		"alignment", enclosing.String(),
	)
	return set, Result{State: Bound}, nil
}

// filters evaluates the factset's own filters and adds the ambient filters
// for aspects it does not mention.
func (m *matcher) filters() ([]ambientFilter, Result, error) {
	c, fs := m.c, m.n.Factset
	out := make([]ambientFilter, 0, len(fs.Filters)+len(c.ambient))
	own := make(map[ir.AspectKey]bool, len(fs.Filters))
	for _, f := range fs.Filters {
		own[f.Aspect] = true
		af := ambientFilter{key: f.Aspect, match: f.Match}
		if f.Match == ast.MatchEq || f.Match == ast.MatchIn {
			res, err := c.Evaluate(f.Value)
			if err != nil || res.State != Bound {
				return nil, res, err
			}
			vals, err := aspectValues(f, res.Value)
			if err != nil {
				return nil, Result{}, newError(ErrCodeBadArgument, m.n.ID, "%v", err)
			}
			af.values = vals
		}
		out = append(out, af)
	}
	for _, f := range c.ambient {
		if !own[f.key] {
			out = append(out, f)
		}
	}
	return out, Result{State: Bound}, nil
}

// prematch intersects the index lookups of every restricting filter.
func (m *matcher) prematch(filters []ambientFilter) (ir.FactSet, error) {
	c := m.c
	idx := c.env.Index
	var cands ir.FactSet
	narrowed := false
	narrow := func(s ir.FactSet) {
		if !narrowed {
			cands, narrowed = s, true
			return
		}
		cands = cands.Intersect(s)
	}

	for _, f := range filters {
		switch f.match {
		case ast.MatchEq, ast.MatchIn:
			var union ir.FactSet
			for _, val := range f.values {
				s, err := idx.Lookup(c.ctx, f.key, val)
				if err != nil {
					return nil, newError(ErrCodeInternal, m.n.ID, "lookup %s=%s: %v", f.key, val, err)
				}
				union = union.Union(s)
			}
			narrow(union)
		case ast.MatchAbsent:
			s, err := idx.Missing(c.ctx, f.key)
			if err != nil {
				return nil, newError(ErrCodeInternal, m.n.ID, "lookup missing %s: %v", f.key, err)
			}
			narrow(s)
		case ast.MatchAny:
			all, err := idx.All(c.ctx)
			if err != nil {
				return nil, newError(ErrCodeInternal, m.n.ID, "lookup all: %v", err)
			}
			missing, err := idx.Missing(c.ctx, f.key)
			if err != nil {
				return nil, newError(ErrCodeInternal, m.n.ID, "lookup missing %s: %v", f.key, err)
			}
			narrow(all.Difference(missing))
		}
		if narrowed && cands.Len() == 0 {
			return nil, nil
		}
	}
	if !narrowed {
		all, err := idx.All(c.ctx)
		if err != nil {
			return nil, newError(ErrCodeInternal, m.n.ID, "lookup all: %v", err)
		}
		return all, nil
	}
	return cands, nil
}

// where evaluates the where clause for one candidate in its own table with
// item bound. The candidate is kept when any iteration yields true.
func (m *matcher) where(item ir.Value) (bool, Result, error) {
	c := m.c
	h, leave, err := c.enter(m.n.ID)
	if err != nil {
		return false, Result{}, err
	}
	defer leave()
	if !item.Alignment.IsNone() {
		c.tables.inherit(h, item.Alignment)
	}
	pop := c.pushFrame(frame{m.n.ID: item})
	defer pop()

	for !c.tables.Exhausted(h) {
		if err := c.step(); err != nil {
			return false, Result{}, err
		}
		res, err := c.Evaluate(m.n.Factset.Where)
		if err != nil {
			return false, Result{}, err
		}
		switch res.State {
		case Realign:
			return false, res, nil
		case Bound:
			b, ok := asBool(res.Value)
			if !ok {
				return false, Result{}, newError(ErrCodeTypeMismatch, m.n.ID, "where clause must be a boolean, got %s", res.Value.Kind)
			}
			if b {
				return true, Result{State: Bound}, nil
			}
		}
		if err := c.tables.Next(h); err != nil {
			return false, Result{}, err
		}
	}
	return false, Result{State: Bound}, nil
}

// residual is the alignment a matched fact contributes: its aspects minus
// the filtered ones, or only the explicitly kept ones when covered.
func residual(f *ir.Fact, pinned map[ir.AspectKey]bool, kept []ir.AspectKey, covered bool) ir.Alignment {
	var pairs []ir.AspectPair
	for _, p := range f.Aspects() {
		if pinned[p.Key] {
			continue
		}
		if covered && !slices.Contains(kept, p.Key) {
			continue
		}
		pairs = append(pairs, p)
	}
	return ir.NewAlignment(pairs...)
}

// aspectValues converts the evaluated value of an Eq or In filter to the
// aspect values it matches.
func aspectValues(f *ast.Filter, v ir.Value) ([]string, error) {
	if f.Match == ast.MatchIn {
		if v.Kind != ir.KindList && v.Kind != ir.KindSet {
			return nil, fmt.Errorf("filter %s in: need a list or set, got %s", f.Aspect, v.Kind)
		}
		out := make([]string, 0, len(v.Items()))
		for _, it := range v.Items() {
			s, err := aspectString(f.Aspect, it)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := aspectString(f.Aspect, v)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

// aspectString renders a value the way the index stores aspect values.
func aspectString(key ir.AspectKey, v ir.Value) (string, error) {
	switch v.Kind {
	case ir.KindFact:
		f, _ := v.AsFact()
		if s, ok := f.Aspect(key); ok {
			return s, nil
		}
		return "", fmt.Errorf("fact %d has no %s", f.ID, key)
	case ir.KindConcept, ir.KindQName:
		q, _ := v.AsQName()
		return q.String(), nil
	case ir.KindDuration:
		p, _ := v.AsPeriod()
		return p.String(), nil
	case ir.KindInstant:
		t, _ := v.AsTime()
		return ir.InstantPeriod(t).String(), nil
	case ir.KindUnit:
		u, _ := v.AsUnit()
		return u.String(), nil
	case ir.KindEntity:
		e, _ := v.AsEntity()
		return e.String(), nil
	case ir.KindString, ir.KindURI:
		s, _ := v.AsString()
		return s, nil
	case ir.KindInt, ir.KindDecimal, ir.KindBool:
		return v.Format(), nil
	}
	return "", fmt.Errorf("filter %s: cannot match a %s value", key, v.Kind)
}
