package engine

import (
	"fmt"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// Aggregator reduces the values collected for one alignment bucket.
type Aggregator struct {
	// Identity is the accumulator before the first value.
	Identity ir.Value
	// Step folds v into acc. Returning done skips the rest of the bucket.
	Step func(acc, v ir.Value) (next ir.Value, done bool, err error)
	// Default is the result when nothing had a value, if HasDefault.
	Default    ir.Value
	HasDefault bool
}

// bucket accumulates the values of one alignment.
type bucket struct {
	align       ir.Alignment
	acc         ir.Value
	done        bool
	bound       int
	facts       []ir.FactID
	alignedOnly bool
}

type buckets struct {
	order []*bucket
	byKey map[string]*bucket
}

func newBuckets() *buckets {
	return &buckets{byKey: make(map[string]*bucket)}
}

func (bs *buckets) get(a ir.Alignment, identity ir.Value) *bucket {
	if b, ok := bs.byKey[a.Key()]; ok {
		return b
	}
	b := &bucket{align: a, acc: identity}
	bs.byKey[a.Key()] = b
	bs.order = append(bs.order, b)
	return b
}

func (bs *buckets) anyBound() bool {
	for _, b := range bs.order {
		if b.bound > 0 {
			return true
		}
	}
	return false
}

// isolate evaluates body in a fresh table for scope until the table is
// exhausted. setup may mount columns before the first iteration. yield
// receives every iteration's result with the alignment it belongs to:
// the table's concrete alignment, else the value's own; stopped iterations
// belong to none.
func (c *Context) isolate(
	scope ir.NodeID,
	setup func(h TableHandle) error,
	body func() (Result, error),
	yield func(align ir.Alignment, res Result) error,
) (Result, error) {
	h, leave, err := c.enter(scope)
	if err != nil {
		return Result{}, err
	}
	defer leave()
	if setup != nil {
		if err := setup(h); err != nil {
			return Result{}, err
		}
	}

	for !c.tables.Exhausted(h) {
		if err := c.step(); err != nil {
			return Result{}, err
		}
		res, err := body()
		if err != nil {
			return Result{}, err
		}
		if res.State == Realign {
			return res, nil
		}
		align := ir.NoAlignment
		if res.State == Bound {
			align = c.tables.CurrentAlignment(h)
			if align.IsNone() {
				align = res.Value.Alignment
			}
		}
		if err := yield(align, res); err != nil {
			return Result{}, err
		}
		if err := c.tables.Next(h); err != nil {
			return Result{}, err
		}
	}
	return Result{State: Bound}, nil
}

// reduce runs every expression of args through agg, one isolated scope per
// expression, and returns one value per alignment bucket.
func (c *Context) reduce(n *ast.Node, scope ir.NodeID, agg Aggregator, args []*ast.Node, setup func(h TableHandle) error) (Result, error) {
	bs := newBuckets()
	for _, arg := range args {
		res, err := c.isolate(scope, setup,
			func() (Result, error) { return c.Evaluate(arg) },
			func(align ir.Alignment, res Result) error {
				b := bs.get(align, agg.Identity)
				if res.State != Bound {
					return nil
				}
				v := res.Value
				b.bound++
				b.facts = ir.MergeFacts(b.facts, v.Facts)
				b.alignedOnly = b.alignedOnly || v.AlignedResultOnly
				if b.done {
					return nil
				}
				next, done, err := agg.Step(b.acc, v)
				if err != nil {
					return newError(ErrCodeBadArgument, n.ID, "%s: %v", n.Name, err)
				}
				b.acc, b.done = next, done
				return nil
			})
		if err != nil || res.State == Realign {
			return res, err
		}
	}

	set := ir.NewValueSet()
	anyBound := bs.anyBound()
	for _, b := range bs.order {
		var v ir.Value
		switch {
		case b.bound > 0 && !b.acc.IsUnbound():
			v = b.acc
		case b.bound == 0 && !anyBound && agg.HasDefault:
			v = agg.Default
		default:
			continue
		}
		v = v.Clone()
		v.Alignment = b.align
		v.Facts = b.facts
		v.AlignedResultOnly = b.align.IsNone() && b.alignedOnly
		set.AppendAligned(b.align, v)
	}
	return boundSet(set), nil
}

func evalAggregate(c *Context, n *ast.Node) (Result, error) {
	agg, ok := c.env.Registry.Aggregator(n.Name)
	if !ok {
		return Result{}, newError(ErrCodeUndeclared, n.ID, "unknown aggregation %s", n.Name)
	}
	return c.reduce(n, n.ID, agg, n.Args, nil)
}

// evalFor evaluates the body once per item of the source collection and
// collects the results into a list per alignment.
func evalFor(c *Context, n *ast.Node) (Result, error) {
	if len(n.Vars) != 1 {
		return Result{}, newError(ErrCodeInternal, n.ID, "for without loop variable")
	}
	src, err := c.Evaluate(n.Source)
	if err != nil || src.State != Bound {
		return src, err
	}
	coll, err := src.Value.Resolve()
	if err != nil {
		return Result{}, newError(ErrCodeBadArgument, n.ID, "%v", err)
	}
	if coll.Kind != ir.KindList && coll.Kind != ir.KindSet {
		return Result{}, newError(ErrCodeTypeMismatch, n.ID, "for needs a list or set, got %s", coll.Kind)
	}
	items := ir.NewValueSet()
	for _, it := range coll.Items() {
		items.Append(it)
	}

	loop := n.Vars[0]
	agg, _ := c.env.Registry.Aggregator("list")
	return c.reduce(n, n.ID, agg, []*ast.Node{n.Body}, func(h TableHandle) error {
		return c.tables.AddColumn(h, loop.ID, nil, items, false)
	})
}

// callFunction evaluates a user function body in its own scope with the
// parameters bound to the current argument values. Every value the body
// produces is a value of the call.
func (c *Context) callFunction(n *ast.Node, f *ast.Function) (Result, error) {
	maxDepth := c.env.MaxCallDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCallDepth
	}
	if len(c.path) >= maxDepth {
		return Result{}, &ProcessingError{
			Code:    ErrCodeIterationLimit,
			Message: fmt.Sprintf("call depth %d exceeded calling %s", maxDepth, f.Name),
			Node:    n.ID,
		}
	}
	if len(n.Args) != len(f.Params) {
		return Result{}, newError(ErrCodeBadArgument, n.ID, "%s takes %d arguments, got %d", f.Name, len(f.Params), len(n.Args))
	}
	args, res, err := c.evaluateAll(n.Args)
	if err != nil || res.State != Bound {
		return res, err
	}

	fr := make(frame, len(f.Params))
	for i, p := range f.Params {
		fr[p.ID] = args[i]
	}
	pop := c.pushFrame(fr)
	defer pop()
	c.path = append(c.path, n.ID)
	defer func() { c.path = c.path[:len(c.path)-1] }()

	set := ir.NewValueSet()
	res, err = c.isolate(f.ID, nil,
		func() (Result, error) { return c.Evaluate(f.Body) },
		func(align ir.Alignment, res Result) error {
			if res.State == Bound {
				set.AppendAligned(align, res.Value.WithAlignment(align))
			}
			return nil
		})
	if err != nil || res.State == Realign {
		return res, err
	}
	return boundSet(set), nil
}

func registerAggregators(r *Registry) {
	r.RegisterAggregator("sum", Aggregator{
		Identity: ir.Int(0),
		Step: func(acc, v ir.Value) (ir.Value, bool, error) {
			next, err := arith("+", acc, v)
			return next, false, err
		},
		Default:    ir.Int(0),
		HasDefault: true,
	})
	r.RegisterAggregator("count", Aggregator{
		Identity: ir.Int(0),
		Step: func(acc, _ ir.Value) (ir.Value, bool, error) {
			n, _ := acc.AsInt()
			return ir.Int(n + 1), false, nil
		},
		Default:    ir.Int(0),
		HasDefault: true,
	})
	r.RegisterAggregator("all", Aggregator{
		Identity: ir.Bool(true),
		Step: func(_, v ir.Value) (ir.Value, bool, error) {
			b, ok := asBool(v)
			if !ok {
				return ir.Value{}, false, fmt.Errorf("needs booleans, got %s", v.Kind)
			}
			return ir.Bool(b), !b, nil
		},
		Default:    ir.Bool(true),
		HasDefault: true,
	})
	r.RegisterAggregator("any", Aggregator{
		Identity: ir.Bool(false),
		Step: func(_, v ir.Value) (ir.Value, bool, error) {
			b, ok := asBool(v)
			if !ok {
				return ir.Value{}, false, fmt.Errorf("needs booleans, got %s", v.Kind)
			}
			return ir.Bool(b), b, nil
		},
		Default:    ir.Bool(false),
		HasDefault: true,
	})
	r.RegisterAggregator("exists", Aggregator{
		Identity: ir.Bool(false),
		Step: func(_, _ ir.Value) (ir.Value, bool, error) {
			return ir.Bool(true), true, nil
		},
		Default:    ir.Bool(false),
		HasDefault: true,
	})
	r.RegisterAggregator("missing", Aggregator{
		Identity: ir.Bool(true),
		Step: func(_, _ ir.Value) (ir.Value, bool, error) {
			return ir.Bool(false), true, nil
		},
		Default:    ir.Bool(true),
		HasDefault: true,
	})
	r.RegisterAggregator("first", Aggregator{
		Identity: ir.Unbound(),
		Step: func(_, v ir.Value) (ir.Value, bool, error) {
			return v, true, nil
		},
	})
	r.RegisterAggregator("list", Aggregator{
		Identity: ir.List(),
		Step: func(acc, v ir.Value) (ir.Value, bool, error) {
			return ir.List(append(acc.Items(), v)...), false, nil
		},
		Default:    ir.List(),
		HasDefault: true,
	})
	r.RegisterAggregator("set", Aggregator{
		Identity: ir.Set(),
		Step: func(acc, v ir.Value) (ir.Value, bool, error) {
			return ir.Set(append(acc.Items(), v)...), false, nil
		},
		Default:    ir.Set(),
		HasDefault: true,
	})
	r.RegisterAggregator("max", extreme(1))
	r.RegisterAggregator("min", extreme(-1))
}

// extreme keeps the largest (sign 1) or smallest (sign -1) value.
func extreme(sign int) Aggregator {
	return Aggregator{
		Identity: ir.Unbound(),
		Step: func(acc, v ir.Value) (ir.Value, bool, error) {
			v, err := v.Resolve()
			if err != nil {
				return ir.Value{}, false, err
			}
			if acc.IsUnbound() {
				return v, false, nil
			}
			cmp, err := ir.Compare(v, acc)
			if err != nil {
				return ir.Value{}, false, err
			}
			if cmp*sign > 0 {
				return v, false, nil
			}
			return acc, false, nil
		},
	}
}
