package engine

import (
	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

func evalLiteral(_ *Context, n *ast.Node) (Result, error) {
	return bound(n.Literal), nil
}

func evalVarRef(c *Context, n *ast.Node) (Result, error) {
	decl, ok := c.env.Rules.Node(n.Ann.Decl)
	if !ok {
		return Result{}, newError(ErrCodeInternal, n.ID, "variable $%s is not resolved", n.Name)
	}
	switch {
	case decl.Kind == ast.KindVarDecl && decl.Expr != nil:
		return c.Evaluate(decl.Expr)
	case decl.Kind == ast.KindVarDecl:
		v, ok, mounted := c.tables.Lookup(decl.ID, true)
		if !mounted {
			return Result{}, newError(ErrCodeInternal, n.ID, "loop variable $%s is not mounted", n.Name)
		}
		if !ok {
			return stop(), nil
		}
		return bound(v), nil
	}
	v, ok := c.binding(decl.ID)
	if !ok {
		return Result{}, newError(ErrCodeInternal, n.ID, "variable $%s is not bound", n.Name)
	}
	return bound(v), nil
}

func evalVarDecl(c *Context, n *ast.Node) (Result, error) {
	return c.Evaluate(n.Expr)
}

func evalParam(c *Context, n *ast.Node) (Result, error) {
	v, ok := c.binding(n.ID)
	if !ok {
		return Result{}, newError(ErrCodeInternal, n.ID, "parameter %s is not bound", n.Name)
	}
	return bound(v), nil
}

// evalLet evaluates the body; the variables are evaluated where they are
// referenced.
func evalLet(c *Context, n *ast.Node) (Result, error) {
	return c.Evaluate(n.Body)
}

func evalWith(c *Context, n *ast.Node) (Result, error) {
	filters := make([]ambientFilter, 0, len(n.Factset.Filters))
	for _, f := range n.Factset.Filters {
		af := ambientFilter{key: f.Aspect, match: f.Match}
		if f.Value != nil {
			res, err := c.Evaluate(f.Value)
			if err != nil || res.State != Bound {
				return res, err
			}
			vals, err := aspectValues(f, res.Value)
			if err != nil {
				return Result{}, newError(ErrCodeBadArgument, n.ID, "%v", err)
			}
			af.values = vals
		}
		filters = append(filters, af)
	}

	saved := c.ambient
	c.ambient = append(append([]ambientFilter(nil), saved...), filters...)
	defer func() { c.ambient = saved }()
	return c.Evaluate(n.Body)
}

func evalConstRef(c *Context, n *ast.Node) (Result, error) {
	set, err := c.env.Constants.Resolve(c, n.Name)
	if err != nil {
		return Result{}, err
	}
	return boundSet(set), nil
}

func evalBinary(c *Context, n *ast.Node) (Result, error) {
	if len(n.Args) != 2 {
		return Result{}, newError(ErrCodeBadArgument, n.ID, "operator %s needs two operands", n.Op)
	}
	if n.Op == "and" || n.Op == "or" {
		return evalLogical(c, n)
	}

	var ok bool
	left, err := c.Evaluate(n.Args[0])
	if err != nil || left.State == Realign {
		return left, err
	}
	if left.State == Stop && !n.Nils.Left() {
		return stop(), nil
	}
	right, err := c.Evaluate(n.Args[1])
	if err != nil || right.State == Realign {
		return right, err
	}
	if right.State == Stop && !n.Nils.Right() {
		return stop(), nil
	}

	if left.State == Stop && right.State == Stop {
		return stop(), nil
	}
	l, r := left.Value, right.Value
	if left.State == Stop {
		if l, ok = absentOperand(n.Op, r, false); !ok {
			return stop(), nil
		}
	}
	if right.State == Stop {
		if r, ok = absentOperand(n.Op, l, true); !ok {
			return stop(), nil
		}
	}

	align, facts, joined := join(l, r)
	if !joined {
		return stop(), nil
	}
	var out ir.Value
	switch n.Op {
	case "+", "-", "*", "/":
		out, err = arith(n.Op, l, r)
	default:
		var b bool
		b, err = compare(n.Op, l, r)
		out = ir.Bool(b)
	}
	if err != nil {
		return Result{}, newError(ErrCodeBadArgument, n.ID, "%v", err)
	}
	return bound(derive(out, align, facts, l, r)), nil
}

// absentOperand stands in for an operand that has no value under a nil
// policy: the identity of the operator, or none for comparisons. ok is false
// when the operator has no identity on that side.
func absentOperand(op string, other ir.Value, right bool) (ir.Value, bool) {
	switch op {
	case "+", "-":
		if resolved, err := other.Resolve(); err == nil && isText(resolved) {
			return ir.String(""), op == "+"
		}
		return ir.Int(0), true
	case "*":
		return ir.Int(1), true
	case "/":
		return ir.Int(1), right
	}
	return ir.None(), true
}

// evalLogical short-circuits and treats a stopped operand as absent.
func evalLogical(c *Context, n *ast.Node) (Result, error) {
	isAnd := n.Op == "and"

	left, err := c.Evaluate(n.Args[0])
	if err != nil || left.State == Realign {
		return left, err
	}
	if left.State == Bound {
		b, ok := asBool(left.Value)
		if !ok {
			return Result{}, newError(ErrCodeTypeMismatch, n.ID, "%s needs booleans, got %s", n.Op, left.Value.Kind)
		}
		if b != isAnd {
			return bound(derive(ir.Bool(b), left.Value.Alignment, left.Value.Facts, left.Value)), nil
		}
	}

	right, err := c.Evaluate(n.Args[1])
	if err != nil || right.State == Realign {
		return right, err
	}
	if right.State == Bound {
		if _, ok := asBool(right.Value); !ok {
			return Result{}, newError(ErrCodeTypeMismatch, n.ID, "%s needs booleans, got %s", n.Op, right.Value.Kind)
		}
	}

	switch {
	case left.State == Stop && right.State == Stop:
		return stop(), nil
	case left.State == Stop:
		return bound(right.Value), nil
	case right.State == Stop:
		return bound(left.Value), nil
	}
	align, facts, ok := join(left.Value, right.Value)
	if !ok {
		return stop(), nil
	}
	rb, _ := asBool(right.Value)
	return bound(derive(ir.Bool(rb), align, facts, left.Value, right.Value)), nil
}

func evalUnary(c *Context, n *ast.Node) (Result, error) {
	res, err := c.Evaluate(n.Args[0])
	if err != nil || res.State != Bound {
		return res, err
	}
	v := res.Value
	var out ir.Value
	switch n.Op {
	case "not":
		b, ok := asBool(v)
		if !ok {
			return Result{}, newError(ErrCodeTypeMismatch, n.ID, "not needs a boolean, got %s", v.Kind)
		}
		out = ir.Bool(!b)
	case "-":
		if out, err = negate(v); err != nil {
			return Result{}, newError(ErrCodeBadArgument, n.ID, "%v", err)
		}
	default:
		return Result{}, newError(ErrCodeUndeclared, n.ID, "unknown operator %s", n.Op)
	}
	return bound(derive(out, v.Alignment, v.Facts, v)), nil
}

func evalIf(c *Context, n *ast.Node) (Result, error) {
	cond, err := c.Evaluate(n.Cond)
	if err != nil || cond.State != Bound {
		return cond, err
	}
	b, ok := asBool(cond.Value)
	if !ok {
		return Result{}, newError(ErrCodeTypeMismatch, n.ID, "condition must be a boolean, got %s", cond.Value.Kind)
	}
	branch := n.Else
	if b {
		branch = n.Then
	}
	res, err := c.Evaluate(branch)
	if err != nil || res.State != Bound {
		return res, err
	}
	align, facts, ok := join(cond.Value, res.Value)
	if !ok {
		return stop(), nil
	}
	return bound(derive(res.Value, align, facts, res.Value)), nil
}

func evalList(c *Context, n *ast.Node) (Result, error) {
	items, res, err := c.evaluateAll(n.Args)
	if err != nil || res.State != Bound {
		return res, err
	}
	align, facts, ok := join(items...)
	if !ok {
		return stop(), nil
	}
	return bound(derive(ir.List(items...), align, facts, items...)), nil
}

func evalSet(c *Context, n *ast.Node) (Result, error) {
	items, res, err := c.evaluateAll(n.Args)
	if err != nil || res.State != Bound {
		return res, err
	}
	align, facts, ok := join(items...)
	if !ok {
		return stop(), nil
	}
	return bound(derive(ir.Set(items...), align, facts, items...)), nil
}

// evaluateAll evaluates nodes in order and stops at the first node without
// a value.
func (c *Context) evaluateAll(nodes []*ast.Node) ([]ir.Value, Result, error) {
	vals := make([]ir.Value, 0, len(nodes))
	for _, a := range nodes {
		res, err := c.Evaluate(a)
		if err != nil || res.State != Bound {
			return nil, res, err
		}
		vals = append(vals, res.Value)
	}
	return vals, Result{State: Bound}, nil
}

func evalCall(c *Context, n *ast.Node) (Result, error) {
	if f, ok := c.env.Rules.Function(n.Name); ok {
		return c.callFunction(n, f)
	}
	fn, ok := c.env.Registry.Function(n.Name)
	if !ok {
		return Result{}, newError(ErrCodeUndeclared, n.ID, "unknown function %s", n.Name)
	}
	args, res, err := c.evaluateAll(n.Args)
	if err != nil || res.State != Bound {
		return res, err
	}
	align, facts, ok := join(args...)
	if !ok {
		return stop(), nil
	}
	out, err := fn(args)
	if err != nil {
		return Result{}, newError(ErrCodeBadArgument, n.ID, "%s: %v", n.Name, err)
	}
	return bound(derive(out, align, facts, args...)), nil
}

func evalProperty(c *Context, n *ast.Node) (Result, error) {
	p, ok := c.env.Registry.Property(n.Name)
	if !ok {
		return Result{}, newError(ErrCodeUndeclared, n.ID, "unknown property %s", n.Name)
	}
	vals, res, err := c.evaluateAll(n.Args)
	if err != nil || res.State != Bound {
		return res, err
	}
	align, facts, ok := join(vals...)
	if !ok {
		return stop(), nil
	}
	out, err := p(vals[0], vals[1:])
	if err != nil {
		return Result{}, newError(ErrCodeBadArgument, n.ID, "%s: %v", n.Name, err)
	}
	return bound(derive(out, align, facts, vals...)), nil
}
