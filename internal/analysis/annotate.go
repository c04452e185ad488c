// Package analysis annotates compiled rule sets for evaluation.
//
// Annotate assigns node ids, resolves variable references, and fills every
// node's ast.Annotations: which table a node's column lives in, whether it
// iterates, whether its values carry alignment, whether it must follow the
// enclosing alignment, and which columns and variables its value depends on.
package analysis

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/factrule/internal/ast"
)

// Error is a static error in a rule set.
type Error struct {
	Owner   string // rule, constant or function name
	Pos     ast.Pos
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Owner, e.Message)
}

type scopeKind uint8

const (
	scopeRule scopeKind = iota + 1
	scopeConstant
	scopeFunction
	scopeAggregate
	scopeFor
	scopeWhere
)

// env is one level of visible variable declarations.
type env struct {
	parent *env
	names  map[string]*ast.Node
}

func (e *env) with(decls ...*ast.Node) *env {
	child := &env{parent: e, names: make(map[string]*ast.Node, len(decls))}
	for _, d := range decls {
		child.names[d.Name] = d
	}
	return child
}

func (e *env) lookup(name string) (*ast.Node, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if d, ok := cur.names[name]; ok {
			return d, true
		}
	}
	return nil, false
}

type annotator struct {
	rs     *ast.RuleSet
	next   ast.NodeID
	owner  string
	errs   *multierror.Error
	scopes map[ast.NodeID]scopeKind
	decls  map[ast.NodeID]*ast.Node // every declaration by id
	loops  map[ast.NodeID]*ast.Node // loop variable id -> for node
	inside map[ast.NodeID]map[ast.NodeID]bool

	constDone  map[string]bool
	constBusy  map[string]bool
	constAlign map[string]bool
}

// Annotate prepares rs for evaluation. All static errors are returned
// together.
func Annotate(rs *ast.RuleSet) error {
	a := &annotator{
		rs:         rs,
		scopes:     make(map[ast.NodeID]scopeKind),
		decls:      make(map[ast.NodeID]*ast.Node),
		loops:      make(map[ast.NodeID]*ast.Node),
		inside:     make(map[ast.NodeID]map[ast.NodeID]bool),
		constDone:  make(map[string]bool),
		constBusy:  make(map[string]bool),
		constAlign: make(map[string]bool),
	}

	a.checkNames()
	a.assignIDs()
	rs.Index()

	for _, c := range rs.Constants {
		a.owner = c.Name
		a.scopes[c.ID] = scopeConstant
		a.resolve(c.Expr, c.ID, nil)
	}
	for _, f := range rs.Functions {
		a.owner = f.Name
		a.scopes[f.ID] = scopeFunction
		for _, p := range f.Params {
			p.Ann.ScopeID = f.ID
			a.decls[p.ID] = p
		}
		a.resolve(f.Body, f.ID, (*env)(nil).with(f.Params...))
	}
	for _, r := range rs.Rules {
		a.owner = r.Name
		a.scopes[r.ID] = scopeRule
		a.resolve(r.Expr, r.ID, nil)
	}
	if err := a.errs.ErrorOrNil(); err != nil {
		return err
	}

	for _, c := range rs.Constants {
		a.constant(c.Name)
	}
	for _, f := range rs.Functions {
		a.compute(f.Body)
	}
	for _, r := range rs.Rules {
		a.compute(r.Expr)
		slog.Debug("rule annotated",
			"rule", r.Name,
			"iterable", r.Expr.Ann.Iterable,
			"has_alignment", r.Expr.Ann.HasAlignment,
		)
	}
	return nil
}

func (a *annotator) errorf(pos ast.Pos, format string, args ...any) {
	a.errs = multierror.Append(a.errs, &Error{Owner: a.owner, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (a *annotator) checkNames() {
	seen := map[string]bool{}
	for _, r := range a.rs.Rules {
		if seen[r.Name] {
			a.owner = r.Name
			a.errorf(r.Pos, "duplicate rule name")
		}
		seen[r.Name] = true
		if r.Expr == nil {
			a.owner = r.Name
			a.errorf(r.Pos, "rule has no expression")
		}
	}
	seen = map[string]bool{}
	for _, c := range a.rs.Constants {
		if seen[c.Name] {
			a.owner = c.Name
			a.errorf(c.Pos, "duplicate constant name")
		}
		seen[c.Name] = true
	}
	seen = map[string]bool{}
	for _, f := range a.rs.Functions {
		if seen[f.Name] {
			a.owner = f.Name
			a.errorf(f.Pos, "duplicate function name")
		}
		seen[f.Name] = true
	}
}

func (a *annotator) assignIDs() {
	assign := func(n *ast.Node) bool {
		a.next++
		n.ID = a.next
		return true
	}
	for _, c := range a.rs.Constants {
		a.next++
		c.ID = a.next
		ast.Walk(c.Expr, assign)
	}
	for _, f := range a.rs.Functions {
		a.next++
		f.ID = a.next
		for _, p := range f.Params {
			ast.Walk(p, assign)
		}
		ast.Walk(f.Body, assign)
	}
	for _, r := range a.rs.Rules {
		a.next++
		r.ID = a.next
		ast.Walk(r.Expr, assign)
	}
}

// resolve fills ScopeID and Decl, opening scopes where evaluation runs in
// its own table.
func (a *annotator) resolve(n *ast.Node, scope ast.NodeID, vars *env) {
	if n == nil {
		return
	}
	n.Ann.ScopeID = scope

	switch n.Kind {
	case ast.KindInvalid:
		a.errorf(n.Pos, "invalid expression")
	case ast.KindVarRef:
		d, ok := vars.lookup(n.Name)
		if !ok {
			a.errorf(n.Pos, "undeclared variable $%s", n.Name)
			return
		}
		n.Ann.Decl = d.ID
	case ast.KindConstRef:
		if _, ok := a.rs.Constant(n.Name); !ok {
			a.errorf(n.Pos, "undeclared constant %s", n.Name)
		}
	case ast.KindLet:
		cur := vars
		for _, d := range n.Vars {
			d.Ann.ScopeID = scope
			a.resolve(d.Expr, scope, cur)
			a.decls[d.ID] = d
			cur = cur.with(d)
		}
		a.resolve(n.Body, scope, cur)
	case ast.KindFor:
		if len(n.Vars) != 1 {
			a.errorf(n.Pos, "for needs exactly one loop variable")
			return
		}
		a.scopes[n.ID] = scopeFor
		a.resolve(n.Source, scope, vars)
		loop := n.Vars[0]
		loop.Ann.ScopeID = n.ID
		a.decls[loop.ID] = loop
		a.loops[loop.ID] = n
		a.resolve(n.Body, n.ID, vars.with(loop))
	case ast.KindAggregate:
		a.scopes[n.ID] = scopeAggregate
		for _, arg := range n.Args {
			a.resolve(arg, n.ID, vars)
		}
	case ast.KindCall:
		if f, ok := a.rs.Function(n.Name); ok && len(f.Params) != len(n.Args) {
			a.errorf(n.Pos, "%s takes %d arguments, got %d", n.Name, len(f.Params), len(n.Args))
		}
		for _, arg := range n.Args {
			a.resolve(arg, scope, vars)
		}
	case ast.KindFactset, ast.KindWith:
		if n.Factset == nil {
			a.errorf(n.Pos, "%s without filters", n.Kind)
			return
		}
		for _, f := range n.Factset.Filters {
			a.resolve(f.Value, scope, vars)
		}
		if n.Kind == ast.KindWith {
			a.resolve(n.Body, scope, vars)
			return
		}
		if n.Factset.Where != nil {
			a.scopes[n.ID] = scopeWhere
			item := &ast.Node{ID: n.ID, Kind: ast.KindFactset, Name: "item"}
			a.decls[n.ID] = n
			a.resolve(n.Factset.Where, n.ID, vars.with(item))
		}
	default:
		for _, c := range ast.Children(n) {
			a.resolve(c, scope, vars)
		}
	}
}

func (a *annotator) descendants(n *ast.Node) map[ast.NodeID]bool {
	if set, ok := a.inside[n.ID]; ok {
		return set
	}
	set := map[ast.NodeID]bool{}
	ast.Walk(n, func(c *ast.Node) bool {
		set[c.ID] = true
		return true
	})
	a.inside[n.ID] = set
	return set
}

func opensScope(n *ast.Node) bool {
	switch n.Kind {
	case ast.KindAggregate, ast.KindFor:
		return true
	case ast.KindFactset:
		return n.Factset.Where != nil
	}
	return false
}

// constant annotates a constant on first use and reports whether its
// values carry alignment.
func (a *annotator) constant(name string) bool {
	if a.constDone[name] {
		return a.constAlign[name]
	}
	c, ok := a.rs.Constant(name)
	if !ok || a.constBusy[name] {
		// cycles are reported when the constants are evaluated
		return true
	}
	a.constBusy[name] = true
	a.compute(c.Expr)
	a.constBusy[name] = false
	a.constDone[name] = true
	a.constAlign[name] = c.Expr.Ann.HasAlignment
	return a.constAlign[name]
}

// compute fills the value annotations bottom-up.
func (a *annotator) compute(n *ast.Node) {
	if n == nil {
		return
	}
	children := ast.Children(n)
	for _, c := range children {
		a.compute(c)
	}

	var deps, refs []ast.NodeID
	anyIterable, anyAligned, anyDependent := false, false, false
	for _, c := range children {
		if c.Ann.Iterable {
			deps = appendUnique(deps, c.ID)
		} else {
			deps = appendUnique(deps, c.Ann.DependentIterables...)
		}
		refs = appendUnique(refs, c.Ann.VarRefs...)
		anyIterable = anyIterable || c.Ann.Iterable
		anyAligned = anyAligned || c.Ann.HasAlignment
		anyDependent = anyDependent || c.Ann.Dependent
	}

	ann := &n.Ann
	switch n.Kind {
	case ast.KindLiteral, ast.KindParam, ast.KindVarDecl:
		ann.Iterable = false
		ann.HasAlignment = n.Kind == ast.KindVarDecl && anyAligned
	case ast.KindVarRef:
		ann.Iterable = false
		refs = appendUnique(refs, ann.Decl)
		switch d := a.decls[ann.Decl]; {
		case d == nil:
		case d.Kind == ast.KindVarDecl && d.Expr != nil:
			if d.Expr.Ann.Iterable {
				deps = appendUnique(deps, d.Expr.ID)
			} else {
				deps = appendUnique(deps, d.Expr.Ann.DependentIterables...)
			}
			refs = appendUnique(refs, d.Expr.Ann.VarRefs...)
			anyAligned = d.Expr.Ann.HasAlignment
		case d.Kind == ast.KindVarDecl:
			deps = appendUnique(deps, d.ID)
			anyAligned = a.loopAligned(d)
		case d.Kind == ast.KindFactset:
			anyAligned = true
		}
		ann.HasAlignment = anyAligned
	case ast.KindConstRef:
		ann.Iterable = true
		ann.HasAlignment = a.constant(n.Name)
	case ast.KindFactset:
		ann.Iterable = true
		ann.HasAlignment = !n.Factset.Covered
		ann.Dependent = !n.Factset.Covered && (a.nestedScope(ann.ScopeID) || a.whereReadsOuter(n))
	case ast.KindAggregate, ast.KindFor:
		ann.Iterable = true
		ann.HasAlignment = anyAligned
	case ast.KindCall:
		_, user := a.rs.Function(n.Name)
		ann.Iterable = user || anyIterable
		ann.HasAlignment = anyAligned
		if f, ok := a.rs.Function(n.Name); ok {
			ann.HasAlignment = anyAligned || f.Body.Ann.HasAlignment
			anyDependent = anyDependent || f.Body.Ann.Dependent
		}
	case ast.KindLet, ast.KindWith:
		ann.Iterable = false
		ann.HasAlignment = n.Body != nil && n.Body.Ann.HasAlignment
	default:
		ann.Iterable = anyIterable
		ann.HasAlignment = anyAligned
	}
	ann.Dependent = ann.Dependent || anyDependent

	if opensScope(n) {
		inner := a.descendants(n)
		deps = slices.DeleteFunc(deps, func(id ast.NodeID) bool { return inner[id] })
		refs = slices.DeleteFunc(refs, func(id ast.NodeID) bool { return inner[id] })
	}
	if n.Kind == ast.KindLet {
		local := make(map[ast.NodeID]bool, len(n.Vars))
		for _, d := range n.Vars {
			local[d.ID] = true
		}
		refs = slices.DeleteFunc(refs, func(id ast.NodeID) bool { return local[id] })
	}
	deps = slices.DeleteFunc(deps, func(id ast.NodeID) bool { return id == n.ID })
	slices.Sort(deps)
	slices.Sort(refs)
	ann.DependentIterables = deps
	ann.VarRefs = refs
}

// loopAligned reports whether a for-loop variable's items carry alignment.
func (a *annotator) loopAligned(loop *ast.Node) bool {
	f, ok := a.loops[loop.ID]
	return ok && f.Source != nil && f.Source.Ann.HasAlignment
}

// nestedScope reports whether nodes in scope evaluate on behalf of an
// enclosing alignment: where clauses, for bodies and function bodies.
func (a *annotator) nestedScope(scope ast.NodeID) bool {
	switch a.scopes[scope] {
	case scopeWhere, scopeFor, scopeFunction:
		return true
	}
	return false
}

// whereReadsOuter reports whether a factset's where clause reads variables
// declared outside the factset.
func (a *annotator) whereReadsOuter(n *ast.Node) bool {
	if n.Factset.Where == nil {
		return false
	}
	inner := a.descendants(n)
	for _, id := range n.Factset.Where.Ann.VarRefs {
		if !inner[id] && id != n.ID {
			return true
		}
	}
	return false
}

func appendUnique(dst []ast.NodeID, ids ...ast.NodeID) []ast.NodeID {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}
