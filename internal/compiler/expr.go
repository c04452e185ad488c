package compiler

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// exprKeys are the keys that select an expression form, in the order they
// are tried. An expression object must carry exactly one of them.
var exprKeys = []string{
	"lit", "var", "const", "factset", "op", "not", "neg", "if", "for",
	"agg", "call", "prop", "list", "set", "let", "with",
}

// lookup returns the named field of v. Keyword labels ("if", "for", "in",
// "let") are looked up by selector so they need no quoting rules here.
func lookup(v cue.Value, name string) (cue.Value, bool) {
	f := v.LookupPath(cue.MakePath(cue.Str(name)))
	return f, f.Exists()
}

// CompileExpr compiles one expression object.
//
// Every expression is a struct naming its form by key:
//
//	{lit: 50}
//	{var: "x"}
//	{op: "+", args: [{...}, {...}], nils: "both"}
//	{factset: {concept: "Assets", period: "*"}}
//
// Any form may add tag: "name" to record its value in message tags.
func CompileExpr(v cue.Value) (*ast.Node, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, errorAt(v, "expr", "expression must be a struct, got %s", v.IncompleteKind())
	}

	var form string
	for _, k := range exprKeys {
		if _, ok := lookup(v, k); !ok {
			continue
		}
		if form != "" {
			return nil, errorAt(v, "expr", "expression has both %q and %q", form, k)
		}
		form = k
	}
	if form == "" {
		return nil, errorAt(v, "expr", "expression has none of %s", strings.Join(exprKeys, ", "))
	}

	n, err := compileForm(form, v)
	if err != nil {
		return nil, err
	}
	n.Pos = position(v.Pos())

	if tv, ok := lookup(v, "tag"); ok {
		tag, err := tv.String()
		if err != nil {
			return nil, errorAt(tv, "tag", "must be a string")
		}
		n.Tag = tag
	}
	return n, nil
}

func compileForm(form string, v cue.Value) (*ast.Node, error) {
	field, _ := lookup(v, form)

	switch form {
	case "lit":
		lit, err := compileLiteral(field)
		if err != nil {
			return nil, err
		}
		if tv, ok := lookup(v, "type"); ok {
			typ, err := tv.String()
			if err != nil {
				return nil, errorAt(tv, "type", "must be a string")
			}
			if lit, err = typedLiteral(lit, typ); err != nil {
				return nil, errorAt(tv, "type", "%v", err)
			}
		}
		return ast.Lit(lit), nil

	case "var":
		name, err := nameOf(field, "var")
		if err != nil {
			return nil, err
		}
		return ast.Var(name), nil

	case "const":
		name, err := nameOf(field, "const")
		if err != nil {
			return nil, err
		}
		return ast.Const(name), nil

	case "factset":
		fs, err := compileFactset(field, true)
		if err != nil {
			return nil, err
		}
		return &ast.Node{Kind: ast.KindFactset, Factset: fs}, nil

	case "with":
		fs, err := compileFactset(field, false)
		if err != nil {
			return nil, err
		}
		body, err := required(v, "do")
		if err != nil {
			return nil, err
		}
		return ast.With(body, fs.Filters...), nil

	case "op":
		return compileOp(field, v)

	case "not", "neg":
		x, err := CompileExpr(field)
		if err != nil {
			return nil, err
		}
		if form == "not" {
			return ast.Not(x), nil
		}
		return ast.Neg(x), nil

	case "if":
		cond, err := CompileExpr(field)
		if err != nil {
			return nil, err
		}
		then, err := required(v, "then")
		if err != nil {
			return nil, err
		}
		els, err := required(v, "else")
		if err != nil {
			return nil, err
		}
		return ast.If(cond, then, els), nil

	case "for":
		name, err := nameOf(field, "for")
		if err != nil {
			return nil, err
		}
		src, err := required(v, "in")
		if err != nil {
			return nil, err
		}
		body, err := required(v, "do")
		if err != nil {
			return nil, err
		}
		return ast.For(name, src, body), nil

	case "agg", "call":
		name, err := nameOf(field, form)
		if err != nil {
			return nil, err
		}
		args, err := compileArgs(v, "args")
		if err != nil {
			return nil, err
		}
		if form == "agg" {
			return ast.Agg(name, args...), nil
		}
		return ast.Call(name, args...), nil

	case "prop":
		name, err := nameOf(field, "prop")
		if err != nil {
			return nil, err
		}
		recv, err := required(v, "of")
		if err != nil {
			return nil, err
		}
		args, err := compileArgs(v, "args")
		if err != nil {
			return nil, err
		}
		return ast.Prop(name, recv, args...), nil

	case "list", "set":
		items, err := compileList(field)
		if err != nil {
			return nil, err
		}
		if form == "list" {
			return ast.ListOf(items...), nil
		}
		return ast.SetOf(items...), nil

	case "let":
		return compileLet(field, v)
	}
	return nil, errorAt(v, "expr", "unknown form %q", form)
}

func nameOf(v cue.Value, field string) (string, error) {
	s, err := v.String()
	if err != nil || s == "" {
		return "", errorAt(v, field, "must be a non-empty string")
	}
	return s, nil
}

// required compiles the sub-expression under name, failing when absent.
func required(v cue.Value, name string) (*ast.Node, error) {
	f, ok := lookup(v, name)
	if !ok {
		return nil, errorAt(v, name, "required field missing")
	}
	return CompileExpr(f)
}

func compileArgs(v cue.Value, name string) ([]*ast.Node, error) {
	f, ok := lookup(v, name)
	if !ok {
		return nil, nil
	}
	return compileList(f)
}

func compileList(v cue.Value) ([]*ast.Node, error) {
	iter, err := v.List()
	if err != nil {
		return nil, errorAt(v, "list", "must be a list of expressions")
	}
	var out []*ast.Node
	for iter.Next() {
		n, err := CompileExpr(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func compileOp(field, v cue.Value) (*ast.Node, error) {
	op, err := nameOf(field, "op")
	if err != nil {
		return nil, err
	}
	args, err := compileArgs(v, "args")
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, errorAt(v, "args", "operator %q takes 2 arguments, got %d", op, len(args))
	}

	nils := ast.NilsNone
	if nv, ok := lookup(v, "nils"); ok {
		s, err := nv.String()
		if err != nil {
			return nil, errorAt(nv, "nils", "must be a string")
		}
		switch s {
		case "left":
			nils = ast.NilsLeft
		case "right":
			nils = ast.NilsRight
		case "both":
			nils = ast.NilsBoth
		case "none":
		default:
			return nil, errorAt(nv, "nils", "must be one of left, right, both, none; got %q", s)
		}
	}
	return ast.BinNils(op, nils, args[0], args[1]), nil
}

// compileLet reads {let: [{x: expr}, {y: expr}], in: body}. Each list
// element declares one variable, so declaration order is list order.
func compileLet(field, v cue.Value) (*ast.Node, error) {
	iter, err := field.List()
	if err != nil {
		return nil, errorAt(field, "let", "must be a list of single-variable structs")
	}
	var decls []*ast.Node
	for iter.Next() {
		elem := iter.Value()
		fields, err := elem.Fields()
		if err != nil {
			return nil, errorAt(elem, "let", "variable must be a struct")
		}
		count := 0
		for fields.Next() {
			count++
			expr, err := CompileExpr(fields.Value())
			if err != nil {
				return nil, err
			}
			d := ast.Decl(fields.Label(), expr)
			d.Pos = position(fields.Value().Pos())
			decls = append(decls, d)
		}
		if count != 1 {
			return nil, errorAt(elem, "let", "each element declares one variable, got %d", count)
		}
	}
	body, err := required(v, "in")
	if err != nil {
		return nil, err
	}
	return ast.Let(body, decls...), nil
}

// compileLiteral converts a concrete CUE value to a Value. Numbers without
// a fraction become ints when they fit, everything else numeric is decimal.
func compileLiteral(v cue.Value) (ir.Value, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.None(), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return ir.Value{}, errorAt(v, "lit", "%v", err)
		}
		return ir.Bool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return ir.Value{}, errorAt(v, "lit", "%v", err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		if i, err := v.Int64(); err == nil {
			return ir.Int(i), nil
		}
		return decimalLiteral(v)
	case cue.FloatKind, cue.NumberKind:
		return decimalLiteral(v)
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return ir.Value{}, errorAt(v, "lit", "%v", err)
		}
		var items []ir.Value
		for iter.Next() {
			item, err := compileLiteral(iter.Value())
			if err != nil {
				return ir.Value{}, err
			}
			items = append(items, item)
		}
		return ir.List(items...), nil
	}
	return ir.Value{}, errorAt(v, "lit", "unsupported literal of kind %s", v.IncompleteKind())
}

func decimalLiteral(v cue.Value) (ir.Value, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return ir.Value{}, errorAt(v, "lit", "%v", err)
	}
	d, err := ir.DecimalFromString(string(raw))
	if err != nil {
		return ir.Value{}, errorAt(v, "lit", "%v", err)
	}
	return d, nil
}

// typedLiteral reinterprets a string literal as one of the fact-model
// kinds.
func typedLiteral(lit ir.Value, typ string) (ir.Value, error) {
	s, ok := lit.AsString()
	if !ok {
		return ir.Value{}, fmt.Errorf("type %q needs a string literal, got %s", typ, lit.Kind)
	}
	switch typ {
	case "string":
		return lit, nil
	case "concept":
		return ir.Concept(ir.ParseQName(s)), nil
	case "qname":
		return ir.QNameValue(ir.ParseQName(s)), nil
	case "uri":
		return ir.URI(s), nil
	case "decimal":
		return ir.DecimalFromString(s)
	case "instant":
		t, err := time.Parse(ir.DateLayout, s)
		if err != nil {
			return ir.Value{}, fmt.Errorf("instant %q: %w", s, err)
		}
		return ir.Instant(t), nil
	case "duration":
		p, err := ir.ParsePeriod(s)
		if err != nil {
			return ir.Value{}, err
		}
		return ir.Duration(p), nil
	case "unit":
		return ir.UnitValue(ir.ParseUnit(s)), nil
	case "entity":
		scheme, id, ok := strings.Cut(s, "|")
		if !ok {
			return ir.EntityValue(ir.Entity{ID: s}), nil
		}
		return ir.EntityValue(ir.Entity{Scheme: scheme, ID: id}), nil
	}
	return ir.Value{}, fmt.Errorf("unknown literal type %q", typ)
}
