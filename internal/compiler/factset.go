package compiler

import (
	"sort"

	"cuelang.org/go/cue"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// Aspect shorthand strings with a filter meaning of their own.
const (
	matchAnyValue     = "*"
	matchAbsentValue  = "none"
	matchCoveredValue = "covered"
)

var aspectFields = []struct {
	name string
	key  ir.AspectKey
}{
	{"concept", ir.ConceptKey},
	{"entity", ir.EntityKey},
	{"period", ir.PeriodKey},
	{"unit", ir.UnitKey},
}

// compileFactset reads a factset body. Filters come from the aspect
// shorthands (concept, entity, period, unit, dims) followed by the explicit
// filters list. A with-block body allows filters only.
func compileFactset(v cue.Value, full bool) (*ast.Factset, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, errorAt(v, "factset", "must be a struct")
	}
	fs := &ast.Factset{}

	for _, af := range aspectFields {
		f, ok := lookup(v, af.name)
		if !ok {
			continue
		}
		flt, err := shorthandFilter(af.key, f)
		if err != nil {
			return nil, err
		}
		fs.Filters = append(fs.Filters, flt)
	}

	if dv, ok := lookup(v, "dims"); ok {
		iter, err := dv.Fields()
		if err != nil {
			return nil, errorAt(dv, "dims", "must be a struct of dimension filters")
		}
		var dims []*ast.Filter
		for iter.Next() {
			flt, err := shorthandFilter(ir.DimensionKey(iter.Label()), iter.Value())
			if err != nil {
				return nil, err
			}
			dims = append(dims, flt)
		}
		sort.SliceStable(dims, func(i, j int) bool { return dims[i].Aspect.Compare(dims[j].Aspect) < 0 })
		fs.Filters = append(fs.Filters, dims...)
	}

	if lv, ok := lookup(v, "filters"); ok {
		iter, err := lv.List()
		if err != nil {
			return nil, errorAt(lv, "filters", "must be a list")
		}
		for iter.Next() {
			flt, err := explicitFilter(iter.Value())
			if err != nil {
				return nil, err
			}
			fs.Filters = append(fs.Filters, flt)
		}
	}

	seen := make(map[ir.AspectKey]bool, len(fs.Filters))
	for _, f := range fs.Filters {
		if seen[f.Aspect] {
			return nil, errorAt(v, "factset", "aspect %s filtered more than once", f.Aspect)
		}
		seen[f.Aspect] = true
	}

	for _, name := range []string{"covered", "nils", "where"} {
		f, ok := lookup(v, name)
		if !ok {
			continue
		}
		if !full {
			return nil, errorAt(f, name, "not allowed in a with block")
		}
		switch name {
		case "covered", "nils":
			b, err := f.Bool()
			if err != nil {
				return nil, errorAt(f, name, "must be a bool")
			}
			if name == "covered" {
				fs.Covered = b
			} else {
				fs.Nils = b
			}
		case "where":
			cond, err := CompileExpr(f)
			if err != nil {
				return nil, err
			}
			fs.Where = cond
		}
	}
	return fs, nil
}

// shorthandFilter reads an aspect value written directly under its aspect:
//
//	"*"        any value, kept in the alignment
//	"none"     aspect absent
//	"covered"  no restriction, removed from the alignment
//	"x"        equals x
//	["x","y"]  one of
//	{...}      equals the value of an expression
func shorthandFilter(key ir.AspectKey, v cue.Value) (*ast.Filter, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, errorAt(v, key.String(), "%v", err)
		}
		switch s {
		case matchAnyValue:
			return ast.Any(key), nil
		case matchAbsentValue:
			return ast.Absent(key), nil
		case matchCoveredValue:
			return ast.Cover(key), nil
		}
		return ast.Eq(key, aspectLiteral(key, s)), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, errorAt(v, key.String(), "%v", err)
		}
		var items []*ast.Node
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, errorAt(iter.Value(), key.String(), "list items must be strings")
			}
			items = append(items, aspectLiteral(key, s))
		}
		return ast.In(key, ast.ListOf(items...)), nil

	case cue.StructKind:
		n, err := CompileExpr(v)
		if err != nil {
			return nil, err
		}
		return ast.Eq(key, n), nil
	}
	return nil, errorAt(v, key.String(), "aspect filter must be a string, list or expression")
}

// explicitFilter reads {aspect: "period", match: "in", value: {...}}.
func explicitFilter(v cue.Value) (*ast.Filter, error) {
	av, ok := lookup(v, "aspect")
	if !ok {
		return nil, errorAt(v, "filters", "filter needs an aspect")
	}
	name, err := av.String()
	if err != nil {
		return nil, errorAt(av, "aspect", "must be a string")
	}
	key, err := ir.ParseAspectKey(name)
	if err != nil {
		return nil, errorAt(av, "aspect", "%v", err)
	}

	match := "="
	if mv, ok := lookup(v, "match"); ok {
		if match, err = mv.String(); err != nil {
			return nil, errorAt(mv, "match", "must be a string")
		}
	}

	switch match {
	case "*":
		return ast.Any(key), nil
	case "none":
		return ast.Absent(key), nil
	case "covered":
		return ast.Cover(key), nil
	case "=", "in":
		value, err := required(v, "value")
		if err != nil {
			return nil, err
		}
		if match == "in" {
			return ast.In(key, value), nil
		}
		return ast.Eq(key, value), nil
	}
	return nil, errorAt(v, "match", "unknown match %q", match)
}

func aspectLiteral(key ir.AspectKey, s string) *ast.Node {
	if key == ir.ConceptKey {
		return ast.Lit(ir.Concept(ir.ParseQName(s)))
	}
	return ast.Lit(ir.String(s))
}
