// Package compiler turns CUE rule set definitions into the ast package's
// rule sets.
//
// A rule set declares three top-level structs:
//
//	constant: threshold: {lit: 50}
//	function: half: {params: ["x"], body: {op: "/", args: [{var: "x"}, {lit: 2}]}}
//	rule: "net-assets": {
//		severity: "error"
//		message:  "net assets {result}"
//		expr: {...}
//	}
//
// Declarations keep their CUE order. Compilation is structural only; name
// resolution and the AST annotations are left to the analysis package.
package compiler

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// CompileString compiles CUE source into a rule set. The rule set hash is
// taken over src.
func CompileString(name, src string) (*ast.RuleSet, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	rs, err := CompileRuleSet(name, v)
	if err != nil {
		return nil, err
	}
	rs.Hash = ir.RuleSetHash([]byte(src))
	return rs, nil
}

// CompileRuleSet compiles a CUE value holding constant, function and rule
// structs. Every declaration is compiled; the returned error collects all
// failures.
func CompileRuleSet(name string, v cue.Value) (*ast.RuleSet, error) {
	if err := v.Validate(cue.Concrete(false)); err != nil {
		return nil, formatCUEError(err)
	}

	rs := &ast.RuleSet{Name: name}
	var errs *multierror.Error

	err := eachField(v, "constant", func(label string, fv cue.Value) error {
		expr, err := CompileExpr(fv)
		if err != nil {
			return err
		}
		rs.Constants = append(rs.Constants, &ast.Constant{
			Name: label,
			Expr: expr,
			Pos:  position(fv.Pos()),
		})
		return nil
	})
	errs = multierror.Append(errs, err)

	err = eachField(v, "function", func(label string, fv cue.Value) error {
		fn, err := CompileFunction(label, fv)
		if err != nil {
			return err
		}
		rs.Functions = append(rs.Functions, fn)
		return nil
	})
	errs = multierror.Append(errs, err)

	err = eachField(v, "rule", func(label string, fv cue.Value) error {
		r, err := CompileRule(label, fv)
		if err != nil {
			return err
		}
		rs.Rules = append(rs.Rules, r)
		return nil
	})
	errs = multierror.Append(errs, err)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return rs, nil
}

// eachField calls fn for every field of the struct under section and
// collects the errors. A missing section is empty.
func eachField(v cue.Value, section string, fn func(label string, fv cue.Value) error) error {
	sv, ok := lookup(v, section)
	if !ok {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return errorAt(sv, section, "must be a struct")
	}
	var errs *multierror.Error
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// CompileRule compiles one rule declaration.
//
// Example CUE input:
//
//	rule: "current-ratio": {
//		severity: "warning"
//		message:  "current ratio is {result}"
//		assert:   false
//		expr:     {...}
//	}
func CompileRule(name string, v cue.Value) (*ast.Rule, error) {
	r := &ast.Rule{Name: name, Pos: position(v.Pos())}

	sev := ""
	if sv, ok := lookup(v, "severity"); ok {
		s, err := sv.String()
		if err != nil {
			return nil, errorAt(sv, "severity", "must be a string")
		}
		sev = s
	}
	severity, err := ir.ParseSeverity(sev)
	if err != nil {
		return nil, errorAt(v, "severity", "rule %s: %v", name, err)
	}
	r.Severity = severity

	if mv, ok := lookup(v, "message"); ok {
		if r.Message, err = mv.String(); err != nil {
			return nil, errorAt(mv, "message", "must be a string")
		}
	}
	if av, ok := lookup(v, "assert"); ok {
		if r.Assert, err = av.Bool(); err != nil {
			return nil, errorAt(av, "assert", "must be a bool")
		}
	}

	ev, ok := lookup(v, "expr")
	if !ok {
		return nil, errorAt(v, "expr", "rule %s has no expression", name)
	}
	if r.Expr, err = CompileExpr(ev); err != nil {
		return nil, err
	}
	return r, nil
}

// CompileFunction compiles {params: [...], body: {...}}.
func CompileFunction(name string, v cue.Value) (*ast.Function, error) {
	fn := &ast.Function{Name: name, Pos: position(v.Pos())}

	if pv, ok := lookup(v, "params"); ok {
		iter, err := pv.List()
		if err != nil {
			return nil, errorAt(pv, "params", "must be a list of names")
		}
		for iter.Next() {
			p, err := nameOf(iter.Value(), "params")
			if err != nil {
				return nil, err
			}
			param := ast.Param(p)
			param.Pos = position(iter.Value().Pos())
			fn.Params = append(fn.Params, param)
		}
	}

	body, err := required(v, "body")
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}
