package compiler

import (
	"fmt"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/ast"
)

// sexpr renders a node compactly so tests can compare whole trees.
func sexpr(n *ast.Node) string {
	if n == nil {
		return "<nil>"
	}
	var s string
	args := func(ns []*ast.Node) string {
		parts := make([]string, len(ns))
		for i, a := range ns {
			parts[i] = sexpr(a)
		}
		return strings.Join(parts, " ")
	}
	switch n.Kind {
	case ast.KindLiteral:
		s = n.Literal.Kind.String() + ":" + n.Literal.Format()
	case ast.KindVarRef:
		s = "$" + n.Name
	case ast.KindConstRef:
		s = "@" + n.Name
	case ast.KindBinary:
		op := n.Op
		switch n.Nils {
		case ast.NilsLeft:
			op += "[left]"
		case ast.NilsRight:
			op += "[right]"
		case ast.NilsBoth:
			op += "[both]"
		}
		s = "(" + op + " " + args(n.Args) + ")"
	case ast.KindUnary:
		s = "(" + n.Op + " " + args(n.Args) + ")"
	case ast.KindIf:
		s = "(if " + args([]*ast.Node{n.Cond, n.Then, n.Else}) + ")"
	case ast.KindFor:
		s = "(for " + n.Vars[0].Name + " " + sexpr(n.Source) + " " + sexpr(n.Body) + ")"
	case ast.KindLet:
		var decls []string
		for _, d := range n.Vars {
			decls = append(decls, "("+d.Name+" "+sexpr(d.Expr)+")")
		}
		s = "(let " + strings.Join(decls, " ") + " " + sexpr(n.Body) + ")"
	case ast.KindAggregate:
		s = "(agg:" + n.Name + " " + args(n.Args) + ")"
	case ast.KindCall:
		s = "(call:" + n.Name + " " + args(n.Args) + ")"
	case ast.KindProperty:
		s = "(prop:" + n.Name + " " + args(n.Args) + ")"
	case ast.KindList:
		s = "[" + args(n.Args) + "]"
	case ast.KindSet:
		s = "#{" + args(n.Args) + "}"
	case ast.KindFactset:
		s = factsetString(n.Factset)
	case ast.KindWith:
		s = "(with " + factsetString(n.Factset) + " " + sexpr(n.Body) + ")"
	default:
		s = fmt.Sprintf("<%s>", n.Kind)
	}
	if n.Tag != "" {
		s += "#" + n.Tag
	}
	return s
}

func factsetString(fs *ast.Factset) string {
	var parts []string
	for _, f := range fs.Filters {
		p := f.Aspect.String() + f.Match.String()
		if f.Match != ast.MatchEq && f.Match != ast.MatchAny {
			p = f.Aspect.String() + " " + f.Match.String()
		}
		switch {
		case f.Value != nil && f.Match == ast.MatchEq:
			p += sexpr(f.Value)
		case f.Value != nil:
			p += " " + sexpr(f.Value)
		}
		parts = append(parts, p)
	}
	if fs.Covered {
		parts = append(parts, "covered")
	}
	if fs.Nils {
		parts = append(parts, "nils")
	}
	if fs.Where != nil {
		parts = append(parts, "where "+sexpr(fs.Where))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func compileCUE(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src, cue.Filename("test.cue"))
	require.NoError(t, v.Err())
	return v
}

func TestCompileExpr_Forms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"int", `lit: 50`, "integer:50"},
		{"decimal", `lit: 1.5`, "decimal:1.5"},
		{"string", `lit: "x"`, "string:x"},
		{"bool", `lit: true`, "boolean:true"},
		{"null", `lit: null`, "none:none"},
		{"list literal", `lit: [1, 2]`, "list:list(1, 2)"},
		{"typed concept", `lit: "Assets", type: "concept"`, "concept:Assets"},
		{"typed instant", `lit: "2020-12-31", type: "instant"`, "instant:2020-12-31"},
		{"var", `var: "x"`, "$x"},
		{"const", `const: "threshold"`, "@threshold"},
		{"binary", `op: "+", args: [{lit: 1}, {lit: 2}]`, "(+ integer:1 integer:2)"},
		{"binary nils", `op: "-", nils: "both", args: [{var: "a"}, {var: "b"}]`, "(-[both] $a $b)"},
		{"not", `not: {var: "ok"}`, "(not $ok)"},
		{"neg", `neg: {lit: 3}`, "(- integer:3)"},
		{"if", `"if": {var: "c"}, then: {lit: 1}, "else": {lit: 2}`, "(if $c integer:1 integer:2)"},
		{"for", `"for": "x", "in": {list: [{lit: 1}]}, do: {var: "x"}`, "(for x [integer:1] $x)"},
		{"agg", `agg: "sum", args: [{factset: {concept: "Revenue"}}]`, "(agg:sum {concept=concept:Revenue})"},
		{"call", `call: "half", args: [{lit: 4}]`, "(call:half integer:4)"},
		{"prop", `prop: "dimension", of: {var: "f"}, args: [{lit: "Segment"}]`, "(prop:dimension $f string:Segment)"},
		{"set", `set: [{lit: 1}, {lit: 1}]`, "#{integer:1 integer:1}"},
		{"let", `"let": [{a: {lit: 1}}, {b: {var: "a"}}], "in": {var: "b"}`, "(let (a integer:1) (b $a) $b)"},
		{"tag", `lit: 1, tag: "one"`, "integer:1#one"},
		{
			"factset shorthands",
			`factset: {concept: "Assets", period: "*", unit: "none", entity: "covered", dims: {Segment: "Retail", Area: "*"}}`,
			"{concept=concept:Assets entity covered period* unit none dim:Area* dim:Segment=string:Retail}",
		},
		{
			"factset in list",
			`factset: {concept: ["Assets", "Liabilities"]}`,
			"{concept in [concept:Assets concept:Liabilities]}",
		},
		{
			"factset expression value and where",
			`factset: {concept: "Assets", period: {var: "p"}, covered: true, nils: true, where: {op: ">", args: [{prop: "value", of: {var: "item"}}, {lit: 0}]}}`,
			"{concept=concept:Assets period=$p covered nils where (> (prop:value $item) integer:0)}",
		},
		{
			"explicit filters",
			`factset: {filters: [{aspect: "dim:Segment", match: "in", value: {list: [{lit: "A"}]}}, {aspect: "unit", match: "none"}]}`,
			"{dim:Segment in [string:A] unit none}",
		},
		{
			"with",
			`with: {period: {var: "p"}}, do: {factset: {concept: "Assets"}}`,
			"(with {period=$p} {concept=concept:Assets})",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := CompileExpr(compileCUE(t, tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, sexpr(n))
		})
	}
}

func TestCompileExpr_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"no form", `foo: 1`, "expression has none of"},
		{"two forms", `lit: 1, var: "x"`, `expression has both "lit" and "var"`},
		{"binary arity", `op: "+", args: [{lit: 1}]`, `operator "+" takes 2 arguments, got 1`},
		{"bad nils", `op: "+", nils: "some", args: [{lit: 1}, {lit: 2}]`, "must be one of left, right, both, none"},
		{"if without else", `"if": {lit: true}, then: {lit: 1}`, "else: required field missing"},
		{"empty var", `var: ""`, "must be a non-empty string"},
		{"struct literal", `lit: {a: 1}`, "unsupported literal"},
		{"unknown type", `lit: "x", type: "colour"`, `unknown literal type "colour"`},
		{"bad aspect", `factset: {filters: [{aspect: "colour", match: "*"}]}`, `unknown aspect "colour"`},
		{"duplicate aspect", `factset: {period: "*", filters: [{aspect: "period", match: "none"}]}`, "filtered more than once"},
		{"where in with", `with: {period: "*", where: {lit: true}}, do: {lit: 1}`, "not allowed in a with block"},
		{"let two vars", `"let": [{a: {lit: 1}, b: {lit: 2}}], "in": {var: "a"}`, "each element declares one variable, got 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileExpr(compileCUE(t, tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompileExpr_Position(t *testing.T) {
	v := compileCUE(t, "x: {\n\top: \"+\"\n\targs: [{lit: 1}, {var: \"y\"}]\n}\n")
	n, err := CompileExpr(v.LookupPath(cue.ParsePath("x")))
	require.NoError(t, err)

	assert.Equal(t, "test.cue", n.Args[1].Pos.File)
	assert.Equal(t, 3, n.Args[1].Pos.Line)
}
