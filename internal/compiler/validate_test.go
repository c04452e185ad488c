package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/engine"
	"github.com/roach88/factrule/internal/ir"
)

func validateSource(t *testing.T, src string) []ValidationError {
	t.Helper()
	rs, err := CompileString("v.cue", src)
	require.NoError(t, err)
	return Validate(rs, engine.NewRegistry())
}

func TestValidate_Valid(t *testing.T) {
	errs := validateSource(t, netAssetsSrc)
	assert.Empty(t, errs)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "unknown operator",
			src:      `rule: r: expr: {op: "%", args: [{lit: 1}, {lit: 2}]}`,
			wantCode: ErrUnknownOperator,
			wantMsg:  `unknown operator "%"`,
		},
		{
			name:     "unknown function",
			src:      `rule: r: expr: {call: "frobnicate", args: [{lit: 1}]}`,
			wantCode: ErrUnknownFunction,
			wantMsg:  `unknown function "frobnicate"`,
		},
		{
			name:     "unknown aggregate",
			src:      `rule: r: expr: {agg: "median", args: [{lit: 1}]}`,
			wantCode: ErrUnknownAggregator,
			wantMsg:  `unknown aggregate "median"`,
		},
		{
			name:     "unknown property",
			src:      `rule: r: expr: {prop: "colour", of: {lit: 1}}`,
			wantCode: ErrUnknownProperty,
			wantMsg:  `unknown property "colour"`,
		},
		{
			name:     "unknown placeholder",
			src:      `rule: r: {message: "{result} vs {limit}", expr: {lit: 1}}`,
			wantCode: ErrUnknownPlaceholder,
			wantMsg:  "unknown placeholder {limit}",
		},
		{
			name:     "shadowed builtin",
			src:      `function: abs: {params: ["x"], body: {var: "x"}}`,
			wantCode: ErrShadowedBuiltin,
			wantMsg:  "function abs hides the builtin",
		},
		{
			name:     "duplicate tag",
			src:      `rule: r: expr: {op: "+", args: [{lit: 1, tag: "a"}, {lit: 2, tag: "a"}]}`,
			wantCode: ErrDuplicateTag,
			wantMsg:  `tag "a" recorded twice`,
		},
		{
			name:     "unknown name inside a constant",
			src:      `constant: c: {agg: "median", args: [{lit: 1}]}`,
			wantCode: ErrUnknownAggregator,
			wantMsg:  `unknown aggregate "median"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateSource(t, tt.src)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.wantCode, errs[0].Code)
			assert.Contains(t, errs[0].Message, tt.wantMsg)
			assert.Positive(t, errs[0].Line)
		})
	}
}

func TestValidate_TagPlaceholders(t *testing.T) {
	src := `rule: r: {
	message: "{rule} {severity}: {assets} - {liabilities} = {result} at {alignment}"
	expr: {op: "-", args: [
		{factset: {concept: "Assets"}, tag: "assets"},
		{factset: {concept: "Liabilities"}, tag: "liabilities"},
	]}
}`
	assert.Empty(t, validateSource(t, src))
}

func TestValidate_UserFunctionCall(t *testing.T) {
	rs := &ast.RuleSet{
		Functions: []*ast.Function{{Name: "twice", Params: []*ast.Node{ast.Param("x")}, Body: ast.Var("x")}},
		Rules:     []*ast.Rule{{Name: "r", Expr: ast.Call("twice", ast.Lit(ir.Int(1)))}},
	}
	assert.Empty(t, Validate(rs, engine.NewRegistry()))
}

func TestValidationError_Format(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Field: "rule.r", Message: "bad", Code: ErrUnknownOperator, Line: 3}, "[E101] line 3: rule.r: bad"},
		{ValidationError{Field: "rule.r", Message: "bad", Code: ErrUnknownOperator}, "[E101] rule.r: bad"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
