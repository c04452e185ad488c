package compiler

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/roach88/factrule/internal/ast"
)

// Validation error codes (E100-E199)
const (
	ErrUnknownOperator    = "E101" // binary operator the engine does not implement
	ErrUnknownFunction    = "E102" // call to neither a user nor a builtin function
	ErrUnknownAggregator  = "E103" // aggregate name not registered
	ErrUnknownProperty    = "E104" // property name not registered
	ErrUnknownPlaceholder = "E105" // message placeholder that is neither built in nor a tag
	ErrShadowedBuiltin    = "E106" // user function hides a builtin function
	ErrDuplicateTag       = "E107" // two expressions of one rule record the same tag
)

// Operators lists the binary operators the engine evaluates.
var Operators = []string{
	"+", "-", "*", "/",
	"==", "!=", "<", "<=", ">", ">=",
	"in", "not in",
	"and", "or",
}

// Placeholders are the message placeholders every rule may use.
var Placeholders = []string{"result", "alignment", "rule", "severity"}

// Builtins reports the names the engine can dispatch to.
// engine.Registry satisfies it.
type Builtins interface {
	Names() (functions, properties, aggregators []string)
}

// ValidationError represents a rule set validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.:-]*)\}`)

// Validate checks the names a rule set refers to against the builtins
// available at run time. Returns all errors found (does not fail-fast).
func Validate(rs *ast.RuleSet, b Builtins) []ValidationError {
	functions, properties, aggregators := b.Names()
	v := &validator{
		functions:   functions,
		properties:  properties,
		aggregators: aggregators,
		user:        make(map[string]bool, len(rs.Functions)),
	}
	for _, fn := range rs.Functions {
		v.user[fn.Name] = true
		if slices.Contains(functions, fn.Name) {
			v.add(fn.Pos, "function."+fn.Name, ErrShadowedBuiltin,
				"function %s hides the builtin of the same name", fn.Name)
		}
	}

	for _, c := range rs.Constants {
		v.expr("constant."+c.Name, c.Expr)
	}
	for _, fn := range rs.Functions {
		v.expr("function."+fn.Name, fn.Body)
	}
	for _, r := range rs.Rules {
		owner := "rule." + r.Name
		v.expr(owner, r.Expr)
		v.message(owner, r)
	}
	return v.errs
}

type validator struct {
	functions   []string
	properties  []string
	aggregators []string
	user        map[string]bool
	errs        []ValidationError
}

func (v *validator) add(pos ast.Pos, field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Line:    pos.Line,
	})
}

func (v *validator) expr(owner string, root *ast.Node) {
	ast.Walk(root, func(n *ast.Node) bool {
		switch n.Kind {
		case ast.KindBinary:
			if !slices.Contains(Operators, n.Op) {
				v.add(n.Pos, owner, ErrUnknownOperator, "unknown operator %q", n.Op)
			}
		case ast.KindCall:
			if !v.user[n.Name] && !slices.Contains(v.functions, n.Name) {
				v.add(n.Pos, owner, ErrUnknownFunction, "unknown function %q", n.Name)
			}
		case ast.KindAggregate:
			if !slices.Contains(v.aggregators, n.Name) {
				v.add(n.Pos, owner, ErrUnknownAggregator, "unknown aggregate %q", n.Name)
			}
		case ast.KindProperty:
			if !slices.Contains(v.properties, n.Name) {
				v.add(n.Pos, owner, ErrUnknownProperty, "unknown property %q", n.Name)
			}
		}
		return true
	})
}

// message checks the rule's template placeholders against the built-in
// names and the tags the rule's expression records.
func (v *validator) message(owner string, r *ast.Rule) {
	tags := make(map[string]bool)
	ast.Walk(r.Expr, func(n *ast.Node) bool {
		if n.Tag == "" {
			return true
		}
		if tags[n.Tag] {
			v.add(n.Pos, owner, ErrDuplicateTag, "tag %q recorded twice", n.Tag)
		}
		tags[n.Tag] = true
		return true
	})

	for _, m := range placeholderRe.FindAllStringSubmatch(r.Message, -1) {
		name := m[1]
		if slices.Contains(Placeholders, name) || tags[name] {
			continue
		}
		v.add(r.Pos, owner+".message", ErrUnknownPlaceholder, "unknown placeholder {%s}", name)
	}
}
