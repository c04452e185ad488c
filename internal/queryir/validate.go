package queryir

import (
	"fmt"
)

// ValidationResult contains the outcome of checking a query.
type ValidationResult struct {
	// Valid is true when the query can be compiled and scanned safely.
	Valid bool

	// Warnings lists every problem found. Empty when Valid is true.
	Warnings []string
}

// Validate checks a query against the fragment rules:
//  1. From is set
//  2. Fields are explicit (no SELECT *)
//  3. In and NotIn subqueries select exactly one field
//  4. Every predicate names a field and carries a literal
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(query, false)

	return ValidationResult{
		Valid:    len(v.warnings) == 0,
		Warnings: v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query, sub bool) {
	if q == nil {
		v.addWarning("nil query")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query, sub)
	case *Select:
		v.validateSelect(*query, sub)
	default:
		v.addWarning("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select, sub bool) {
	if sel.From == "" {
		v.addWarning("select without a source table")
	}
	if len(sel.Fields) == 0 {
		v.addWarning("empty field list (SELECT *) on %s - fields are scanned positionally", sel.From)
	}
	if sub && len(sel.Fields) > 1 {
		v.addWarning("subquery on %s selects %d fields, want 1", sel.From, len(sel.Fields))
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case In:
		v.validateMembership("IN", pred.Field, pred.Query)
	case *In:
		v.validateMembership("IN", pred.Field, pred.Query)
	case NotIn:
		v.validateMembership("NOT IN", pred.Field, pred.Query)
	case *NotIn:
		v.validateMembership("NOT IN", pred.Field, pred.Query)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addWarning("unknown predicate type: %T", p)
	}
}

func (v *validator) validateEquals(eq Equals) {
	if eq.Field == "" {
		v.addWarning("equality without a field")
	}
	if eq.Value == nil {
		v.addWarning("field '%s' compared to nothing - use NotIn for missing rows", eq.Field)
	}
}

func (v *validator) validateMembership(op, field string, q Query) {
	if field == "" {
		v.addWarning("%s without a field", op)
	}
	v.validateQuery(q, true)
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}
