package compiler

import (
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/factrule/internal/analysis"
	"github.com/roach88/factrule/internal/ast"
)

// Prepare readies a compiled rule set for the engine: it annotates the
// AST, checks builtin names and placeholders, and analyses reference
// cycles. Recursion warnings are returned alongside; constant cycles and
// every other problem are errors.
func Prepare(rs *ast.RuleSet, b Builtins) ([]CycleWarning, error) {
	var errs *multierror.Error

	if err := analysis.Annotate(rs); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, ve := range Validate(rs, b) {
		errs = multierror.Append(errs, ve)
	}

	var warnings []CycleWarning
	for _, w := range AnalyzeCycles(rs) {
		if w.Level == LevelError {
			errs = multierror.Append(errs, w)
			continue
		}
		warnings = append(warnings, w)
	}
	return warnings, errs.ErrorOrNil()
}
