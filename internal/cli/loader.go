package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/factrule/internal/analysis"
	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/compiler"
	"github.com/roach88/factrule/internal/engine"
)

// LoadResult contains a compiled and prepared rule set.
type LoadResult struct {
	RuleSet   *ast.RuleSet
	Warnings  []compiler.CycleWarning
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred while loading a rule set.
type LoadError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos // CUE position if available
	Line    int       // set when only a line is known
}

func (e *LoadError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// line returns the source line of the error, 0 when unknown.
func (e *LoadError) line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return e.Line
}

// LoadRules compiles the rule set in dir and prepares it against the
// builtins of registry.
//
// A nil result means the directory could not be read or compiled at all.
// A non-nil result with errors means the rule set compiled but failed
// analysis or validation. All errors are *LoadError.
func LoadRules(dir string, registry *engine.Registry) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rules directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	rs, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, convertErrors(err)
	}

	result := &LoadResult{RuleSet: rs, FileCount: len(files)}
	if len(rs.Rules) == 0 {
		return result, []error{&LoadError{Code: ErrCodeNoRules, Field: "rule", Message: "no rules found in rule set"}}
	}

	warnings, err := compiler.Prepare(rs, registry)
	result.Warnings = warnings
	if err != nil {
		return result, convertErrors(err)
	}
	return result, nil
}

// convertErrors flattens a compiler or analysis error into LoadErrors.
func convertErrors(err error) []error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]error, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, convertError(e))
		}
		return out
	}
	return []error{convertError(err)}
}

// convertError converts one error to a LoadError with position info.
func convertError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Field:   compileErr.Field,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	var ve compiler.ValidationError
	if errors.As(err, &ve) {
		return &LoadError{Code: ve.Code, Field: ve.Field, Message: ve.Message, Line: ve.Line}
	}
	var cw compiler.CycleWarning
	if errors.As(err, &cw) {
		return &LoadError{Code: ErrCodeAnalysis, Field: "cycle", Message: cw.Message}
	}
	var ae *analysis.Error
	if errors.As(err, &ae) {
		return &LoadError{Code: ErrCodeAnalysis, Field: ae.Owner, Message: ae.Message, Line: ae.Pos.Line}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load or fact file load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // Database write error
	ErrCodeNoRules     = "E008" // Rule set declares no rules

	// Rule set compile errors
	ErrCodeSeverity   = "E010" // Unknown severity
	ErrCodeMissing    = "E011" // Rule without expression, function without body
	ErrCodeExpression = "E012" // Malformed expression
	ErrCodeFactset    = "E013" // Malformed factset or filter

	// Analysis errors (undeclared names, constant cycles)
	ErrCodeAnalysis = "E020"

	// Run outcomes
	ErrCodeRunAborted = "E030"          // Cancelled or sink failure
	ErrCodeRuleFailed = "E_RULE_FAILED" // Error results or processing errors
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "cue":
		return ErrCodeBuildFailed
	case "severity":
		return ErrCodeSeverity
	case "expr", "body":
		return ErrCodeMissing
	case "factset", "filters", "aspect", "match", "dims", "covered", "nils", "where",
		"concept", "entity", "period", "unit":
		return ErrCodeFactset
	case "lit", "type", "var", "const", "op", "args", "not", "neg", "if", "then", "else",
		"for", "in", "do", "agg", "call", "prop", "of", "list", "set", "let", "with", "tag",
		"params", "message", "assert":
		return ErrCodeExpression
	default:
		return ErrCodeGeneric
	}
}
