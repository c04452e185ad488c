package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/factrule/internal/compiler"
	"github.com/roach88/factrule/internal/engine"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	RuleSet   string                     `json:"rule_set,omitempty"`
	Hash      string                     `json:"hash,omitempty"`
	Rules     int                        `json:"rules"`
	Constants int                        `json:"constants"`
	Functions int                        `json:"functions"`
	Warnings  []compiler.CycleWarning    `json:"warnings,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate a rule set without running it",
		Long: `Compile a CUE rule set and check it without touching any facts.

Reports CUE errors, malformed expressions, undeclared names, unknown
builtins and message placeholders, and constant cycles. Recursive
functions are reported as warnings.

Exit codes:
  0 - Rule set is valid (warnings allowed)
  1 - Rule set has errors
  2 - Command error (directory not found, no CUE files, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadRules(rulesDir, engine.NewRegistry())
	if loadResult == nil {
		// A directory problem is a command error; a rule set that does
		// not compile is a validation failure.
		var loadErr *LoadError
		if len(loadErrors) == 1 && errors.As(loadErrors[0], &loadErr) && isCommandErrorCode(loadErr.Code) {
			return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidationErrors(formatter, &ValidationResult{}, loadErrors)
	}

	rs := loadResult.RuleSet
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)
	for _, r := range rs.Rules {
		formatter.VerboseLog("Validated rule: %s", r.Name)
	}

	result := &ValidationResult{
		Valid:     len(loadErrors) == 0,
		RuleSet:   rs.Name,
		Hash:      rs.Hash,
		Rules:     len(rs.Rules),
		Constants: len(rs.Constants),
		Functions: len(rs.Functions),
		Warnings:  loadResult.Warnings,
	}
	if len(loadErrors) > 0 {
		return outputValidationErrors(formatter, result, loadErrors)
	}
	return outputValidateSuccess(formatter, result)
}

// isCommandErrorCode reports whether code means the rules could not be
// read at all.
func isCommandErrorCode(code string) bool {
	switch code {
	case ErrCodeNotFound, ErrCodeScanError, ErrCodeNoFiles:
		return true
	}
	return false
}

// toValidationErrors converts load errors for output.
func toValidationErrors(errs []error) []compiler.ValidationError {
	out := make([]compiler.ValidationError, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			loadErr = convertError(err)
		}
		field := loadErr.Field
		if field == "" {
			field = "load"
		}
		out = append(out, compiler.ValidationError{
			Field:   field,
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    loadErr.line(),
		})
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result *ValidationResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Rule set %s valid: %d rule(s), %d constant(s), %d function(s)\n",
		result.RuleSet, result.Rules, result.Constants, result.Functions)
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn.Message)
	}
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result *ValidationResult, errs []error) error {
	result.Valid = false
	result.Errors = toValidationErrors(errs)
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.IsJSON() {
		first := result.Errors[0]
		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return failure
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, err := range result.Errors {
		if err.Line > 0 {
			fmt.Fprintf(w, "line %d\n", err.Line)
		}
		fmt.Fprintf(w, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return failure
}
