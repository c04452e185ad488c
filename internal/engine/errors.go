package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/factrule/internal/ir"
)

// ProcessingError aborts the evaluation of one rule or constant.
//
// Processing errors include:
//   - Bad arguments: an operator or function got values it cannot use
//   - Undeclared names: a function, property or aggregator is unknown
//   - Table misuse: duplicate columns, unknown or escaped tables
//   - Realign loops: a factset discovered its alignment twice
//   - Iteration limit: a rule iterated past the configured maximum
//   - Constant cycles: constants that reference each other
//
// ProcessingError includes structured fields for diagnostics.
type ProcessingError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Rule names the rule or constant being evaluated.
	Rule string

	// Node identifies the expression that failed, when known.
	Node ir.NodeID

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes processing errors.
type ErrorCode string

const (
	// ErrCodeBadArgument indicates an operand or argument of the wrong kind.
	ErrCodeBadArgument ErrorCode = "BAD_ARGUMENT"

	// ErrCodeUndeclared indicates an unknown function, property or aggregator.
	ErrCodeUndeclared ErrorCode = "UNDECLARED"

	// ErrCodeColumnExists indicates a node was mounted twice in one table.
	ErrCodeColumnExists ErrorCode = "COLUMN_EXISTS"

	// ErrCodeUnknownTable indicates a table handle or scope is not active.
	ErrCodeUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// ErrCodeRealignLoop indicates a second realign for one factset evaluation.
	ErrCodeRealignLoop ErrorCode = "REALIGN_LOOP"

	// ErrCodeRealignEscaped indicates a realign reached the rule runner.
	ErrCodeRealignEscaped ErrorCode = "REALIGN_ESCAPED"

	// ErrCodeIterationLimit indicates a table iterated past the limit.
	ErrCodeIterationLimit ErrorCode = "ITERATION_LIMIT"

	// ErrCodeConstantCycle indicates constants that depend on each other.
	ErrCodeConstantCycle ErrorCode = "CONSTANT_CYCLE"

	// ErrCodeTypeMismatch indicates a value of the wrong kind where a
	// specific kind is required (conditions, assertions, where clauses).
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeInternal indicates a broken invariant or a recovered panic.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Rule != "" && e.Node != 0 {
		return fmt.Sprintf("%s: %s (rule=%s, node=%d)", e.Code, e.Message, e.Rule, e.Node)
	}
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.Rule)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, node ir.NodeID, format string, args ...any) *ProcessingError {
	return &ProcessingError{Code: code, Node: node, Message: fmt.Sprintf(format, args...)}
}

// withRule stamps the rule name on a processing error, wrapping any other
// error as INTERNAL.
func withRule(err error, rule string) *ProcessingError {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		if pe.Rule == "" {
			pe.Rule = rule
		}
		return pe
	}
	return &ProcessingError{Code: ErrCodeInternal, Message: err.Error(), Rule: rule}
}

// IsProcessingError returns true if err carries a ProcessingError.
// Uses errors.As to handle wrapped errors.
func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}

// ErrorCodeOf returns the code of a ProcessingError, or "" for other errors.
func ErrorCodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRealignLoop returns true if the error is a realign loop.
func IsRealignLoop(err error) bool {
	return ErrorCodeOf(err) == ErrCodeRealignLoop
}

// IsConstantCycle returns true if the error is a constant dependency cycle.
func IsConstantCycle(err error) bool {
	return ErrorCodeOf(err) == ErrCodeConstantCycle
}

// IsIterationLimit returns true if the error is an exceeded iteration limit.
func IsIterationLimit(err error) bool {
	return ErrorCodeOf(err) == ErrCodeIterationLimit
}
