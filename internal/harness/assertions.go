package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/factrule/internal/ir"
	"github.com/roach88/factrule/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Trace    []ResultEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Seq, ev.Rule, ev.Severity, ev.Value)
			if len(ev.Alignment) > 0 {
				fmt.Fprintf(&buf, " %s", formatAlignment(ev.Alignment))
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// assertResultContains checks that the rule emitted a result matching every
// field the assertion sets. The alignment matches as a subset.
func assertResultContains(trace []ResultEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Rule != a.Rule || ev.Error != "" {
			continue
		}
		if a.Value != nil && ev.Value != *a.Value {
			continue
		}
		if a.Severity != "" && ev.Severity != a.Severity {
			continue
		}
		if matchAlignment(ev.Alignment, a.Alignment) {
			return nil
		}
	}

	var want []string
	if a.Value != nil {
		want = append(want, "value "+*a.Value)
	}
	if a.Severity != "" {
		want = append(want, "severity "+a.Severity)
	}
	if len(a.Alignment) > 0 {
		want = append(want, "alignment "+formatAlignment(a.Alignment))
	}
	return &AssertionError{
		Type:     AssertResultContains,
		Expected: fmt.Sprintf("rule %s with %s", a.Rule, strings.Join(want, ", ")),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertResultCount checks the number of results a rule emitted.
// Processing-error messages are not results.
func assertResultCount(trace []ResultEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Rule == a.Rule && ev.Error == "" {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertResultCount,
			Expected: fmt.Sprintf("%d results of %s", a.Count, a.Rule),
			Actual:   fmt.Sprintf("%d results", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertResultOrder checks that the rules first appear in the given order.
// Other messages may appear in between.
func assertResultOrder(trace []ResultEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Rule]; !seen {
			positions[ev.Rule] = i + 1
		}
	}

	for _, rule := range a.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertResultOrder,
				Expected: fmt.Sprintf("all rules present: %v", a.Rules),
				Actual:   fmt.Sprintf("missing rule: %s", rule),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Rules); i++ {
		prev, curr := a.Rules[i-1], a.Rules[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertResultOrder,
				Expected: fmt.Sprintf("rules in order: %v", a.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertProcessingError checks that the rule (or constant) failed, and that
// the error text contains the expected substring when one is given.
func assertProcessingError(trace []ResultEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Rule != a.Rule || ev.Severity != string(ir.SeverityProcessingError) {
			continue
		}
		if strings.Contains(ev.Error, a.Contains) {
			return nil
		}
		return &AssertionError{
			Type:     AssertProcessingError,
			Expected: fmt.Sprintf("error of %s containing %q", a.Rule, a.Contains),
			Actual:   ev.Error,
			Trace:    trace,
		}
	}
	return &AssertionError{
		Type:     AssertProcessingError,
		Expected: fmt.Sprintf("processing error of %s", a.Rule),
		Actual:   "rule did not fail",
		Trace:    trace,
	}
}

// assertRunStatus checks the status the run was stored with.
func assertRunStatus(ctx context.Context, st *store.Store, runID string, a Assertion) error {
	state, err := st.GetRunState(ctx, runID)
	if err != nil {
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: fmt.Sprintf("run %s with status %s", runID, a.Status),
			Actual:   err.Error(),
		}
	}
	if string(state.Run.Status) != a.Status {
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: fmt.Sprintf("status %s", a.Status),
			Actual:   fmt.Sprintf("status %s", state.Run.Status),
		}
	}
	return nil
}

// assertFinalState checks if a store table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if a.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	// Identifiers can't be parameterized
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// More than one match would make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := sortedKeys(a.Expect)
	for _, key := range keys {
		expectedValue := a.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs parameterized WHERE clause from a where map.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML scalar to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool, float64:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from store tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	// SQLite returns TEXT columns as string or []byte
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// matchAlignment checks that actual holds every expected aspect value
// (subset match). Extra aspects in actual are ignored.
func matchAlignment(actual, expected map[string]string) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func formatAlignment(a map[string]string) string {
	keys := sortedKeys(a)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + a[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	RunID string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for run_status and
// final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertResultContains:
			err = assertResultContains(result.Trace, a)
		case AssertResultCount:
			err = assertResultCount(result.Trace, a)
		case AssertResultOrder:
			err = assertResultOrder(result.Trace, a)
		case AssertProcessingError:
			err = assertProcessingError(result.Trace, a)
		case AssertRunStatus, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, a.Type)
			} else if a.Type == AssertRunStatus {
				err = assertRunStatus(actx.Ctx, actx.Store, actx.RunID, a)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
