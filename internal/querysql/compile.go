package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/factrule/internal/queryir"
)

// identifier matches the table and column names the compiler will splice
// into SQL. Everything else is a parameter.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// Every top-level query gets an ORDER BY for deterministic results, and
// every value is a parameter, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	sel, err := asSelect(q)
	if err != nil {
		return "", nil, err
	}
	return c.compileSelect(sel, true)
}

func asSelect(q queryir.Query) (queryir.Select, error) {
	switch query := q.(type) {
	case queryir.Select:
		return query, nil
	case *queryir.Select:
		if query == nil {
			return queryir.Select{}, fmt.Errorf("cannot compile nil query")
		}
		return *query, nil
	default:
		return queryir.Select{}, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select to SQL. Subqueries (top false)
// carry no ORDER BY: set membership does not depend on row order.
func (c *SQLCompiler) compileSelect(q queryir.Select, top bool) (string, []any, error) {
	if err := checkIdent(q.From); err != nil {
		return "", nil, fmt.Errorf("from: %w", err)
	}
	if len(q.Fields) == 0 {
		return "", nil, fmt.Errorf("select from %s: explicit fields required", q.From)
	}
	for _, f := range q.Fields {
		if err := checkIdent(f); err != nil {
			return "", nil, fmt.Errorf("field: %w", err)
		}
	}

	var whereClause string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		whereClause = " WHERE " + filterSQL
		params = filterParams
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s",
		strings.Join(q.Fields, ", "),
		q.From,
		whereClause)

	if top {
		key, err := stableOrderKey(q)
		if err != nil {
			return "", nil, err
		}
		// Always ordered
		sql += " ORDER BY " + key
	}
	return sql, params, nil
}

// stableOrderKey returns the ORDER BY clause for a query.
// Uses COLLATE BINARY for deterministic text ordering.
func stableOrderKey(q queryir.Select) (string, error) {
	key := q.OrderBy
	if key == "" {
		key = "id"
	}
	if err := checkIdent(key); err != nil {
		return "", fmt.Errorf("order by: %w", err)
	}
	return key + " ASC COLLATE BINARY", nil
}

// compilePredicate compiles a queryir.Predicate to a WHERE clause fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.In:
		return c.compileMembership("IN", pred.Field, pred.Query)
	case *queryir.In:
		return c.compileMembership("IN", pred.Field, pred.Query)
	case queryir.NotIn:
		return c.compileMembership("NOT IN", pred.Field, pred.Query)
	case *queryir.NotIn:
		return c.compileMembership("NOT IN", pred.Field, pred.Query)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	if err := checkIdent(eq.Field); err != nil {
		return "", nil, fmt.Errorf("equals: %w", err)
	}
	param, err := literalToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}
	return eq.Field + " = ?", []any{param}, nil
}

func (c *SQLCompiler) compileMembership(op, field string, q queryir.Query) (string, []any, error) {
	if err := checkIdent(field); err != nil {
		return "", nil, fmt.Errorf("%s: %w", strings.ToLower(op), err)
	}
	if q == nil {
		return "", nil, fmt.Errorf("%s: nil subquery", strings.ToLower(op))
	}
	sub, err := asSelect(q)
	if err != nil {
		return "", nil, err
	}
	if len(sub.Fields) != 1 {
		return "", nil, fmt.Errorf("%s: subquery on %s must select one field, got %d", strings.ToLower(op), sub.From, len(sub.Fields))
	}
	subSQL, params, err := c.compileSelect(sub, false)
	if err != nil {
		return "", nil, fmt.Errorf("compile subquery: %w", err)
	}
	return fmt.Sprintf("%s %s (%s)", field, op, subSQL), params, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // vacuous truth
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return strings.Join(sqlParts, " AND "), allParams, nil
}

func checkIdent(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// literalToParam converts a queryir.Literal to a Go native SQL parameter.
func literalToParam(v queryir.Literal) (any, error) {
	switch val := v.(type) {
	case queryir.String:
		return string(val), nil
	case queryir.Int:
		return int64(val), nil
	case queryir.Bool:
		return bool(val), nil
	case nil:
		return nil, fmt.Errorf("missing literal")
	default:
		return nil, fmt.Errorf("unsupported literal type: %T", v)
	}
}
