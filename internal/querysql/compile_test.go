package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factrule/internal/queryir"
)

func aspectLookup(aspect, value string) queryir.Select {
	return queryir.Select{
		From:   "fact_aspects",
		Fields: []string{"fact_id"},
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "aspect", Value: queryir.String(aspect)},
			queryir.Equals{Field: "value", Value: queryir.String(value)},
		}},
		OrderBy: "fact_id",
	}
}

func TestCompile_GoldenSQL(t *testing.T) {
	compiler := NewSQLCompiler()

	testCases := []struct {
		name       string
		query      queryir.Query
		wantSQL    string
		wantParams []any
	}{
		{
			name:       "all facts",
			query:      queryir.Select{From: "facts", Fields: []string{"id"}},
			wantSQL:    "SELECT id FROM facts ORDER BY id ASC COLLATE BINARY",
			wantParams: nil,
		},
		{
			name:       "aspect lookup",
			query:      aspectLookup("concept", "Assets"),
			wantSQL:    "SELECT fact_id FROM fact_aspects WHERE aspect = ? AND value = ? ORDER BY fact_id ASC COLLATE BINARY",
			wantParams: []any{"concept", "Assets"},
		},
		{
			name: "missing aspect",
			query: &queryir.Select{
				From:   "facts",
				Fields: []string{"id"},
				Filter: &queryir.NotIn{Field: "id", Query: queryir.Select{
					From:   "fact_aspects",
					Fields: []string{"fact_id"},
					Filter: queryir.Equals{Field: "aspect", Value: queryir.String("unit")},
				}},
			},
			wantSQL:    "SELECT id FROM facts WHERE id NOT IN (SELECT fact_id FROM fact_aspects WHERE aspect = ?) ORDER BY id ASC COLLATE BINARY",
			wantParams: []any{"unit"},
		},
		{
			name: "fact by id",
			query: queryir.Select{
				From:   "facts",
				Fields: []string{"id", "concept", "is_nil"},
				Filter: queryir.And{Predicates: []queryir.Predicate{
					queryir.Equals{Field: "id", Value: queryir.Int(7)},
					queryir.Equals{Field: "is_nil", Value: queryir.Bool(false)},
				}},
			},
			wantSQL:    "SELECT id, concept, is_nil FROM facts WHERE id = ? AND is_nil = ? ORDER BY id ASC COLLATE BINARY",
			wantParams: []any{int64(7), false},
		},
		{
			name: "membership",
			query: queryir.Select{
				From:   "facts",
				Fields: []string{"id"},
				Filter: queryir.In{Field: "id", Query: aspectLookup("period", "2020-12-31")},
			},
			wantSQL:    "SELECT id FROM facts WHERE id IN (SELECT fact_id FROM fact_aspects WHERE aspect = ? AND value = ?) ORDER BY id ASC COLLATE BINARY",
			wantParams: []any{"period", "2020-12-31"},
		},
		{
			name:       "empty and",
			query:      queryir.Select{From: "facts", Fields: []string{"id"}, Filter: queryir.And{}},
			wantSQL:    "SELECT id FROM facts WHERE 1 = 1 ORDER BY id ASC COLLATE BINARY",
			wantParams: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql, params, err := compiler.Compile(tc.query)
			require.NoError(t, err)

			assert.Equal(t, tc.wantSQL, sql, "SQL mismatch")
			assert.Equal(t, tc.wantParams, params, "Parameters mismatch")
		})
	}
}

func TestCompile_NoStringInterpolation(t *testing.T) {
	malicious := "'; DROP TABLE facts; --"
	sql, params, err := NewSQLCompiler().Compile(aspectLookup("concept", malicious))
	require.NoError(t, err)

	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"concept", malicious}, params)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query queryir.Query
		want  string
	}{
		{"nil query", nil, "nil query"},
		{"nil pointer", (*queryir.Select)(nil), "nil query"},
		{"select star", queryir.Select{From: "facts"}, "explicit fields required"},
		{"bad table", queryir.Select{From: "facts; --", Fields: []string{"id"}}, "invalid identifier"},
		{"bad field", queryir.Select{From: "facts", Fields: []string{"id, value"}}, "invalid identifier"},
		{"bad order", queryir.Select{From: "facts", Fields: []string{"id"}, OrderBy: "id DESC"}, "invalid identifier"},
		{
			"missing literal",
			queryir.Select{From: "facts", Fields: []string{"id"}, Filter: queryir.Equals{Field: "id"}},
			"missing literal",
		},
		{
			"wide subquery",
			queryir.Select{From: "facts", Fields: []string{"id"}, Filter: queryir.In{Field: "id",
				Query: queryir.Select{From: "fact_aspects", Fields: []string{"fact_id", "value"}}}},
			"must select one field",
		},
		{
			"nil subquery",
			queryir.Select{From: "facts", Fields: []string{"id"}, Filter: queryir.NotIn{Field: "id"}},
			"nil subquery",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewSQLCompiler().Compile(tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLiteralToParam(t *testing.T) {
	tests := []struct {
		lit  queryir.Literal
		want any
	}{
		{queryir.String("USD"), "USD"},
		{queryir.Int(-3), int64(-3)},
		{queryir.Bool(true), true},
	}
	for _, tt := range tests {
		got, err := literalToParam(tt.lit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
