package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingUnit() Select {
	return Select{
		From:   "facts",
		Fields: []string{"id"},
		Filter: NotIn{Field: "id", Query: Select{
			From:   "fact_aspects",
			Fields: []string{"fact_id"},
			Filter: Equals{Field: "aspect", Value: String("unit")},
		}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		warnings []string
	}{
		{
			name:  "lookup",
			query: Select{From: "fact_aspects", Fields: []string{"fact_id"}, Filter: Equals{Field: "aspect", Value: String("period")}},
		},
		{
			name:  "pointer variants",
			query: &Select{From: "facts", Fields: []string{"id"}, Filter: &And{Predicates: []Predicate{&Equals{Field: "id", Value: Int(1)}}}},
		},
		{
			name:  "missing",
			query: missingUnit(),
		},
		{
			name:     "nil query",
			query:    nil,
			warnings: []string{"nil query"},
		},
		{
			name:     "select star",
			query:    Select{From: "facts"},
			warnings: []string{"SELECT *"},
		},
		{
			name:     "no source",
			query:    Select{Fields: []string{"id"}},
			warnings: []string{"without a source table"},
		},
		{
			name: "wide subquery",
			query: Select{From: "facts", Fields: []string{"id"}, Filter: In{Field: "id",
				Query: Select{From: "fact_aspects", Fields: []string{"fact_id", "value"}}}},
			warnings: []string{"selects 2 fields"},
		},
		{
			name: "nil literal in and",
			query: Select{From: "facts", Fields: []string{"id"}, Filter: And{Predicates: []Predicate{
				Equals{Field: "concept", Value: String("Assets")},
				Equals{Field: "unit"},
			}}},
			warnings: []string{"field 'unit' compared to nothing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.query)
			assert.Equal(t, len(tt.warnings) == 0, result.Valid)
			require.Len(t, result.Warnings, len(tt.warnings))
			for i, w := range tt.warnings {
				assert.Contains(t, result.Warnings[i], w)
			}
		})
	}
}
