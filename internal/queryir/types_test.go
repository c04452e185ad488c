package queryir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_Construction(t *testing.T) {
	sel := Select{
		From:   "fact_aspects",
		Fields: []string{"fact_id"},
		Filter: And{Predicates: []Predicate{
			Equals{Field: "aspect", Value: String("concept")},
			Equals{Field: "value", Value: String("Assets")},
		}},
		OrderBy: "fact_id",
	}

	assert.Equal(t, "fact_aspects", sel.From)
	assert.Equal(t, []string{"fact_id"}, sel.Fields)
	and, ok := sel.Filter.(And)
	require.True(t, ok)
	assert.Len(t, and.Predicates, 2)
}

func TestQuery_SealedInterface(t *testing.T) {
	queries := []Query{Select{}, &Select{}}
	for _, q := range queries {
		switch q.(type) {
		case Select, *Select:
		default:
			t.Fatalf("unexpected query type %T", q)
		}
	}
}

func TestPredicate_SealedInterface(t *testing.T) {
	preds := []Predicate{
		Equals{}, &Equals{},
		In{}, &In{},
		NotIn{}, &NotIn{},
		And{}, &And{},
	}
	for _, p := range preds {
		switch p.(type) {
		case Equals, *Equals, In, *In, NotIn, *NotIn, And, *And:
		default:
			t.Fatalf("unexpected predicate type %T", p)
		}
	}
}

func TestLiteral_Kinds(t *testing.T) {
	tests := []struct {
		name string
		lit  Literal
	}{
		{"string", String("Assets")},
		{"int", Int(42)},
		{"bool", Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq := Equals{Field: "f", Value: tt.lit}
			assert.Equal(t, tt.lit, eq.Value)
		})
	}
}

func TestSelect_JSONMarshaling(t *testing.T) {
	sel := Select{From: "facts", Fields: []string{"id"}, OrderBy: "id"}
	data, err := json.Marshal(sel)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"facts","fields":["id"],"order_by":"id"}`, string(data))
}
