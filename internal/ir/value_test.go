package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) Value {
	t.Helper()
	v, err := DecimalFromString(s)
	require.NoError(t, err)
	return v
}

func TestValueKeyIgnoresMetadata(t *testing.T) {
	align := NewAlignment(AspectPair{Key: PeriodKey, Value: "2020-12-31"})
	a := Int(5).WithAlignment(align)
	b := a.Clone()
	b.Tags = map[string]Value{"t": String("x")}
	b.Facts = []FactID{1, 2}
	b.AlignedResultOnly = true

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Int(5)), "alignment is part of identity")
	assert.False(t, a.Equal(mustDecimal(t, "5").WithAlignment(align)), "kind is part of identity")
}

func TestDecimalKeyNormalisesTrailingZeros(t *testing.T) {
	assert.Equal(t, mustDecimal(t, "1.50").Key(), mustDecimal(t, "1.5").Key())
	assert.Equal(t, "1.50", mustDecimal(t, "1.50").Format())
}

func TestCloneDeepCopiesMetadata(t *testing.T) {
	v := String("a")
	v.Tags = map[string]Value{"k": Int(1)}
	v.Facts = []FactID{3}

	c := v.Clone()
	c.Tags["k"] = Int(2)
	c.Facts[0] = 9

	assert.Equal(t, Int(1), v.Tags["k"])
	assert.Equal(t, []FactID{3}, v.Facts)
}

func TestSetDeduplicatesAndIgnoresOrder(t *testing.T) {
	s1 := Set(Int(1), Int(2), Int(1))
	s2 := Set(Int(2), Int(1))

	assert.Len(t, s1.Items(), 2)
	assert.True(t, s1.Equal(s2))
	assert.False(t, List(Int(1), Int(2)).Equal(List(Int(2), Int(1))))
}

func TestDictLastKeyWins(t *testing.T) {
	d := Dict(
		DictEntry{Key: String("a"), Value: Int(1)},
		DictEntry{Key: String("b"), Value: Int(2)},
		DictEntry{Key: String("a"), Value: Int(3)},
	)

	require.Len(t, d.Entries(), 2)
	assert.Equal(t, Int(3), d.Entries()[0].Value)
	assert.Equal(t, "dictionary(a=3, b=2)", d.Format())
}

func TestFormat(t *testing.T) {
	day := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)
	model := Duration(DurationPeriod(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)))
	model.FromModel = true

	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{"unbound", Unbound(), "unbound"},
		{"none", None(), "none"},
		{"bool", Bool(true), "true"},
		{"int", Int(-3), "-3"},
		{"string", String("x"), "x"},
		{"instant", Instant(day), "2020-12-31"},
		{"model duration", model, "2020-01-01/2020-12-31"},
		{"list", List(Int(1), String("a")), "list(1, a)"},
		{"named", Named(KindSeverity, "error"), "error"},
		{"fact", FactValue(&Fact{ID: 1, Value: "100"}), "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.value.Format())
		})
	}
}

func TestResolveFact(t *testing.T) {
	align := NewAlignment(AspectPair{Key: PeriodKey, Value: "2020-12-31"})
	f := &Fact{ID: 7, Concept: QName{Local: "Assets"}, Unit: ParseUnit("USD"), Value: "100.0"}
	v := FactValue(f).WithAlignment(align)

	r, err := v.Resolve()
	require.NoError(t, err)
	assert.Equal(t, KindDecimal, r.Kind)
	assert.Equal(t, []FactID{7}, r.Facts)
	assert.True(t, r.Alignment.Equal(align))

	nilFact := FactValue(&Fact{ID: 8, Unit: ParseUnit("USD"), Nil: true})
	r, err = nilFact.Resolve()
	require.NoError(t, err)
	assert.True(t, r.IsNone())

	bad := FactValue(&Fact{ID: 9, Unit: ParseUnit("USD"), Value: "abc"})
	_, err = bad.Resolve()
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		expected int
	}{
		{"ints", Int(1), Int(2), -1},
		{"int vs decimal", Int(2), mustDecimal(t, "1.5"), 1},
		{"decimal equal", mustDecimal(t, "1.0"), Int(1), 0},
		{"float", Float(0.5), Int(1), -1},
		{"strings", String("b"), String("a"), 1},
		{"bools", Bool(false), Bool(true), -1},
		{"fact", FactValue(&Fact{Unit: ParseUnit("USD"), Value: "40"}), Int(40), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := Compare(String("a"), Int(1))
	assert.Error(t, err)
	_, err = Compare(List(), List())
	assert.Error(t, err)
}

func TestMergeFacts(t *testing.T) {
	assert.Equal(t, []FactID{3, 1, 2}, MergeFacts([]FactID{3, 1}, []FactID{1, 2}))
	assert.Equal(t, []FactID{3}, MergeFacts([]FactID{3}, nil))
}
