package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignmentSetEquality(t *testing.T) {
	a := NewAlignment(
		AspectPair{Key: PeriodKey, Value: "2020-12-31"},
		AspectPair{Key: UnitKey, Value: "USD"},
	)
	b := NewAlignment(
		AspectPair{Key: UnitKey, Value: "USD"},
		AspectPair{Key: PeriodKey, Value: "2020-12-31"},
	)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.IsNone())
	assert.True(t, NoAlignment.IsNone())
	assert.True(t, NewAlignment().IsNone())
}

func TestAlignmentWithoutAndOnly(t *testing.T) {
	a := NewAlignment(
		AspectPair{Key: ConceptKey, Value: "Assets"},
		AspectPair{Key: PeriodKey, Value: "2020-12-31"},
		AspectPair{Key: DimensionKey("Segment"), Value: "East"},
	)

	w := a.Without(ConceptKey)
	assert.Equal(t, 2, w.Len())
	_, ok := w.Get(ConceptKey)
	assert.False(t, ok)
	assert.True(t, a.Without(ConceptKey, PeriodKey, DimensionKey("Segment")).IsNone())

	o := a.Only(PeriodKey)
	v, ok := o.Get(PeriodKey)
	require.True(t, ok)
	assert.Equal(t, "2020-12-31", v)
	assert.Equal(t, "period=2020-12-31", o.String())
}

func TestAlignmentLastPairWins(t *testing.T) {
	a := NewAlignment(
		AspectPair{Key: PeriodKey, Value: "2019-12-31"},
		AspectPair{Key: PeriodKey, Value: "2020-12-31"},
	)
	v, _ := a.Get(PeriodKey)
	assert.Equal(t, "2020-12-31", v)
}

func TestFactAspects(t *testing.T) {
	f := &Fact{
		ID:      1,
		Concept: QName{Local: "Assets"},
		Entity:  Entity{Scheme: "http://www.sec.gov/CIK", ID: "0001"},
		Period:  InstantPeriod(time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)),
		Unit:    ParseUnit("USD"),
		Dims:    map[string]string{"Segment": "East"},
	}

	keys := make([]string, 0)
	for _, p := range f.Aspects() {
		keys = append(keys, p.Key.String())
	}
	assert.Equal(t, []string{"concept", "entity", "period", "unit", "dim:Segment"}, keys)

	v, ok := f.Aspect(DimensionKey("Segment"))
	assert.True(t, ok)
	assert.Equal(t, "East", v)
	_, ok = (&Fact{}).Aspect(UnitKey)
	assert.False(t, ok, "non-numeric facts have no unit aspect")
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2020-12-31", want: "2020-12-31"},
		{in: "2020-01-01/2020-12-31", want: "2020-01-01/2020-12-31"},
		{in: "forever", want: "forever"},
		{in: "2020-12-31/2020-01-01", wantErr: true},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePeriod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestParseAspectKey(t *testing.T) {
	for _, k := range []AspectKey{ConceptKey, EntityKey, PeriodKey, UnitKey, DimensionKey("us-gaap:SegmentAxis")} {
		got, err := ParseAspectKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseAspectKey("colour")
	assert.Error(t, err)
}

func TestParseUnitAndQName(t *testing.T) {
	u := ParseUnit("USD/shares")
	assert.Equal(t, "USD/shares", u.String())
	assert.Equal(t, QName{Namespace: "http://fasb.org/us-gaap", Local: "Assets"}, ParseQName("{http://fasb.org/us-gaap}Assets"))
	assert.Equal(t, "us-gaap:Assets", ParseQName("us-gaap:Assets").String())
}
