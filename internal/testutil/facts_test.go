package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactDefaults(t *testing.T) {
	f := Fact(7, "Assets", "2020-12-31", "100")

	assert.Equal(t, "Assets", f.Concept.String())
	assert.Equal(t, "2020-12-31", f.Period.String())
	require.NotNil(t, f.Unit)
	assert.Equal(t, "USD", f.Unit.String())
	assert.Equal(t, "ACME", f.Entity.ID)
	assert.True(t, f.IsNumeric())
}

func TestFactOptions(t *testing.T) {
	f := Fact(1, "Revenue", "2020-01-01/2020-12-31", "", Dim("Segment", "Retail"), Unit(""), Entity("OTHER"), Nil())

	assert.Equal(t, "Retail", f.Dims["Segment"])
	assert.Nil(t, f.Unit)
	assert.Equal(t, "OTHER", f.Entity.ID)
	assert.True(t, f.Nil)
	assert.False(t, f.Period.Instant)
}

func TestFixedRunID(t *testing.T) {
	g := NewFixedRunID("")
	assert.Equal(t, "test-run", g.Generate())
	assert.Equal(t, "test-run", g.Generate())
	assert.Equal(t, "run-7", NewFixedRunID("run-7").Generate())
}
