package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueSetNoneGroupLast(t *testing.T) {
	e1 := NewAlignment(AspectPair{Key: PeriodKey, Value: "2020-12-31"})
	e2 := NewAlignment(AspectPair{Key: PeriodKey, Value: "2019-12-31"})

	s := NewValueSet()
	s.Append(Int(0))
	s.Append(Int(1).WithAlignment(e1))
	s.Append(Int(2).WithAlignment(e2))
	s.Append(Int(3).WithAlignment(e1))

	groups := s.Groups()
	assert.Len(t, groups, 3)
	assert.True(t, groups[0].Alignment.Equal(e1))
	assert.True(t, groups[1].Alignment.Equal(e2))
	assert.True(t, groups[2].Alignment.IsNone())
	assert.Equal(t, []Value{Int(1).WithAlignment(e1), Int(3).WithAlignment(e1)}, s.Values(e1))
	assert.Equal(t, 4, s.Len())
	assert.Len(t, s.Concrete(), 2)
}

func TestValueSetTouchCreatesEmptyGroup(t *testing.T) {
	s := NewValueSet()
	assert.False(t, s.HasNone())
	s.Touch(NoAlignment)
	assert.True(t, s.HasNone())
	assert.True(t, s.IsEmpty())
}

func TestNilValueSet(t *testing.T) {
	var s *ValueSet
	assert.Nil(t, s.Values(NoAlignment))
	assert.False(t, s.HasNone())
	assert.Zero(t, s.Len())
}

func TestFactSetOperations(t *testing.T) {
	a := NewFactSet(5, 1, 3, 3)
	b := NewFactSet(3, 4, 5)

	assert.Equal(t, FactSet{1, 3, 5}, a)
	assert.Equal(t, FactSet{3, 5}, a.Intersect(b))
	assert.Equal(t, FactSet{1, 3, 4, 5}, a.Union(b))
	assert.Equal(t, FactSet{1}, a.Difference(b))
	assert.True(t, a.Contains(3))
	assert.False(t, a.Contains(4))
}
