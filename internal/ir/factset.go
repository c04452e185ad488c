package ir

import "slices"

// FactSet is a sorted set of fact ids, the posting-list currency of fact
// indexes.
type FactSet []FactID

// NewFactSet sorts and de-duplicates ids.
func NewFactSet(ids ...FactID) FactSet {
	s := slices.Clone(ids)
	slices.Sort(s)
	return FactSet(slices.Compact(s))
}

func (s FactSet) Len() int { return len(s) }

func (s FactSet) Contains(id FactID) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// Intersect keeps ids present in both sets.
func (s FactSet) Intersect(o FactSet) FactSet {
	out := make(FactSet, 0, min(len(s), len(o)))
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		switch {
		case s[i] == o[j]:
			out = append(out, s[i])
			i++
			j++
		case s[i] < o[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// Union merges both sets.
func (s FactSet) Union(o FactSet) FactSet {
	out := make(FactSet, 0, len(s)+len(o))
	i, j := 0, 0
	for i < len(s) || j < len(o) {
		switch {
		case j >= len(o) || (i < len(s) && s[i] < o[j]):
			out = append(out, s[i])
			i++
		case i >= len(s) || o[j] < s[i]:
			out = append(out, o[j])
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	return out
}

// Difference keeps ids of s absent from o.
func (s FactSet) Difference(o FactSet) FactSet {
	out := make(FactSet, 0, len(s))
	for _, id := range s {
		if !o.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
