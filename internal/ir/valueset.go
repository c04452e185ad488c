package ir

// Group is the values of a ValueSet under one alignment.
type Group struct {
	Alignment Alignment
	Values    []Value
}

// ValueSet groups values by alignment. Concrete groups keep insertion
// order; the none group always iterates last.
type ValueSet struct {
	order  []string
	groups map[string]*Group
	none   *Group
}

// NewValueSet returns an empty set.
func NewValueSet() *ValueSet {
	return &ValueSet{groups: make(map[string]*Group)}
}

// SetOf groups vals by their own alignment.
func SetOf(vals ...Value) *ValueSet {
	s := NewValueSet()
	for _, v := range vals {
		s.Append(v)
	}
	return s
}

// Append adds v under v.Alignment.
func (s *ValueSet) Append(v Value) {
	s.AppendAligned(v.Alignment, v)
}

// AppendAligned adds v under a, whatever v's own alignment is.
func (s *ValueSet) AppendAligned(a Alignment, v Value) {
	g := s.group(a)
	g.Values = append(g.Values, v)
}

// Touch makes sure a group exists for a, possibly empty.
func (s *ValueSet) Touch(a Alignment) {
	s.group(a)
}

func (s *ValueSet) group(a Alignment) *Group {
	if a.IsNone() {
		if s.none == nil {
			s.none = &Group{}
		}
		return s.none
	}
	if g, ok := s.groups[a.Key()]; ok {
		return g
	}
	g := &Group{Alignment: a}
	s.groups[a.Key()] = g
	s.order = append(s.order, a.Key())
	return g
}

// Values returns the values under a, nil when absent.
func (s *ValueSet) Values(a Alignment) []Value {
	if s == nil {
		return nil
	}
	if a.IsNone() {
		if s.none == nil {
			return nil
		}
		return s.none.Values
	}
	if g, ok := s.groups[a.Key()]; ok {
		return g.Values
	}
	return nil
}

// Has reports whether a group exists for a.
func (s *ValueSet) Has(a Alignment) bool {
	if s == nil {
		return false
	}
	if a.IsNone() {
		return s.none != nil
	}
	_, ok := s.groups[a.Key()]
	return ok
}

// HasNone reports whether the none group exists.
func (s *ValueSet) HasNone() bool {
	return s != nil && s.none != nil
}

// Concrete returns the concrete alignments in insertion order.
func (s *ValueSet) Concrete() []Alignment {
	if s == nil {
		return nil
	}
	out := make([]Alignment, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.groups[k].Alignment)
	}
	return out
}

// Groups returns every group, none last.
func (s *ValueSet) Groups() []Group {
	if s == nil {
		return nil
	}
	out := make([]Group, 0, len(s.order)+1)
	for _, k := range s.order {
		out = append(out, *s.groups[k])
	}
	if s.none != nil {
		out = append(out, *s.none)
	}
	return out
}

// All returns every value in group order.
func (s *ValueSet) All() []Value {
	var out []Value
	for _, g := range s.Groups() {
		out = append(out, g.Values...)
	}
	return out
}

// Len counts values across groups.
func (s *ValueSet) Len() int {
	n := 0
	for _, g := range s.Groups() {
		n += len(g.Values)
	}
	return n
}

// IsEmpty reports whether the set holds no values at all.
func (s *ValueSet) IsEmpty() bool {
	return s.Len() == 0
}
