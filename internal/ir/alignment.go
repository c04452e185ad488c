package ir

import (
	"slices"
	"strconv"
	"strings"
)

// AspectPair is one coordinate of an alignment.
type AspectPair struct {
	Key   AspectKey
	Value string
}

// Alignment is an immutable set of aspect coordinates. The zero value is the
// none alignment: the value is not tied to any coordinates.
type Alignment struct {
	pairs []AspectPair
	key   string
}

// NoAlignment is the none alignment.
var NoAlignment = Alignment{}

// NewAlignment builds an alignment from pairs. When a key repeats the last
// pair wins.
func NewAlignment(pairs ...AspectPair) Alignment {
	if len(pairs) == 0 {
		return Alignment{}
	}
	byKey := make(map[AspectKey]string, len(pairs))
	for _, p := range pairs {
		byKey[p.Key] = p.Value
	}
	sorted := make([]AspectPair, 0, len(byKey))
	for k, v := range byKey {
		sorted = append(sorted, AspectPair{Key: k, Value: v})
	}
	slices.SortFunc(sorted, func(a, b AspectPair) int { return a.Key.Compare(b.Key) })
	return Alignment{pairs: sorted, key: alignmentKey(sorted)}
}

func alignmentKey(pairs []AspectPair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key.String())
		b.WriteByte('=')
		b.WriteString(strconv.Quote(p.Value))
	}
	return b.String()
}

// IsNone reports whether this is the none alignment.
func (a Alignment) IsNone() bool {
	return len(a.pairs) == 0
}

// Key is a canonical string, equal for equal alignments. The none alignment
// has the empty key.
func (a Alignment) Key() string {
	return a.key
}

// Equal is set equality.
func (a Alignment) Equal(o Alignment) bool {
	return a.key == o.key
}

// Len returns the number of coordinates.
func (a Alignment) Len() int {
	return len(a.pairs)
}

// Pairs returns a copy of the sorted coordinates.
func (a Alignment) Pairs() []AspectPair {
	return slices.Clone(a.pairs)
}

// Get returns the value for one aspect key.
func (a Alignment) Get(key AspectKey) (string, bool) {
	for _, p := range a.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Without returns the alignment minus the given keys.
func (a Alignment) Without(keys ...AspectKey) Alignment {
	if len(keys) == 0 || a.IsNone() {
		return a
	}
	kept := make([]AspectPair, 0, len(a.pairs))
	for _, p := range a.pairs {
		if !slices.Contains(keys, p.Key) {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(a.pairs) {
		return a
	}
	if len(kept) == 0 {
		return Alignment{}
	}
	return Alignment{pairs: kept, key: alignmentKey(kept)}
}

// Only returns the alignment restricted to the given keys.
func (a Alignment) Only(keys ...AspectKey) Alignment {
	kept := make([]AspectPair, 0, len(keys))
	for _, p := range a.pairs {
		if slices.Contains(keys, p.Key) {
			kept = append(kept, p)
		}
	}
	return NewAlignment(kept...)
}

// String renders "concept=Assets, period=2020-12-31" for messages.
func (a Alignment) String() string {
	if a.IsNone() {
		return "none"
	}
	parts := make([]string, len(a.pairs))
	for i, p := range a.pairs {
		parts[i] = p.Key.String() + "=" + p.Value
	}
	return strings.Join(parts, ", ")
}

// Map returns the coordinates keyed by aspect key string, for serialisation.
func (a Alignment) Map() map[string]string {
	m := make(map[string]string, len(a.pairs))
	for _, p := range a.pairs {
		m[p.Key.String()] = p.Value
	}
	return m
}
