package ir

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// FactID identifies a fact inside one fact index.
type FactID int64

// QName is a namespace-qualified name. Prefix form "us-gaap:Assets" is kept
// as-is in Local when no namespace is known.
type QName struct {
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Local     string `json:"local" yaml:"local"`
}

// ParseQName splits "{ns}local" (Clark notation) or returns a local-only name.
func ParseQName(s string) QName {
	if strings.HasPrefix(s, "{") {
		if i := strings.IndexByte(s, '}'); i > 0 {
			return QName{Namespace: s[1:i], Local: s[i+1:]}
		}
	}
	return QName{Local: s}
}

func (q QName) String() string {
	if q.Namespace == "" {
		return q.Local
	}
	return "{" + q.Namespace + "}" + q.Local
}

// DateLayout is the calendar date layout used for periods.
const DateLayout = "2006-01-02"

// Period is either an instant, a start/end duration, or forever.
type Period struct {
	Start   time.Time
	End     time.Time
	Instant bool
	Forever bool
}

// InstantPeriod returns an instant period at t.
func InstantPeriod(t time.Time) Period {
	return Period{End: t, Instant: true}
}

// DurationPeriod returns a period running from start to end.
func DurationPeriod(start, end time.Time) Period {
	return Period{Start: start, End: end}
}

// ParsePeriod accepts "forever", "YYYY-MM-DD" (instant) or
// "YYYY-MM-DD/YYYY-MM-DD" (duration).
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "forever" {
		return Period{Forever: true}, nil
	}
	if start, end, ok := strings.Cut(s, "/"); ok {
		st, err := time.Parse(DateLayout, start)
		if err != nil {
			return Period{}, fmt.Errorf("period start %q: %w", start, err)
		}
		en, err := time.Parse(DateLayout, end)
		if err != nil {
			return Period{}, fmt.Errorf("period end %q: %w", end, err)
		}
		if en.Before(st) {
			return Period{}, fmt.Errorf("period %q ends before it starts", s)
		}
		return DurationPeriod(st, en), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("period %q: %w", s, err)
	}
	return InstantPeriod(t), nil
}

func (p Period) String() string {
	switch {
	case p.Forever:
		return "forever"
	case p.Instant:
		return p.End.Format(DateLayout)
	default:
		return p.Start.Format(DateLayout) + "/" + p.End.Format(DateLayout)
	}
}

// Unit is a measure, optionally divided by other measures (USD/shares).
type Unit struct {
	Numerators   []QName
	Denominators []QName
}

// ParseUnit accepts "USD", "USD/shares" or "iso4217:USD*pure/shares".
func ParseUnit(s string) *Unit {
	num, den, _ := strings.Cut(s, "/")
	u := &Unit{}
	for _, part := range strings.Split(num, "*") {
		if part = strings.TrimSpace(part); part != "" {
			u.Numerators = append(u.Numerators, ParseQName(part))
		}
	}
	for _, part := range strings.Split(den, "*") {
		if part = strings.TrimSpace(part); part != "" {
			u.Denominators = append(u.Denominators, ParseQName(part))
		}
	}
	return u
}

func (u *Unit) String() string {
	if u == nil {
		return ""
	}
	join := func(qs []QName) string {
		parts := make([]string, len(qs))
		for i, q := range qs {
			parts[i] = q.String()
		}
		return strings.Join(parts, "*")
	}
	if len(u.Denominators) == 0 {
		return join(u.Numerators)
	}
	return join(u.Numerators) + "/" + join(u.Denominators)
}

// Entity is the reporting entity identifier.
type Entity struct {
	Scheme string
	ID     string
}

func (e Entity) String() string {
	if e.Scheme == "" {
		return e.ID
	}
	return e.Scheme + "|" + e.ID
}

// Fact is one reported value with its aspect coordinates.
type Fact struct {
	ID      FactID
	Concept QName
	Entity  Entity
	Period  Period
	Unit    *Unit // nil for non-numeric facts
	Dims    map[string]string
	Value   string // lexical value as reported
	Nil     bool
}

// IsNumeric reports whether the fact carries a unit.
func (f *Fact) IsNumeric() bool {
	return f.Unit != nil
}

// Aspect returns the fact's value for one aspect key.
func (f *Fact) Aspect(key AspectKey) (string, bool) {
	switch key.Type {
	case AspectConcept:
		return f.Concept.String(), true
	case AspectPeriod:
		return f.Period.String(), true
	case AspectUnit:
		if f.Unit == nil {
			return "", false
		}
		return f.Unit.String(), true
	case AspectEntity:
		return f.Entity.String(), true
	case AspectDimension:
		v, ok := f.Dims[key.Name]
		return v, ok
	}
	return "", false
}

// Aspects returns every aspect the fact carries, sorted by key.
func (f *Fact) Aspects() []AspectPair {
	pairs := []AspectPair{
		{Key: ConceptKey, Value: f.Concept.String()},
		{Key: EntityKey, Value: f.Entity.String()},
		{Key: PeriodKey, Value: f.Period.String()},
	}
	if f.Unit != nil {
		pairs = append(pairs, AspectPair{Key: UnitKey, Value: f.Unit.String()})
	}
	for name, member := range f.Dims {
		pairs = append(pairs, AspectPair{Key: DimensionKey(name), Value: member})
	}
	slices.SortFunc(pairs, func(a, b AspectPair) int { return a.Key.Compare(b.Key) })
	return pairs
}

// TypedValue converts the lexical value: numeric facts become decimals,
// nil facts become none, everything else stays a string.
func (f *Fact) TypedValue() (Value, error) {
	if f.Nil {
		return None(), nil
	}
	if f.Unit != nil {
		d, _, err := apd.NewFromString(strings.TrimSpace(f.Value))
		if err != nil {
			return Value{}, fmt.Errorf("fact %d (%s): numeric value %q: %w", f.ID, f.Concept, f.Value, err)
		}
		return Decimal(d), nil
	}
	return String(f.Value), nil
}

// AspectType enumerates the aspect families.
type AspectType uint8

const (
	AspectConcept AspectType = iota + 1
	AspectEntity
	AspectPeriod
	AspectUnit
	AspectDimension
)

// AspectKey names one aspect. Name is only set for dimensions.
type AspectKey struct {
	Type AspectType
	Name string
}

var (
	ConceptKey = AspectKey{Type: AspectConcept}
	EntityKey  = AspectKey{Type: AspectEntity}
	PeriodKey  = AspectKey{Type: AspectPeriod}
	UnitKey    = AspectKey{Type: AspectUnit}
)

// DimensionKey returns the aspect key of an explicit dimension.
func DimensionKey(name string) AspectKey {
	return AspectKey{Type: AspectDimension, Name: name}
}

// ParseAspectKey parses the String form of an AspectKey.
func ParseAspectKey(s string) (AspectKey, error) {
	switch s {
	case "concept":
		return ConceptKey, nil
	case "entity":
		return EntityKey, nil
	case "period":
		return PeriodKey, nil
	case "unit":
		return UnitKey, nil
	}
	if name, ok := strings.CutPrefix(s, "dim:"); ok && name != "" {
		return DimensionKey(name), nil
	}
	return AspectKey{}, fmt.Errorf("unknown aspect %q", s)
}

func (k AspectKey) String() string {
	switch k.Type {
	case AspectConcept:
		return "concept"
	case AspectEntity:
		return "entity"
	case AspectPeriod:
		return "period"
	case AspectUnit:
		return "unit"
	case AspectDimension:
		return "dim:" + k.Name
	}
	return "invalid"
}

// Compare orders keys by type, then dimension name.
func (k AspectKey) Compare(o AspectKey) int {
	if k.Type != o.Type {
		if k.Type < o.Type {
			return -1
		}
		return 1
	}
	return strings.Compare(k.Name, o.Name)
}
