package ir

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// NodeID identifies an expression node inside one rule set.
type NodeID int32

// Value is a tagged runtime value. The payload is interpreted according to
// Kind; everything else is evaluation metadata.
type Value struct {
	Kind    Kind
	payload any
	shadow  []string // element keys of list, set and dictionary payloads

	Alignment         Alignment
	Tags              map[string]Value
	Facts             []FactID
	AlignedResultOnly bool
	UsedExpressions   []NodeID
	FromModel         bool
}

// DictEntry is one key/value pair of a dictionary payload.
type DictEntry struct {
	Key   Value
	Value Value
}

func Unbound() Value { return Value{Kind: KindUnbound} }
func None() Value { return Value{Kind: KindNone} }

func Bool(b bool) Value { return Value{Kind: KindBool, payload: b} }
func Int(i int64) Value { return Value{Kind: KindInt, payload: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, payload: f} }
func String(s string) Value { return Value{Kind: KindString, payload: s} }
func URI(s string) Value { return Value{Kind: KindURI, payload: s} }
func QNameValue(q QName) Value { return Value{Kind: KindQName, payload: q} }
func Concept(q QName) Value { return Value{Kind: KindConcept, payload: q} }
func Instant(t time.Time) Value {
	return Value{Kind: KindInstant, payload: t}
}
func Duration(p Period) Value { return Value{Kind: KindDuration, payload: p} }
func UnitValue(u *Unit) Value { return Value{Kind: KindUnit, payload: u} }
func EntityValue(e Entity) Value { return Value{Kind: KindEntity, payload: e} }

// Decimal wraps d. The decimal is shared, never mutated afterwards.
func Decimal(d *apd.Decimal) Value {
	return Value{Kind: KindDecimal, payload: d}
}

// DecimalFromString parses a decimal literal.
func DecimalFromString(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("decimal %q: %w", s, err)
	}
	return Decimal(d), nil
}

// Named builds a value whose payload is a plain name: networks,
// relationships, labels, references, roles, severities and formulas.
func Named(kind Kind, name string) Value {
	if !kind.IsNamed() {
		panic(fmt.Sprintf("ir.Named: %s is not a named kind", kind))
	}
	return Value{Kind: kind, payload: name}
}

// FactValue wraps a fact. The fact's id becomes the value's provenance.
func FactValue(f *Fact) Value {
	return Value{Kind: KindFact, payload: f, Facts: []FactID{f.ID}}
}

// List builds an ordered list.
func List(items ...Value) Value {
	items = slices.Clone(items)
	shadow := make([]string, len(items))
	for i, it := range items {
		shadow[i] = it.rawKey()
	}
	return Value{Kind: KindList, payload: items, shadow: shadow}
}

// Set builds an ordered set; later duplicates are dropped.
func Set(items ...Value) Value {
	kept := make([]Value, 0, len(items))
	shadow := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		k := it.rawKey()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, it)
		shadow = append(shadow, k)
	}
	return Value{Kind: KindSet, payload: kept, shadow: shadow}
}

// Dict builds a dictionary; a repeated key replaces the earlier entry.
func Dict(entries ...DictEntry) Value {
	kept := make([]DictEntry, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		k := e.Key.rawKey()
		if i, ok := index[k]; ok {
			kept[i] = e
			continue
		}
		index[k] = len(kept)
		kept = append(kept, e)
	}
	shadow := make([]string, len(kept))
	for i, e := range kept {
		shadow[i] = e.Key.rawKey() + "=" + e.Value.rawKey()
	}
	return Value{Kind: KindDict, payload: kept, shadow: shadow}
}

// Payload returns the raw payload.
func (v Value) Payload() any { return v.payload }

func (v Value) IsUnbound() bool { return v.Kind == KindUnbound }
func (v Value) IsNone() bool { return v.Kind == KindNone }

func (v Value) AsBool() (bool, bool) {
	b, ok := v.payload.(bool)
	return b, ok && v.Kind == KindBool
}

func (v Value) AsInt() (int64, bool) {
	i, ok := v.payload.(int64)
	return i, ok && v.Kind == KindInt
}

func (v Value) AsFloat() (float64, bool) {
	f, ok := v.payload.(float64)
	return f, ok && v.Kind == KindFloat
}

// AsString returns the payload of string-like kinds.
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString, KindURI:
		s, ok := v.payload.(string)
		return s, ok
	}
	if v.Kind.IsNamed() {
		s, ok := v.payload.(string)
		return s, ok
	}
	return "", false
}

func (v Value) AsQName() (QName, bool) {
	q, ok := v.payload.(QName)
	return q, ok
}

func (v Value) AsTime() (time.Time, bool) {
	t, ok := v.payload.(time.Time)
	return t, ok
}

func (v Value) AsPeriod() (Period, bool) {
	p, ok := v.payload.(Period)
	return p, ok
}

func (v Value) AsUnit() (*Unit, bool) {
	u, ok := v.payload.(*Unit)
	return u, ok
}

func (v Value) AsEntity() (Entity, bool) {
	e, ok := v.payload.(Entity)
	return e, ok
}

func (v Value) AsFact() (*Fact, bool) {
	f, ok := v.payload.(*Fact)
	return f, ok
}

// Items returns the elements of a list or set.
func (v Value) Items() []Value {
	items, _ := v.payload.([]Value)
	return items
}

// Entries returns the entries of a dictionary.
func (v Value) Entries() []DictEntry {
	entries, _ := v.payload.([]DictEntry)
	return entries
}

// AsDecimal converts any numeric payload to a decimal.
func (v Value) AsDecimal() (*apd.Decimal, bool) {
	switch v.Kind {
	case KindDecimal:
		d, ok := v.payload.(*apd.Decimal)
		return d, ok
	case KindInt:
		return apd.New(v.payload.(int64), 0), true
	case KindFloat:
		f := v.payload.(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(f); err != nil {
			return nil, false
		}
		return d, true
	}
	return nil, false
}

// Resolve replaces a fact value by the fact's typed value, keeping the
// metadata of v. Other values are returned unchanged.
func (v Value) Resolve() (Value, error) {
	f, ok := v.AsFact()
	if !ok || v.Kind != KindFact {
		return v, nil
	}
	typed, err := f.TypedValue()
	if err != nil {
		return Value{}, err
	}
	typed.Alignment = v.Alignment
	typed.Tags = v.Tags
	typed.Facts = v.Facts
	typed.AlignedResultOnly = v.AlignedResultOnly
	typed.UsedExpressions = v.UsedExpressions
	return typed, nil
}

// WithAlignment returns a shallow copy carrying a.
func (v Value) WithAlignment(a Alignment) Value {
	v.Alignment = a
	return v
}

// Clone deep-copies alignment, tags and provenance. The payload is shared.
func (v Value) Clone() Value {
	c := v
	if v.Tags != nil {
		c.Tags = make(map[string]Value, len(v.Tags))
		for k, t := range v.Tags {
			c.Tags[k] = t
		}
	}
	c.Facts = slices.Clone(v.Facts)
	c.UsedExpressions = slices.Clone(v.UsedExpressions)
	c.shadow = slices.Clone(v.shadow)
	return c
}

// Key identifies the value by kind, payload and alignment.
func (v Value) Key() string {
	return v.rawKey() + "@" + v.Alignment.Key()
}

// Equal compares kind, payload and alignment.
func (v Value) Equal(o Value) bool {
	return v.Key() == o.Key()
}

// SamePayload compares kind and payload only.
func (v Value) SamePayload(o Value) bool {
	return v.rawKey() == o.rawKey()
}

// rawKey identifies kind and payload, ignoring all metadata.
func (v Value) rawKey() string {
	return v.Kind.String() + ":" + v.payloadKey()
}

func (v Value) payloadKey() string {
	switch v.Kind {
	case KindUnbound, KindNone:
		return ""
	case KindBool:
		return strconv.FormatBool(v.payload.(bool))
	case KindInt:
		return strconv.FormatInt(v.payload.(int64), 10)
	case KindFloat:
		return strconv.FormatFloat(v.payload.(float64), 'g', -1, 64)
	case KindDecimal:
		return decimalText(v.payload.(*apd.Decimal))
	case KindInstant:
		return v.payload.(time.Time).UTC().Format(time.RFC3339Nano)
	case KindFact:
		return "#" + strconv.FormatInt(int64(v.payload.(*Fact).ID), 10)
	case KindList:
		return "[" + strings.Join(v.shadow, ",") + "]"
	case KindSet, KindDict:
		sorted := slices.Clone(v.shadow)
		slices.Sort(sorted)
		return "{" + strings.Join(sorted, ",") + "}"
	}
	return fmt.Sprint(v.payload)
}

// decimalText renders d without trailing zeros so 1.50 and 1.5 share a key.
func decimalText(d *apd.Decimal) string {
	var r apd.Decimal
	r.Reduce(d)
	return r.Text('f')
}

// Format renders the value for messages and diagnostics.
func (v Value) Format() string {
	switch v.Kind {
	case KindUnbound:
		return "unbound"
	case KindNone:
		return "none"
	case KindDecimal:
		return v.payload.(*apd.Decimal).Text('f')
	case KindInstant:
		t := v.payload.(time.Time)
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(DateLayout)
		}
		return t.Format(time.RFC3339)
	case KindDuration:
		p := v.payload.(Period)
		if v.FromModel && !p.Instant && !p.Forever {
			p.End = p.End.AddDate(0, 0, -1)
		}
		return p.String()
	case KindFact:
		f := v.payload.(*Fact)
		if f.Nil {
			return "nil"
		}
		return f.Value
	case KindList, KindSet:
		parts := make([]string, 0, len(v.Items()))
		for _, it := range v.Items() {
			parts = append(parts, it.Format())
		}
		return v.Kind.String() + "(" + strings.Join(parts, ", ") + ")"
	case KindDict:
		parts := make([]string, 0, len(v.Entries()))
		for _, e := range v.Entries() {
			parts = append(parts, e.Key.Format()+"="+e.Value.Format())
		}
		return "dictionary(" + strings.Join(parts, ", ") + ")"
	}
	return v.payloadKey()
}

// MergeFacts appends the ids of b missing from a, keeping first-seen order.
func MergeFacts(a, b []FactID) []FactID {
	if len(b) == 0 {
		return a
	}
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Compare orders two values of comparable kinds. Numeric kinds compare
// across each other; facts are resolved first.
func Compare(a, b Value) (int, error) {
	var err error
	if a, err = a.Resolve(); err != nil {
		return 0, err
	}
	if b, err = b.Resolve(); err != nil {
		return 0, err
	}
	if a.Kind.IsNumeric() && b.Kind.IsNumeric() {
		if a.Kind == KindInt && b.Kind == KindInt {
			x, y := a.payload.(int64), b.payload.(int64)
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
		x, okA := a.AsDecimal()
		y, okB := b.AsDecimal()
		if !okA || !okB {
			return 0, fmt.Errorf("cannot compare %s with %s", a.Format(), b.Format())
		}
		return x.Cmp(y), nil
	}
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindBool:
		x, y := a.payload.(bool), b.payload.(bool)
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	case KindInstant:
		return a.payload.(time.Time).Compare(b.payload.(time.Time)), nil
	case KindNone:
		return 0, nil
	case KindList, KindSet, KindDict, KindFact, KindUnbound:
		return 0, fmt.Errorf("cannot order %s values", a.Kind)
	}
	return strings.Compare(a.payloadKey(), b.payloadKey()), nil
}
