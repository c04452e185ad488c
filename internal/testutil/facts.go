// Package testutil holds fact builders and generators shared by tests.
package testutil

import (
	"time"

	"github.com/roach88/factrule/internal/ir"
)

// FactOption adjusts a fact built by Fact.
type FactOption func(*ir.Fact)

// Fact builds a numeric USD fact for entity ACME at the instant period.
// period is "YYYY-MM-DD", "YYYY-MM-DD/YYYY-MM-DD" or "forever".
func Fact(id ir.FactID, concept, period, value string, opts ...FactOption) ir.Fact {
	p, err := ir.ParsePeriod(period)
	if err != nil {
		panic(err)
	}
	f := ir.Fact{
		ID:      id,
		Concept: ir.ParseQName(concept),
		Entity:  ir.Entity{Scheme: "http://example.com", ID: "ACME"},
		Period:  p,
		Unit:    ir.ParseUnit("USD"),
		Value:   value,
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Dim sets an explicit dimension member.
func Dim(name, member string) FactOption {
	return func(f *ir.Fact) {
		if f.Dims == nil {
			f.Dims = make(map[string]string)
		}
		f.Dims[name] = member
	}
}

// Unit replaces the unit. An empty unit makes the fact non-numeric.
func Unit(u string) FactOption {
	return func(f *ir.Fact) {
		if u == "" {
			f.Unit = nil
			return
		}
		f.Unit = ir.ParseUnit(u)
	}
}

// Entity replaces the entity identifier.
func Entity(id string) FactOption {
	return func(f *ir.Fact) {
		f.Entity.ID = id
	}
}

// Nil marks the fact as reported nil.
func Nil() FactOption {
	return func(f *ir.Fact) {
		f.Nil = true
		f.Value = ""
	}
}

// Date parses "YYYY-MM-DD" and panics on error.
func Date(s string) time.Time {
	t, err := time.Parse(ir.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// BalanceSheet returns assets and liabilities for 2019 and 2020, with
// assets of 2021 reported without liabilities:
//
//	Assets       2019: 80   2020: 100   2021: 120
//	Liabilities  2019: 50   2020:  40
func BalanceSheet() []ir.Fact {
	return []ir.Fact{
		Fact(1, "Assets", "2019-12-31", "80"),
		Fact(2, "Assets", "2020-12-31", "100"),
		Fact(3, "Assets", "2021-12-31", "120"),
		Fact(4, "Liabilities", "2019-12-31", "50"),
		Fact(5, "Liabilities", "2020-12-31", "40"),
	}
}
