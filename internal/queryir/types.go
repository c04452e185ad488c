package queryir

// Query represents an abstract query in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Query types:
//   - Select: table access with filtering and an explicit field list
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in the QueryIR.
//
// Predicate types:
//   - Equals: field = literal
//   - In: field IN (subquery)
//   - NotIn: field NOT IN (subquery)
//   - And: all predicates must be true
//
// OR predicates are not part of the IR. A factset with several values for
// one aspect issues one Lookup per value and unions the sets.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Literal is a constant operand of a predicate.
//
// Only String, Int and Bool exist. There is no NULL literal: a missing
// aspect is a missing fact_aspects row, expressed with NotIn.
type Literal interface {
	literal()
}

// String is a text literal.
type String string

// Int is an integer literal.
type Int int64

// Bool is a boolean literal.
type Bool bool

func (String) literal() {}
func (Int) literal()    {}
func (Bool) literal()   {}

// Select represents a basic table access query with filtering.
//
// Semantics:
//
//	SELECT <fields> FROM <from> WHERE <filter> ORDER BY <order>
//
// Example, the facts whose period is 2020-12-31:
//
//	Select{
//	  From:   "fact_aspects",
//	  Fields: []string{"fact_id"},
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "aspect", Value: String("period")},
//	    Equals{Field: "value", Value: String("2020-12-31")},
//	  }},
//	  OrderBy: "fact_id",
//	}
//
// Translates to SQL:
//
//	SELECT fact_id FROM fact_aspects
//	WHERE aspect = ? AND value = ?
//	ORDER BY fact_id ASC
//
// Fields are scanned positionally, so their order is significant.
// OrderBy names the stable key; empty means "id".
type Select struct {
	From    string    `json:"from"`
	Fields  []string  `json:"fields"`
	Filter  Predicate `json:"filter,omitempty"`
	OrderBy string    `json:"order_by,omitempty"`
}

func (Select) queryNode() {}

// Equals represents a field-equals-literal predicate.
//
//	<field> = <value>
type Equals struct {
	Field string
	Value Literal
}

func (Equals) predicateNode() {}

// In restricts a field to the rows of a one-field subquery.
//
//	<field> IN (<query>)
type In struct {
	Field string
	Query Query
}

func (In) predicateNode() {}

// NotIn excludes the rows of a one-field subquery.
//
//	<field> NOT IN (<query>)
//
// Missing aspect lookups use NotIn against fact_aspects.
type NotIn struct {
	Field string
	Query Query
}

func (NotIn) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
