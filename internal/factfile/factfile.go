// Package factfile reads fact documents written in YAML.
//
// A document lists facts with optional shared defaults:
//
//	defaults:
//	  entity: http://example.com|ACME
//	  unit: USD
//	facts:
//	  - concept: Assets
//	    period: 2020-12-31
//	    value: 100
//	  - id: 7
//	    concept: Segment revenue
//	    period: 2020-01-01/2020-12-31
//	    dims: {Segment: Retail}
//	    value: 40.5
//	  - concept: Auditor
//	    period: 2020-12-31
//	    unit: none
//	    value: Jones LLP
//
// Values keep their lexical form as written. Facts without an id are
// numbered after the largest explicit id, in document order.
package factfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/factrule/internal/ir"
)

// NoUnit marks a non-numeric fact when a default unit is set.
const NoUnit = "none"

// Document is the decoded form of a fact file.
type Document struct {
	Defaults Defaults   `yaml:"defaults,omitempty"`
	Facts    []FactSpec `yaml:"facts"`
}

// Defaults apply to every fact that leaves the field out.
type Defaults struct {
	Entity string `yaml:"entity,omitempty"`
	Unit   string `yaml:"unit,omitempty"`
}

// FactSpec is one fact as written.
type FactSpec struct {
	ID      int64             `yaml:"id,omitempty"`
	Concept string            `yaml:"concept"`
	Entity  string            `yaml:"entity,omitempty"`
	Period  Lexical           `yaml:"period"`
	Unit    *Lexical          `yaml:"unit,omitempty"`
	Dims    map[string]string `yaml:"dims,omitempty"`
	Value   Lexical           `yaml:"value"`
	Nil     bool              `yaml:"nil,omitempty"`

	line int
}

// Lexical is a scalar kept exactly as written, so 1.50 and 2020-12-31
// are not reinterpreted by the YAML resolver.
type Lexical string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Lexical) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	if n.Tag == "!!null" {
		*l = ""
		return nil
	}
	*l = Lexical(n.Value)
	return nil
}

// Error is a fact that could not be converted, with its document line.
type Error struct {
	File    string
	Line    int
	Message string
}

func (e *Error) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// Load reads and parses a fact file.
func Load(path string) ([]ir.Fact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fact file: %w", err)
	}
	facts, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	return facts, nil
}

// Parse decodes a fact document.
func Parse(data []byte) ([]ir.Fact, error) {
	return parse("", data)
}

func parse(file string, data []byte) ([]ir.Fact, error) {
	doc, err := decode(data)
	if err != nil {
		if file != "" {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		return nil, err
	}
	facts, err := doc.Convert()
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			fe.File = file
		}
		return nil, err
	}
	return facts, nil
}

// decode unmarshals the document and records each fact's line.
func decode(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse fact file: %w", err)
	}
	doc := &Document{}
	if len(root.Content) == 0 {
		return doc, nil
	}
	if err := root.Content[0].Decode(doc); err != nil {
		return nil, fmt.Errorf("decode fact file: %w", err)
	}

	top := root.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "facts" {
			continue
		}
		for j, item := range top.Content[i+1].Content {
			if j < len(doc.Facts) {
				doc.Facts[j].line = item.Line
			}
		}
	}
	return doc, nil
}

// Convert converts the document's facts, assigning ids to those without
// one.
func (d *Document) Convert() ([]ir.Fact, error) {
	var next ir.FactID
	seen := make(map[ir.FactID]int)
	for _, spec := range d.Facts {
		if id := ir.FactID(spec.ID); id > next {
			next = id
		}
	}

	facts := make([]ir.Fact, 0, len(d.Facts))
	for _, spec := range d.Facts {
		f, err := spec.toFact(d.Defaults)
		if err != nil {
			return nil, &Error{Line: spec.line, Message: err.Error()}
		}
		if f.ID == 0 {
			next++
			f.ID = next
		}
		if line, dup := seen[f.ID]; dup {
			return nil, &Error{Line: spec.line, Message: fmt.Sprintf("fact id %d already used on line %d", f.ID, line)}
		}
		seen[f.ID] = spec.line
		facts = append(facts, f)
	}
	return facts, nil
}

func (s FactSpec) toFact(def Defaults) (ir.Fact, error) {
	if s.ID < 0 {
		return ir.Fact{}, fmt.Errorf("fact id %d is negative", s.ID)
	}
	if strings.TrimSpace(s.Concept) == "" {
		return ir.Fact{}, fmt.Errorf("fact has no concept")
	}

	period, err := ir.ParsePeriod(string(s.Period))
	if err != nil {
		return ir.Fact{}, fmt.Errorf("fact %s: %w", s.Concept, err)
	}

	entity := s.Entity
	if entity == "" {
		entity = def.Entity
	}
	if entity == "" {
		return ir.Fact{}, fmt.Errorf("fact %s has no entity", s.Concept)
	}

	f := ir.Fact{
		ID:      ir.FactID(s.ID),
		Concept: ir.ParseQName(s.Concept),
		Entity:  ParseEntity(entity),
		Period:  period,
		Value:   string(s.Value),
		Nil:     s.Nil,
	}

	unit := def.Unit
	if s.Unit != nil {
		unit = string(*s.Unit)
	}
	if unit != "" && unit != NoUnit {
		f.Unit = ir.ParseUnit(unit)
	}
	if len(s.Dims) > 0 {
		f.Dims = make(map[string]string, len(s.Dims))
		for k, v := range s.Dims {
			f.Dims[k] = v
		}
	}

	if f.Nil {
		if f.Value != "" {
			return ir.Fact{}, fmt.Errorf("fact %s is nil but has value %q", s.Concept, f.Value)
		}
		return f, nil
	}
	if f.Unit != nil {
		if _, _, err := apd.NewFromString(strings.TrimSpace(f.Value)); err != nil {
			return ir.Fact{}, fmt.Errorf("fact %s: numeric value %q is not a decimal", s.Concept, f.Value)
		}
	}
	return f, nil
}

// ParseEntity splits "scheme|id". A string without a separator is an id
// with no scheme.
func ParseEntity(s string) ir.Entity {
	scheme, id, ok := strings.Cut(s, "|")
	if !ok {
		return ir.Entity{ID: s}
	}
	return ir.Entity{Scheme: scheme, ID: id}
}
