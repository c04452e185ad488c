package engine

import (
	"maps"
	"slices"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// Evaluator computes the result of one node kind. Evaluators of iterable
// nodes return a value set; the dispatcher mounts it and reads the current
// row. Other evaluators return a single value.
type Evaluator func(c *Context, n *ast.Node) (Result, error)

// Function is a builtin called with the current values of its arguments.
type Function func(args []ir.Value) (ir.Value, error)

// Property is a builtin applied to a receiver value.
type Property func(recv ir.Value, args []ir.Value) (ir.Value, error)

// Registry maps node kinds to evaluators and names to builtin functions,
// properties and aggregators. A Registry is read-only once a Processor
// runs; use Clone to derive a modified copy.
type Registry struct {
	evaluators  map[ast.Kind]Evaluator
	functions   map[string]Function
	properties  map[string]Property
	aggregators map[string]Aggregator
}

// NewRegistry returns the default registry: an evaluator for every node
// kind plus the builtin library.
func NewRegistry() *Registry {
	r := &Registry{
		evaluators: map[ast.Kind]Evaluator{
			ast.KindLiteral:   evalLiteral,
			ast.KindVarRef:    evalVarRef,
			ast.KindConstRef:  evalConstRef,
			ast.KindLet:       evalLet,
			ast.KindVarDecl:   evalVarDecl,
			ast.KindParam:     evalParam,
			ast.KindFactset:   evalFactset,
			ast.KindBinary:    evalBinary,
			ast.KindUnary:     evalUnary,
			ast.KindIf:        evalIf,
			ast.KindFor:       evalFor,
			ast.KindAggregate: evalAggregate,
			ast.KindCall:      evalCall,
			ast.KindProperty:  evalProperty,
			ast.KindList:      evalList,
			ast.KindSet:       evalSet,
			ast.KindWith:      evalWith,
		},
		functions:   make(map[string]Function),
		properties:  make(map[string]Property),
		aggregators: make(map[string]Aggregator),
	}
	registerFunctions(r)
	registerProperties(r)
	registerAggregators(r)
	return r
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	return &Registry{
		evaluators:  maps.Clone(r.evaluators),
		functions:   maps.Clone(r.functions),
		properties:  maps.Clone(r.properties),
		aggregators: maps.Clone(r.aggregators),
	}
}

// SetEvaluator replaces the evaluator of kind.
func (r *Registry) SetEvaluator(kind ast.Kind, ev Evaluator) {
	r.evaluators[kind] = ev
}

// Evaluator returns the evaluator of kind.
func (r *Registry) Evaluator(kind ast.Kind) (Evaluator, bool) {
	ev, ok := r.evaluators[kind]
	return ev, ok
}

// RegisterFunction adds or replaces a builtin function.
func (r *Registry) RegisterFunction(name string, fn Function) {
	r.functions[name] = fn
}

// Function returns the builtin function called name.
func (r *Registry) Function(name string) (Function, bool) {
	fn, ok := r.functions[name]
	return fn, ok
}

// RegisterProperty adds or replaces a property.
func (r *Registry) RegisterProperty(name string, p Property) {
	r.properties[name] = p
}

// Property returns the property called name.
func (r *Registry) Property(name string) (Property, bool) {
	p, ok := r.properties[name]
	return p, ok
}

// RegisterAggregator adds or replaces an aggregator.
func (r *Registry) RegisterAggregator(name string, a Aggregator) {
	r.aggregators[name] = a
}

// Aggregator returns the aggregator called name.
func (r *Registry) Aggregator(name string) (Aggregator, bool) {
	a, ok := r.aggregators[name]
	return a, ok
}

// Names lists the registered functions, properties and aggregators, sorted.
func (r *Registry) Names() (functions, properties, aggregators []string) {
	return slices.Sorted(maps.Keys(r.functions)),
		slices.Sorted(maps.Keys(r.properties)),
		slices.Sorted(maps.Keys(r.aggregators))
}
