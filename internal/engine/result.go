package engine

import "github.com/roach88/factrule/internal/ir"

// State is the control outcome of evaluating a node.
type State uint8

const (
	// Bound: the node produced a value (or a value set).
	Bound State = iota
	// Stop: the node has no value for the current iteration.
	Stop
	// Realign: an enclosing table discovered its alignment mid-evaluation;
	// the owning factset must retry under Alignment.
	Realign
)

func (s State) String() string {
	switch s {
	case Bound:
		return "bound"
	case Stop:
		return "stop"
	case Realign:
		return "realign"
	}
	return "unknown"
}

// Result is returned by every evaluator alongside an error. Evaluators of
// iterable nodes return Set; the others return Value.
type Result struct {
	State     State
	Value     ir.Value
	Set       *ir.ValueSet
	Alignment ir.Alignment // Realign only
}

func bound(v ir.Value) Result { return Result{State: Bound, Value: v} }
func boundSet(s *ir.ValueSet) Result { return Result{State: Bound, Set: s} }
func stop() Result { return Result{State: Stop} }
func realign(a ir.Alignment) Result { return Result{State: Realign, Alignment: a} }

// valueSet returns the result as a set, wrapping a single value.
func (r Result) valueSet() *ir.ValueSet {
	if r.Set != nil {
		return r.Set
	}
	return ir.SetOf(r.Value)
}
