// Package ast defines the expression tree the engine evaluates.
//
// Nodes are built by the compiler (or directly in tests), then annotated by
// the analysis package. The engine only reads annotated trees.
package ast

import (
	"fmt"

	"github.com/roach88/factrule/internal/ir"
)

// NodeID identifies a node inside one rule set.
type NodeID = ir.NodeID

// Kind is the closed set of expression kinds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindLiteral
	KindVarRef
	KindConstRef
	KindLet
	KindVarDecl
	KindParam
	KindFactset
	KindBinary
	KindUnary
	KindIf
	KindFor
	KindAggregate
	KindCall
	KindProperty
	KindList
	KindSet
	KindWith
	kindCount
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindLiteral:   "literal",
	KindVarRef:    "var",
	KindConstRef:  "const",
	KindLet:       "let",
	KindVarDecl:   "var-decl",
	KindParam:     "param",
	KindFactset:   "factset",
	KindBinary:    "binary",
	KindUnary:     "unary",
	KindIf:        "if",
	KindFor:       "for",
	KindAggregate: "aggregate",
	KindCall:      "call",
	KindProperty:  "property",
	KindList:      "list",
	KindSet:       "set",
	KindWith:      "with",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Kinds lists every valid kind, for registries.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindLiteral; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// NilPolicy says which operands of a binary operator may be absent.
type NilPolicy uint8

const (
	NilsNone NilPolicy = iota
	NilsLeft
	NilsRight
	NilsBoth
)

func (p NilPolicy) Left() bool  { return p == NilsLeft || p == NilsBoth }
func (p NilPolicy) Right() bool { return p == NilsRight || p == NilsBoth }

// Pos is a source position.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.File == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Node is one expression. Which fields are meaningful depends on Kind:
//
//	Literal    Literal
//	VarRef     Name (resolved to Ann.Decl)
//	ConstRef   Name
//	Let        Vars (VarDecl nodes, in order), Body
//	VarDecl    Name, Expr; a for-loop variable has no Expr
//	Param      Name
//	Factset    Factset
//	Binary     Op, Nils, Args[0], Args[1]
//	Unary      Op, Args[0]
//	If         Cond, Then, Else
//	For        Vars[0] (loop variable), Source, Body
//	Aggregate  Name, Args
//	Call       Name, Args
//	Property   Name, Args[0] receiver, Args[1:] arguments
//	List, Set  Args
//	With       Factset (filters only), Body
type Node struct {
	ID   NodeID
	Kind Kind
	Pos  Pos
	Tag  string // store the evaluated value under this name in message tags

	Literal ir.Value
	Name    string
	Op      string
	Nils    NilPolicy
	Args    []*Node
	Vars    []*Node
	Expr    *Node
	Cond    *Node
	Then    *Node
	Else    *Node
	Source  *Node
	Body    *Node
	Factset *Factset

	Ann Annotations
}

// Annotations are filled by the analysis pass.
type Annotations struct {
	// Iterable nodes may evaluate to several values and are mounted as
	// iteration-table columns.
	Iterable bool
	// HasAlignment is set when the node's values can carry aspect coordinates.
	HasAlignment bool
	// Dependent nodes consult the enclosing alignment when they evaluate.
	Dependent bool
	// DependentIterables are the ids whose current values the node's value
	// depends on.
	DependentIterables []NodeID
	// VarRefs are the variable declarations the node reads, directly or
	// through let variables.
	VarRefs []NodeID
	// ScopeID is the scope-opening node whose table holds this node's column.
	ScopeID NodeID
	// Decl is the resolved declaration of a VarRef.
	Decl NodeID
}

// MatchKind is the comparison a factset filter applies.
type MatchKind uint8

const (
	MatchEq     MatchKind = iota + 1 // aspect equals the value
	MatchIn                          // aspect is one of a list/set
	MatchAny                         // aspect present, any value; stays in the alignment
	MatchAbsent                      // aspect not present
	MatchCover                       // no restriction, removed from the alignment
)

func (m MatchKind) String() string {
	switch m {
	case MatchEq:
		return "="
	case MatchIn:
		return "in"
	case MatchAny:
		return "*"
	case MatchAbsent:
		return "none"
	case MatchCover:
		return "covered"
	}
	return "?"
}

// Filter restricts one aspect of a factset.
type Filter struct {
	Aspect ir.AspectKey
	Match  MatchKind
	Value  *Node // Eq and In only
}

// Factset selects facts by aspect filters and an optional where clause.
// Inside Where the variable "item" is bound to the candidate fact.
type Factset struct {
	Filters []*Filter
	Where   *Node
	Covered bool // every aspect not explicitly kept is removed from the alignment
	Nils    bool // include nil facts
}

// Rule is one named expression whose bound values become messages.
type Rule struct {
	ID       NodeID
	Name     string
	Severity ir.Severity
	Message  string
	Assert   bool // emit only when the expression evaluates to true
	Expr     *Node
	Pos      Pos
}

// Constant is a named expression evaluated once per run.
type Constant struct {
	ID   NodeID
	Name string
	Expr *Node
	Pos  Pos
}

// Function is a user-defined function.
type Function struct {
	ID     NodeID
	Name   string
	Params []*Node
	Body   *Node
	Pos    Pos
}

// RuleSet is a compiled, annotated unit of rules.
type RuleSet struct {
	Name      string
	Hash      string
	Rules     []*Rule
	Constants []*Constant
	Functions []*Function

	nodes     map[NodeID]*Node
	constants map[string]*Constant
	functions map[string]*Function
}

// Index records every node by id and every constant and function by name.
// The analysis pass calls it after assigning ids.
func (rs *RuleSet) Index() {
	rs.nodes = make(map[NodeID]*Node)
	rs.constants = make(map[string]*Constant, len(rs.Constants))
	rs.functions = make(map[string]*Function, len(rs.Functions))
	visit := func(n *Node) bool {
		rs.nodes[n.ID] = n
		return true
	}
	for _, c := range rs.Constants {
		rs.constants[c.Name] = c
		Walk(c.Expr, visit)
	}
	for _, f := range rs.Functions {
		rs.functions[f.Name] = f
		for _, p := range f.Params {
			Walk(p, visit)
		}
		Walk(f.Body, visit)
	}
	for _, r := range rs.Rules {
		Walk(r.Expr, visit)
	}
}

// Node returns the node with the given id.
func (rs *RuleSet) Node(id NodeID) (*Node, bool) {
	n, ok := rs.nodes[id]
	return n, ok
}

// Constant returns the constant declared under name.
func (rs *RuleSet) Constant(name string) (*Constant, bool) {
	c, ok := rs.constants[name]
	return c, ok
}

// Function returns the function declared under name.
func (rs *RuleSet) Function(name string) (*Function, bool) {
	f, ok := rs.functions[name]
	return f, ok
}

// Children returns the direct sub-expressions of n, filter values included.
func Children(n *Node) []*Node {
	var out []*Node
	add := func(c *Node) {
		if c != nil {
			out = append(out, c)
		}
	}
	out = append(out, n.Vars...)
	add(n.Expr)
	if n.Factset != nil {
		for _, f := range n.Factset.Filters {
			add(f.Value)
		}
		add(n.Factset.Where)
	}
	add(n.Source)
	add(n.Cond)
	add(n.Then)
	add(n.Else)
	out = append(out, n.Args...)
	add(n.Body)
	return out
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}
