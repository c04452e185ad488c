package ast

import "github.com/roach88/factrule/internal/ir"

// Constructors for building trees in code. Ids and annotations are left
// for the analysis pass.

func Lit(v ir.Value) *Node { return &Node{Kind: KindLiteral, Literal: v} }
func Var(name string) *Node { return &Node{Kind: KindVarRef, Name: name} }
func Const(name string) *Node { return &Node{Kind: KindConstRef, Name: name} }

func Bin(op string, left, right *Node) *Node {
	return &Node{Kind: KindBinary, Op: op, Args: []*Node{left, right}}
}

// BinNils is Bin with a nil policy, the "<+>" family of operators.
func BinNils(op string, nils NilPolicy, left, right *Node) *Node {
	n := Bin(op, left, right)
	n.Nils = nils
	return n
}

func Not(x *Node) *Node { return &Node{Kind: KindUnary, Op: "not", Args: []*Node{x}} }
func Neg(x *Node) *Node { return &Node{Kind: KindUnary, Op: "-", Args: []*Node{x}} }

func If(cond, then, els *Node) *Node {
	return &Node{Kind: KindIf, Cond: cond, Then: then, Else: els}
}

// Let binds vars in order, then evaluates body.
func Let(body *Node, vars ...*Node) *Node {
	return &Node{Kind: KindLet, Vars: vars, Body: body}
}

func Decl(name string, expr *Node) *Node {
	return &Node{Kind: KindVarDecl, Name: name, Expr: expr}
}

func Param(name string) *Node { return &Node{Kind: KindParam, Name: name} }

func For(name string, source, body *Node) *Node {
	return &Node{Kind: KindFor, Vars: []*Node{{Kind: KindVarDecl, Name: name}}, Source: source, Body: body}
}

func Agg(name string, args ...*Node) *Node {
	return &Node{Kind: KindAggregate, Name: name, Args: args}
}

func Call(name string, args ...*Node) *Node {
	return &Node{Kind: KindCall, Name: name, Args: args}
}

func Prop(name string, recv *Node, args ...*Node) *Node {
	return &Node{Kind: KindProperty, Name: name, Args: append([]*Node{recv}, args...)}
}

func ListOf(items ...*Node) *Node { return &Node{Kind: KindList, Args: items} }
func SetOf(items ...*Node) *Node { return &Node{Kind: KindSet, Args: items} }

// With applies filters to every factset evaluated inside body.
func With(body *Node, filters ...*Filter) *Node {
	return &Node{Kind: KindWith, Factset: &Factset{Filters: filters}, Body: body}
}

// FS builds a factset for concept with extra filters.
func FS(concept string, filters ...*Filter) *Node {
	fs := &Factset{}
	if concept != "" {
		fs.Filters = append(fs.Filters, Eq(ir.ConceptKey, Lit(ir.Concept(ir.ParseQName(concept)))))
	}
	fs.Filters = append(fs.Filters, filters...)
	return &Node{Kind: KindFactset, Factset: fs}
}

// Where attaches a where clause to a factset node and returns it.
func Where(fs *Node, cond *Node) *Node {
	fs.Factset.Where = cond
	return fs
}

func Eq(key ir.AspectKey, v *Node) *Filter { return &Filter{Aspect: key, Match: MatchEq, Value: v} }
func In(key ir.AspectKey, v *Node) *Filter { return &Filter{Aspect: key, Match: MatchIn, Value: v} }
func Any(key ir.AspectKey) *Filter { return &Filter{Aspect: key, Match: MatchAny} }
func Absent(key ir.AspectKey) *Filter { return &Filter{Aspect: key, Match: MatchAbsent} }
func Cover(key ir.AspectKey) *Filter { return &Filter{Aspect: key, Match: MatchCover} }
