package engine

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/factrule/internal/ir"
)

// decimalCtx is the arithmetic context of decimal operators: 34 digits,
// as IEEE 754 decimal128.
var decimalCtx = apd.BaseContext.WithPrecision(34)

// arith applies an arithmetic operator. Integers stay integers except for
// division, floats win over decimals, strings concatenate with "+".
func arith(op string, a, b ir.Value) (ir.Value, error) {
	a, b, err := resolve2(a, b)
	if err != nil {
		return ir.Value{}, err
	}
	if op == "+" && isText(a) && isText(b) {
		x, _ := a.AsString()
		y, _ := b.AsString()
		return ir.String(x + y), nil
	}
	if !a.Kind.IsNumeric() || !b.Kind.IsNumeric() {
		return ir.Value{}, fmt.Errorf("operator %s needs numbers, got %s and %s", op, a.Kind, b.Kind)
	}

	if a.Kind == ir.KindInt && b.Kind == ir.KindInt && op != "/" {
		x, _ := a.AsInt()
		y, _ := b.AsInt()
		switch op {
		case "+":
			return ir.Int(x + y), nil
		case "-":
			return ir.Int(x - y), nil
		case "*":
			return ir.Int(x * y), nil
		}
	}
	if a.Kind == ir.KindFloat || b.Kind == ir.KindFloat {
		x, _ := toFloat(a)
		y, _ := toFloat(b)
		switch op {
		case "+":
			return ir.Float(x + y), nil
		case "-":
			return ir.Float(x - y), nil
		case "*":
			return ir.Float(x * y), nil
		case "/":
			if y == 0 {
				return ir.Value{}, fmt.Errorf("division by zero")
			}
			return ir.Float(x / y), nil
		}
		return ir.Value{}, fmt.Errorf("unknown operator %s", op)
	}

	x, okA := a.AsDecimal()
	y, okB := b.AsDecimal()
	if !okA || !okB {
		return ir.Value{}, fmt.Errorf("operator %s: not a finite number", op)
	}
	d := new(apd.Decimal)
	switch op {
	case "+":
		_, err = decimalCtx.Add(d, x, y)
	case "-":
		_, err = decimalCtx.Sub(d, x, y)
	case "*":
		_, err = decimalCtx.Mul(d, x, y)
	case "/":
		if y.IsZero() {
			return ir.Value{}, fmt.Errorf("division by zero")
		}
		_, err = decimalCtx.Quo(d, x, y)
	default:
		return ir.Value{}, fmt.Errorf("unknown operator %s", op)
	}
	if err != nil {
		return ir.Value{}, fmt.Errorf("operator %s: %w", op, err)
	}
	return ir.Decimal(d), nil
}

// negate flips the sign of a number.
func negate(v ir.Value) (ir.Value, error) {
	v, err := v.Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	switch v.Kind {
	case ir.KindInt:
		i, _ := v.AsInt()
		return ir.Int(-i), nil
	case ir.KindFloat:
		f, _ := v.AsFloat()
		return ir.Float(-f), nil
	case ir.KindDecimal:
		d, _ := v.AsDecimal()
		return ir.Decimal(new(apd.Decimal).Neg(d)), nil
	}
	return ir.Value{}, fmt.Errorf("cannot negate %s", v.Kind)
}

// compare applies a comparison operator.
func compare(op string, a, b ir.Value) (bool, error) {
	switch op {
	case "==":
		return equalValues(a, b)
	case "!=":
		eq, err := equalValues(a, b)
		return !eq, err
	case "in":
		return contains(b, a)
	case "not in":
		in, err := contains(b, a)
		return !in, err
	}
	cmp, err := ir.Compare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %s", op)
}

// equalValues compares payloads; numbers compare across kinds.
func equalValues(a, b ir.Value) (bool, error) {
	a, b, err := resolve2(a, b)
	if err != nil {
		return false, err
	}
	if a.Kind.IsNumeric() && b.Kind.IsNumeric() {
		cmp, err := ir.Compare(a, b)
		return cmp == 0, err
	}
	if isText(a) && isText(b) {
		x, _ := a.AsString()
		y, _ := b.AsString()
		return x == y, nil
	}
	return a.SamePayload(b), nil
}

// contains reports whether coll (a list, set or string) holds item.
func contains(coll, item ir.Value) (bool, error) {
	coll, err := coll.Resolve()
	if err != nil {
		return false, err
	}
	switch coll.Kind {
	case ir.KindList, ir.KindSet:
		for _, it := range coll.Items() {
			eq, err := equalValues(it, item)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	case ir.KindDict:
		for _, e := range coll.Entries() {
			if eq, err := equalValues(e.Key, item); err == nil && eq {
				return true, nil
			}
		}
		return false, nil
	case ir.KindString:
		s, _ := coll.AsString()
		sub, ok := item.AsString()
		if !ok {
			return false, fmt.Errorf("cannot look for %s in a string", item.Kind)
		}
		return strings.Contains(s, sub), nil
	}
	return false, fmt.Errorf("%s is not a collection", coll.Kind)
}

func resolve2(a, b ir.Value) (ir.Value, ir.Value, error) {
	a, err := a.Resolve()
	if err != nil {
		return a, b, err
	}
	b, err = b.Resolve()
	return a, b, err
}

func isText(v ir.Value) bool {
	return v.Kind == ir.KindString || v.Kind == ir.KindURI
}

func toFloat(v ir.Value) (float64, bool) {
	switch v.Kind {
	case ir.KindFloat:
		return v.AsFloat()
	case ir.KindInt:
		i, ok := v.AsInt()
		return float64(i), ok
	case ir.KindDecimal:
		d, _ := v.AsDecimal()
		f, err := d.Float64()
		return f, err == nil
	}
	return 0, false
}

// join combines the alignments of operands. Two concrete alignments must be
// equal; ok is false when they are not.
func join(vals ...ir.Value) (align ir.Alignment, facts []ir.FactID, ok bool) {
	for _, v := range vals {
		facts = ir.MergeFacts(facts, v.Facts)
		if v.Alignment.IsNone() {
			continue
		}
		if align.IsNone() {
			align = v.Alignment
			continue
		}
		if !align.Equal(v.Alignment) {
			return ir.NoAlignment, nil, false
		}
	}
	return align, facts, true
}

// derive stamps the joined metadata of the operands on a computed value.
func derive(v ir.Value, align ir.Alignment, facts []ir.FactID, from ...ir.Value) ir.Value {
	v.Alignment = align
	v.Facts = facts
	for _, f := range from {
		v.AlignedResultOnly = v.AlignedResultOnly || f.AlignedResultOnly
	}
	return v
}

// asBool resolves v and returns its boolean payload.
func asBool(v ir.Value) (bool, bool) {
	v, err := v.Resolve()
	if err != nil {
		return false, false
	}
	return v.AsBool()
}
