package engine

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/factrule/internal/ir"
)

func registerFunctions(r *Registry) {
	r.RegisterFunction("abs", fnAbs)
	r.RegisterFunction("round", fnRound)
	r.RegisterFunction("string", fnString)
	r.RegisterFunction("number", fnNumber)
	r.RegisterFunction("date", fnDate)
	r.RegisterFunction("upper", textFunc(strings.ToUpper))
	r.RegisterFunction("lower", textFunc(strings.ToLower))
}

func registerProperties(r *Registry) {
	r.RegisterProperty("value", propValue)
	r.RegisterProperty("concept", factProp(func(f *ir.Fact) ir.Value { return ir.Concept(f.Concept) }))
	r.RegisterProperty("entity", factProp(func(f *ir.Fact) ir.Value { return ir.EntityValue(f.Entity) }))
	r.RegisterProperty("unit", factProp(func(f *ir.Fact) ir.Value {
		if f.Unit == nil {
			return ir.None()
		}
		return ir.UnitValue(f.Unit)
	}))
	r.RegisterProperty("period", factProp(func(f *ir.Fact) ir.Value { return periodValue(f.Period) }))
	r.RegisterProperty("is-nil", factProp(func(f *ir.Fact) ir.Value { return ir.Bool(f.Nil) }))
	r.RegisterProperty("dimension", propDimension)
	r.RegisterProperty("start", propStart)
	r.RegisterProperty("end", propEnd)
	r.RegisterProperty("length", propLength)
	r.RegisterProperty("contains", propContains)
}

func arity(args []ir.Value, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("takes %d arguments, got %d", lo, len(args))
		}
		return fmt.Errorf("takes %d to %d arguments, got %d", lo, hi, len(args))
	}
	return nil
}

func fnAbs(args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return ir.Value{}, err
	}
	v, err := args[0].Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	switch v.Kind {
	case ir.KindInt:
		i, _ := v.AsInt()
		if i < 0 {
			i = -i
		}
		return ir.Int(i), nil
	case ir.KindFloat:
		f, _ := v.AsFloat()
		if f < 0 {
			f = -f
		}
		return ir.Float(f), nil
	case ir.KindDecimal:
		d, _ := v.AsDecimal()
		return ir.Decimal(new(apd.Decimal).Abs(d)), nil
	}
	return ir.Value{}, fmt.Errorf("needs a number, got %s", v.Kind)
}

// fnRound rounds half up to the given number of decimal places (default 0).
func fnRound(args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return ir.Value{}, err
	}
	v, err := args[0].Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	if !v.Kind.IsNumeric() {
		return ir.Value{}, fmt.Errorf("needs a number, got %s", v.Kind)
	}
	places := int64(0)
	if len(args) == 2 {
		p, err := args[1].Resolve()
		if err != nil {
			return ir.Value{}, err
		}
		var ok bool
		if places, ok = p.AsInt(); !ok {
			return ir.Value{}, fmt.Errorf("places must be an integer, got %s", p.Kind)
		}
	}
	if v.Kind == ir.KindInt && places >= 0 {
		return v, nil
	}
	d, ok := v.AsDecimal()
	if !ok {
		return ir.Value{}, fmt.Errorf("cannot round %s", v.Format())
	}
	out := new(apd.Decimal)
	if _, err := decimalCtx.Quantize(out, d, int32(-places)); err != nil {
		return ir.Value{}, err
	}
	return ir.Decimal(out), nil
}

func fnString(args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return ir.Value{}, err
	}
	v, err := args[0].Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	if s, ok := v.AsString(); ok {
		return ir.String(s), nil
	}
	return ir.String(v.Format()), nil
}

func fnNumber(args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return ir.Value{}, err
	}
	v, err := args[0].Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	if v.Kind.IsNumeric() {
		return v, nil
	}
	s, ok := v.AsString()
	if !ok {
		return ir.Value{}, fmt.Errorf("cannot convert %s to a number", v.Kind)
	}
	return ir.DecimalFromString(strings.TrimSpace(s))
}

func fnDate(args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return ir.Value{}, err
	}
	v, err := args[0].Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	if v.Kind == ir.KindInstant {
		return v, nil
	}
	s, ok := v.AsString()
	if !ok {
		return ir.Value{}, fmt.Errorf("needs a string, got %s", v.Kind)
	}
	t, err := time.Parse(ir.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return ir.Value{}, err
	}
	return ir.Instant(t), nil
}

func textFunc(fn func(string) string) Function {
	return func(args []ir.Value) (ir.Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return ir.Value{}, err
		}
		v, err := args[0].Resolve()
		if err != nil {
			return ir.Value{}, err
		}
		s, ok := v.AsString()
		if !ok {
			return ir.Value{}, fmt.Errorf("needs a string, got %s", v.Kind)
		}
		return ir.String(fn(s)), nil
	}
}

// factProp builds a property that reads an aspect of a fact receiver.
func factProp(get func(f *ir.Fact) ir.Value) Property {
	return func(recv ir.Value, args []ir.Value) (ir.Value, error) {
		if err := arity(args, 0, 0); err != nil {
			return ir.Value{}, err
		}
		f, ok := recv.AsFact()
		if !ok {
			return ir.Value{}, fmt.Errorf("needs a fact, got %s", recv.Kind)
		}
		return get(f), nil
	}
}

func propValue(recv ir.Value, args []ir.Value) (ir.Value, error) {
	if err := arity(args, 0, 0); err != nil {
		return ir.Value{}, err
	}
	return recv.Resolve()
}

func propDimension(recv ir.Value, args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return ir.Value{}, err
	}
	f, ok := recv.AsFact()
	if !ok {
		return ir.Value{}, fmt.Errorf("needs a fact, got %s", recv.Kind)
	}
	name, ok := args[0].AsString()
	if !ok {
		return ir.Value{}, fmt.Errorf("dimension name must be a string, got %s", args[0].Kind)
	}
	member, ok := f.Dims[name]
	if !ok {
		return ir.None(), nil
	}
	return ir.QNameValue(ir.ParseQName(member)), nil
}

func periodValue(p ir.Period) ir.Value {
	if p.Instant {
		return ir.Instant(p.End)
	}
	return ir.Duration(p)
}

// receiverPeriod reads the period of a fact, instant or duration receiver.
func receiverPeriod(recv ir.Value) (ir.Period, error) {
	switch recv.Kind {
	case ir.KindFact:
		f, _ := recv.AsFact()
		return f.Period, nil
	case ir.KindDuration:
		p, _ := recv.AsPeriod()
		return p, nil
	case ir.KindInstant:
		t, _ := recv.AsTime()
		return ir.InstantPeriod(t), nil
	}
	return ir.Period{}, fmt.Errorf("needs a period, got %s", recv.Kind)
}

func propStart(recv ir.Value, args []ir.Value) (ir.Value, error) {
	if err := arity(args, 0, 0); err != nil {
		return ir.Value{}, err
	}
	p, err := receiverPeriod(recv)
	if err != nil {
		return ir.Value{}, err
	}
	switch {
	case p.Forever:
		return ir.None(), nil
	case p.Instant:
		return ir.Instant(p.End), nil
	}
	return ir.Instant(p.Start), nil
}

func propEnd(recv ir.Value, args []ir.Value) (ir.Value, error) {
	if err := arity(args, 0, 0); err != nil {
		return ir.Value{}, err
	}
	p, err := receiverPeriod(recv)
	if err != nil {
		return ir.Value{}, err
	}
	if p.Forever {
		return ir.None(), nil
	}
	return ir.Instant(p.End), nil
}

func propLength(recv ir.Value, args []ir.Value) (ir.Value, error) {
	if err := arity(args, 0, 0); err != nil {
		return ir.Value{}, err
	}
	v, err := recv.Resolve()
	if err != nil {
		return ir.Value{}, err
	}
	switch v.Kind {
	case ir.KindList, ir.KindSet:
		return ir.Int(int64(len(v.Items()))), nil
	case ir.KindDict:
		return ir.Int(int64(len(v.Entries()))), nil
	case ir.KindString, ir.KindURI:
		s, _ := v.AsString()
		return ir.Int(int64(utf8.RuneCountInString(s))), nil
	}
	return ir.Value{}, fmt.Errorf("%s has no length", v.Kind)
}

func propContains(recv ir.Value, args []ir.Value) (ir.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return ir.Value{}, err
	}
	ok, err := contains(recv, args[0])
	if err != nil {
		return ir.Value{}, err
	}
	return ir.Bool(ok), nil
}
