package engine

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// RuleOutcome is what evaluating one rule produced.
type RuleOutcome struct {
	Rule     string
	Messages []ir.Message
	Stats    Stats
}

// EvaluateRule runs one rule to completion in a fresh Context and returns
// its de-duplicated messages. Seq is left for the caller to assign.
//
// A processing error aborts only this rule; a panic inside the evaluation
// is recovered and reported as INTERNAL.
func EvaluateRule(ctx context.Context, env *Env, runID string, r *ast.Rule) (out RuleOutcome, err error) {
	out.Rule = r.Name
	c := NewContext(ctx, env, r.Name)
	defer func() {
		out.Stats = c.stats
		if p := recover(); p != nil {
			c.logger().Error("rule panicked", "rule", r.Name, "panic", p, "stack", string(debug.Stack()))
			out.Messages = nil
			err = &ProcessingError{
				Code:    ErrCodeInternal,
				Message: fmt.Sprintf("panic: %v", p),
				Rule:    r.Name,
			}
		}
	}()

	h, leave, err := c.enter(r.ID)
	if err != nil {
		return out, withRule(err, r.Name)
	}
	defer leave()

	seen := make(map[string]bool)
	for !c.tables.Exhausted(h) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := c.step(); err != nil {
			return out, withRule(err, r.Name)
		}
		res, err := c.Evaluate(r.Expr)
		if err != nil {
			return out, withRule(err, r.Name)
		}
		switch res.State {
		case Realign:
			return out, &ProcessingError{
				Code:    ErrCodeRealignEscaped,
				Message: fmt.Sprintf("alignment %s discovered outside a factset", res.Alignment),
				Rule:    r.Name,
			}
		case Bound:
			msg, ok, err := c.message(r, h, runID, res.Value)
			if err != nil {
				return out, withRule(err, r.Name)
			}
			if ok && !seen[msg.ID] {
				seen[msg.ID] = true
				out.Messages = append(out.Messages, msg)
			}
		}
		if err := c.tables.Next(h); err != nil {
			return out, withRule(err, r.Name)
		}
	}

	c.logger().Debug("rule evaluated",
		"rule", r.Name,
		"results", len(out.Messages),
		"iterations", c.stats.Iterations,
		"evaluations", c.stats.Evaluations,
		"cache_hits", c.stats.CacheHits,
	)
	return out, nil
}

// message turns one iteration's value into a message. ok is false when the
// iteration produces no output: a false assertion, or a result under
// no alignment that only exists through a factset default.
func (c *Context) message(r *ast.Rule, h TableHandle, runID string, v ir.Value) (ir.Message, bool, error) {
	acc := c.tables.acc(h)
	align := c.tables.CurrentAlignment(h)
	if align.IsNone() {
		if acc.alignedOnly || v.AlignedResultOnly {
			return ir.Message{}, false, nil
		}
		align = v.Alignment
	}

	if r.Assert {
		b, ok := asBool(v)
		if !ok {
			return ir.Message{}, false, newError(ErrCodeTypeMismatch, r.Expr.ID, "assertion must be a boolean, got %s", v.Kind)
		}
		if !b {
			return ir.Message{}, false, nil
		}
	}

	facts := slices.Clone(ir.MergeFacts(acc.facts, v.Facts))
	slices.Sort(facts)
	tags := maps.Clone(acc.tags)
	if len(v.Tags) > 0 {
		if tags == nil {
			tags = make(map[string]ir.Value, len(v.Tags))
		}
		maps.Copy(tags, v.Tags)
	}

	resolved, err := v.Resolve()
	if err != nil {
		return ir.Message{}, false, newError(ErrCodeBadArgument, r.Expr.ID, "%v", err)
	}
	resolved.Alignment = align
	resolved.Facts = facts
	resolved.Tags = nil

	id, err := ir.ResultID(runID, r.Name, resolved, align, facts)
	if err != nil {
		return ir.Message{}, false, newError(ErrCodeInternal, r.Expr.ID, "%v", err)
	}
	return ir.Message{
		ID:        id,
		RunID:     runID,
		Rule:      r.Name,
		Severity:  r.Severity,
		Template:  r.Message,
		Location:  ir.Location{File: r.Pos.File, Line: r.Pos.Line, Column: r.Pos.Column},
		Value:     resolved,
		Alignment: align,
		Facts:     facts,
		Tags:      tags,
	}, true, nil
}
