// Package calc is the expression calculator built on the engine: infix text
// parses into Expr variant trees and the embedded calculator ruleset
// evaluates them, multiply-by-zero short-circuit included.
package calc

import (
	"context"
	_ "embed"
	"fmt"

	"matchbox/internal/match"
	"matchbox/internal/ruleset"
	"matchbox/internal/value"
)

//go:embed calculator.match
var calculatorSrc []byte

// Source returns the embedded calculator ruleset file.
func Source() []byte {
	src := make([]byte, len(calculatorSrc))
	copy(src, calculatorSrc)
	return src
}

// Calculator evaluates arithmetic through the embedded eval ruleset.
type Calculator struct {
	eng *match.Engine
	rs  *match.Ruleset
}

// New compiles the embedded ruleset. A nil engine gets defaults; pass a
// configured engine to trace or bound evaluation.
func New(eng *match.Engine) (*Calculator, error) {
	if eng == nil {
		var err error
		eng, err = match.NewEngine(nil)
		if err != nil {
			return nil, err
		}
	}
	f, err := ruleset.Parse("calculator.match", calculatorSrc)
	if err != nil {
		return nil, fmt.Errorf("embedded calculator: %w", err)
	}
	rs, ok := f.Library.Ruleset("eval")
	if !ok {
		return nil, fmt.Errorf("embedded calculator: eval ruleset missing")
	}
	return &Calculator{eng: eng, rs: rs}, nil
}

// Ruleset returns the compiled eval ruleset, for tracing and coverage.
func (c *Calculator) Ruleset() *match.Ruleset { return c.rs }

// Eval parses and evaluates infix source such as "2*(3+4)".
func (c *Calculator) Eval(ctx context.Context, src string) (int64, error) {
	expr, err := ParseExpr(src)
	if err != nil {
		return 0, err
	}
	return c.EvalExpr(ctx, expr)
}

// EvalExpr runs the eval ruleset over an Expr tree.
func (c *Calculator) EvalExpr(ctx context.Context, expr value.Value) (int64, error) {
	got, _, err := c.eng.Apply(ctx, c.rs, expr)
	if err != nil {
		return 0, err
	}
	n, ok := got.(value.Int)
	if !ok {
		return 0, fmt.Errorf("eval produced %s, want int", got.Kind())
	}
	return int64(n), nil
}

// IntExpr wraps n as an Expr leaf.
func IntExpr(n int64) value.Value { return value.NewVariant("int", value.Int(n)) }

// NegExpr negates e.
func NegExpr(e value.Value) value.Value {
	return value.NewVariant("Neg", value.MustRecord(
		value.Field{Name: "expr", Value: value.NewRef(e)},
	))
}

// AddExpr sums l and r.
func AddExpr(l, r value.Value) value.Value { return binExpr("Add", l, r) }

// MulExpr multiplies l and r.
func MulExpr(l, r value.Value) value.Value { return binExpr("Mul", l, r) }

func binExpr(tag string, l, r value.Value) value.Value {
	return value.NewVariant(tag, value.MustRecord(
		value.Field{Name: "lhs", Value: value.NewRef(l)},
		value.Field{Name: "rhs", Value: value.NewRef(r)},
	))
}
