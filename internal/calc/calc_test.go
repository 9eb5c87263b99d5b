package calc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"matchbox/internal/match"
	"matchbox/internal/value"
)

func newTestCalculator(t *testing.T, eng *match.Engine) *Calculator {
	t.Helper()
	c, err := New(eng)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestEval(t *testing.T) {
	c := newTestCalculator(t, nil)
	cases := []struct {
		src  string
		want int64
	}{
		{"0", 0},
		{"42", 42},
		{"-3", -3},
		{"--3", 3},
		{"1+2", 3},
		{"10-3", 7},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"2*(3+4)", 14},
		{"-(2*7)", -14},
		{" 2 * ( 3 + 4 ) ", 14},
		{"1-2-3", -4},
		{"2*-3", -6},
	}
	for _, tc := range cases {
		got, err := c.Eval(context.Background(), tc.src)
		if err != nil {
			t.Errorf("Eval(%q) error = %v", tc.src, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %d, want %d", tc.src, got, tc.want)
		}
	}
}

func TestParseExprShape(t *testing.T) {
	got, err := ParseExpr("2+3*4")
	if err != nil {
		t.Fatalf("ParseExpr() error = %v", err)
	}
	want := AddExpr(IntExpr(2), MulExpr(IntExpr(3), IntExpr(4)))
	if !value.Equal(got, want) {
		t.Errorf("ParseExpr(2+3*4) = %s, want %s", got, want)
	}

	got, err = ParseExpr("10-3")
	if err != nil {
		t.Fatalf("ParseExpr() error = %v", err)
	}
	want = AddExpr(IntExpr(10), NegExpr(IntExpr(3)))
	if !value.Equal(got, want) {
		t.Errorf("ParseExpr(10-3) = %s, want %s", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src     string
		wantErr string
	}{
		{"", "expected an expression"},
		{"2*", "expected an expression"},
		{"(1", "missing ')'"},
		{"a+1", "unexpected"},
		{"1 2", "unexpected"},
	}
	for _, tc := range cases {
		_, err := ParseExpr(tc.src)
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("ParseExpr(%q) error = %v, want %q", tc.src, err, tc.wantErr)
		}
	}
}

// The zero arms sit above the general product, so a zero operand must win
// without the sibling ever being evaluated.
func TestMulByZeroSkipsSibling(t *testing.T) {
	col := match.NewCollector()
	eng, err := match.NewEngine(&match.Config{Tracer: col})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	c := newTestCalculator(t, eng)

	got, err := c.Eval(context.Background(), "0*(3+4)")
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("Eval(0*(3+4)) = %d, want 0", got)
	}
	for _, ev := range col.Events() {
		if ev.Depth > 0 {
			t.Fatalf("sibling operand was evaluated: %+v", ev)
		}
	}

	// The same product with a nonzero left operand does recurse.
	col.Reset()
	if _, err := c.Eval(context.Background(), "2*(3+4)"); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	deep := false
	for _, ev := range col.Events() {
		if ev.Depth > 0 {
			deep = true
			break
		}
	}
	if !deep {
		t.Error("expected recursive evaluation for 2*(3+4)")
	}
}

func TestDeepChainsHitDepthLimit(t *testing.T) {
	c := newTestCalculator(t, nil)
	src := strings.Repeat("1+", 200) + "1"
	_, err := c.Eval(context.Background(), src)
	if !errors.Is(err, match.ErrDepthExceeded) {
		t.Errorf("Eval(deep chain) error = %v, want ErrDepthExceeded", err)
	}
}

func TestEvalExprDirect(t *testing.T) {
	c := newTestCalculator(t, nil)
	// -(2 * (3 + 4))
	expr := NegExpr(MulExpr(IntExpr(2), AddExpr(IntExpr(3), IntExpr(4))))
	got, err := c.EvalExpr(context.Background(), expr)
	if err != nil {
		t.Fatalf("EvalExpr() error = %v", err)
	}
	if got != -14 {
		t.Errorf("EvalExpr() = %d, want -14", got)
	}
}
