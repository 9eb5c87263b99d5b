package ruleset

import (
	"strings"
	"testing"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

const calcFile = `---
name: calculator
types:
  Expr: "int(int) | Neg{expr: &Expr} | Add{lhs: &Expr, rhs: &Expr} | Mul{lhs: &Expr, rhs: &Expr}"
consts:
  answer: 6 * 7
---

inspect eval : Expr {
  <int> i => i,
  <Neg> [*e] => -self(e),
  <Add> [*l, *r] => self(l) + self(r),
  <Mul> [*l, *r] => self(l) * self(r),
}
`

func TestParseCalculatorFile(t *testing.T) {
	f, err := Parse("calculator.match", []byte(calcFile))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Name != "calculator" {
		t.Errorf("Name = %q, want %q", f.Name, "calculator")
	}
	if _, ok := f.Library.Ruleset("eval"); !ok {
		t.Fatalf("ruleset eval not compiled")
	}
	decl, ok := f.Library.Decls.Variant("Expr")
	if !ok {
		t.Fatalf("type Expr not declared")
	}
	if len(decl.Alts) != 4 {
		t.Errorf("Expr has %d alternatives, want 4", len(decl.Alts))
	}
	got, ok := f.Library.Consts["answer"]
	if !ok {
		t.Fatalf("constant answer not defined")
	}
	if !value.Equal(got, value.Int(42)) {
		t.Errorf("answer = %s, want 42", got)
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	f, err := Parse("plain.match", []byte("inspect id { x => x }"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Name != "plain" {
		t.Errorf("Name = %q, want the file stem", f.Name)
	}
	if _, ok := f.Library.Ruleset("id"); !ok {
		t.Errorf("ruleset id not compiled")
	}
}

func TestParseReportsFileLines(t *testing.T) {
	src := `---
name: oops
---
inspect f {
  ^zzz => 1,
}
`
	_, err := Parse("oops.match", []byte(src))
	if err == nil {
		t.Fatalf("Parse() = nil error, want compile failure")
	}
	// The frontmatter spans lines 1-3, so the bad expression pattern sits
	// on file line 5.
	if !strings.Contains(err.Error(), "5:3") {
		t.Errorf("error %q does not point at line 5", err)
	}
}

func TestParseUnterminatedFrontmatter(t *testing.T) {
	_, err := Parse("bad.match", []byte("---\nname: x\n"))
	if err == nil || !strings.Contains(err.Error(), "not terminated") {
		t.Errorf("Parse() error = %v, want unterminated frontmatter", err)
	}
}

func TestParseConstantsSeeEarlierConstantsAndTags(t *testing.T) {
	src := `---
types:
  Color: R | B
consts:
  base: 2
  scaled: base * 3
  default_color: R
---
inspect f : Color { _ => scaled }
`
	f, err := Parse("consts.match", []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := f.Library.Consts["scaled"]; !value.Equal(got, value.Int(6)) {
		t.Errorf("scaled = %s, want 6", got)
	}
	if got := f.Library.Consts["default_color"]; !value.Equal(got, value.NewVariant("R", nil)) {
		t.Errorf("default_color = %s, want R", got)
	}
}

func TestParsePayloadShapes(t *testing.T) {
	src := `---
types:
  Shape: "Point | Circle(float) | Rect(float, float) | Label{text: string, size: int}"
---
inspect f : Shape { _ => 0 }
`
	f, err := Parse("shapes.match", []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	decl, _ := f.Library.Decls.Variant("Shape")
	wantKinds := []pattern.PayloadKind{
		pattern.PayloadNone, pattern.PayloadSingle, pattern.PayloadTuple, pattern.PayloadRecord,
	}
	if len(decl.Alts) != len(wantKinds) {
		t.Fatalf("Shape has %d alternatives, want %d", len(decl.Alts), len(wantKinds))
	}
	for i, want := range wantKinds {
		if decl.Alts[i].Payload.Kind != want {
			t.Errorf("alternative %d payload kind = %d, want %d", i, decl.Alts[i].Payload.Kind, want)
		}
	}
}

func TestParseTypesMustBeAMapping(t *testing.T) {
	src := "---\ntypes: 5\n---\ninspect f { _ => 0 }\n"
	_, err := Parse("bad.match", []byte(src))
	if err == nil || !strings.Contains(err.Error(), "expected a mapping") {
		t.Errorf("Parse() error = %v, want mapping error", err)
	}
}

func TestParseDuplicateRuleset(t *testing.T) {
	src := "inspect f { _ => 0 }\n\ninspect f { _ => 1 }\n"
	_, err := Parse("dup.match", []byte(src))
	if err == nil || !strings.Contains(err.Error(), "defined twice") {
		t.Errorf("Parse() error = %v, want duplicate ruleset", err)
	}
}
