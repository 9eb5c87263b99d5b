package analysis

import (
	"testing"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

func exprDecls(t *testing.T) *pattern.Decls {
	t.Helper()
	d := pattern.NewDecls()
	refExpr := pattern.RefType{Elem: pattern.NamedType{Name: "Expr"}}
	err := d.Add(&pattern.VariantDecl{Name: "Expr", Alts: []pattern.Alt{
		{Tag: "int", Payload: pattern.Payload{Kind: pattern.PayloadSingle, Single: pattern.PrimType{Kind: value.KindInt}}},
		{Tag: "Neg", Payload: pattern.Payload{Kind: pattern.PayloadRecord, Fields: []pattern.TypeField{
			{Name: "expr", Type: refExpr},
		}}},
		{Tag: "Add", Payload: pattern.Payload{Kind: pattern.PayloadRecord, Fields: []pattern.TypeField{
			{Name: "lhs", Type: refExpr}, {Name: "rhs", Type: refExpr},
		}}},
		{Tag: "Mul", Payload: pattern.Payload{Kind: pattern.PayloadRecord, Fields: []pattern.TypeField{
			{Name: "lhs", Type: refExpr}, {Name: "rhs", Type: refExpr},
		}}},
	}})
	if err != nil {
		t.Fatalf("Decls.Add() error = %v", err)
	}
	return d
}

func treeDecls(t *testing.T) *pattern.Decls {
	t.Helper()
	d := pattern.NewDecls()
	refTree := pattern.RefType{Elem: pattern.NamedType{Name: "Tree"}}
	if err := d.Add(&pattern.VariantDecl{Name: "Color", Alts: []pattern.Alt{
		{Tag: "R"}, {Tag: "B"},
	}}); err != nil {
		t.Fatalf("Decls.Add() error = %v", err)
	}
	if err := d.Add(&pattern.VariantDecl{Name: "Tree", Alts: []pattern.Alt{
		{Tag: "E"},
		{Tag: "V", Payload: pattern.Payload{Kind: pattern.PayloadTuple, Elems: []pattern.TypeExpr{
			pattern.NamedType{Name: "Color"}, refTree, pattern.AnyType{}, refTree,
		}}},
	}}); err != nil {
		t.Fatalf("Decls.Add() error = %v", err)
	}
	return d
}

func checkSrc(t *testing.T, decls *pattern.Decls, src string) *Report {
	t.Helper()
	blocks, err := pattern.ParseBlocks(src, 1)
	if err != nil {
		t.Fatalf("ParseBlocks() error = %v", err)
	}
	lib, err := match.Compile(match.Source{Decls: decls, Blocks: blocks})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	reports := Check(lib)
	if len(reports) == 0 {
		t.Fatalf("Check() produced no reports")
	}
	return reports[0]
}

func hasCode(r *Report, code string) bool {
	for _, d := range r.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestCalculatorMissesNullRefs(t *testing.T) {
	src := `
inspect eval : Expr {
  <int> i => i,
  <Neg> [*e] => -self(e),
  <Add> [*l, *r] => self(l) + self(r),
  <Mul> [*<int> 0, _] => 0,
  <Mul> [_, *<int> 0] => 0,
  <Mul> [*l, *r] => self(l) * self(r),
}
`
	r := checkSrc(t, exprDecls(t), src)

	// The specialized zero arms come before the general multiply arm; none
	// of the six is shadowed.
	if hasCode(r, "unreachable-arm") {
		t.Errorf("unexpected unreachable-arm diagnostic: %+v", r.Diagnostics)
	}
	// Every deref arm silently skips null refs, so the ruleset cannot be
	// exhaustive: a Neg holding a null ref falls through.
	if r.Exhaustive {
		t.Fatalf("Exhaustive = true, want false")
	}
	if r.Witness != "<Neg> [expr: null]" {
		t.Errorf("Witness = %q, want %q", r.Witness, "<Neg> [expr: null]")
	}
	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Code != "non-exhaustive" {
		t.Errorf("Diagnostics = %+v, want a single non-exhaustive warning", r.Diagnostics)
	}
}

func TestBalanceIsCleanAndExhaustive(t *testing.T) {
	src := `
inspect balance : [Color, &Tree, any, &Tree] {
  [^B, *<V> [^R, *<V> [^R, a, x, b], y, c], z, d] => V(R, &V(B, a, x, b), y, &V(B, c, z, d)),
  [^B, *<V> [^R, a, x, *<V> [^R, b, y, c]], z, d] => V(R, &V(B, a, x, b), y, &V(B, c, z, d)),
  [^B, a, x, *<V> [^R, *<V> [^R, b, y, c], z, d]] => V(R, &V(B, a, x, b), y, &V(B, c, z, d)),
  [^B, a, x, *<V> [^R, b, y, *<V> [^R, c, z, d]]] => V(R, &V(B, a, x, b), y, &V(B, c, z, d)),
  [color, a, x, b] => V(color, a, x, b),
}
`
	r := checkSrc(t, treeDecls(t), src)
	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (trailing arm binds everything)")
	}
}

func TestBoolCoverage(t *testing.T) {
	r := checkSrc(t, nil, "inspect f : bool { true => 1, false => 2, _ => 3 }")
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true")
	}
	if !hasCode(r, "unreachable-arm") {
		t.Fatalf("Diagnostics = %+v, want unreachable-arm for the trailing wildcard", r.Diagnostics)
	}

	r = checkSrc(t, nil, "inspect g : bool { true => 1 }")
	if r.Exhaustive {
		t.Fatalf("Exhaustive = true, want false")
	}
	if r.Witness != "false" {
		t.Errorf("Witness = %q, want %q", r.Witness, "false")
	}
}

func TestGuardedArmsDoNotCover(t *testing.T) {
	r := checkSrc(t, nil, "inspect f : int { x if x > 0 => x, x => x }")
	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true")
	}

	// Reversed, the unconditional arm shadows the guarded one.
	r = checkSrc(t, nil, "inspect g : int { x => x, x if x > 0 => x }")
	if !hasCode(r, "unreachable-arm") {
		t.Errorf("Diagnostics = %+v, want unreachable-arm", r.Diagnostics)
	}
}

func TestRefCoverage(t *testing.T) {
	r := checkSrc(t, nil, "inspect f : &int { null => 0, *n => n }")
	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (null and deref split the ref space)")
	}
}

func TestScalarWitnesses(t *testing.T) {
	r := checkSrc(t, nil, "inspect f : int { 0 => 0, 1 => 1 }")
	if r.Exhaustive {
		t.Fatalf("Exhaustive = true, want false")
	}
	if r.Witness != "2" {
		t.Errorf("int Witness = %q, want %q", r.Witness, "2")
	}

	r = checkSrc(t, nil, `inspect g : string { "" => 0, "a" => 1 }`)
	if r.Witness != `"b"` {
		t.Errorf("string Witness = %q, want %q", r.Witness, `"b"`)
	}
}

func TestUnusedBindingLint(t *testing.T) {
	r := checkSrc(t, nil, "inspect f { [a, b] => a }")
	found := false
	for _, d := range r.Diagnostics {
		if d.Code == "unused-binding" {
			found = true
			if want := `binding "b" is never used; replace it with _ (arm 0)`; d.Message != want {
				t.Errorf("message = %q, want %q", d.Message, want)
			}
		}
	}
	if !found {
		t.Fatalf("Diagnostics = %+v, want unused-binding", r.Diagnostics)
	}
}

func TestCaseAndShadowLints(t *testing.T) {
	r := checkSrc(t, treeDecls(t), "inspect f { R => R }")
	if !hasCode(r, "case-style") {
		t.Errorf("Diagnostics = %+v, want case-style for tag-cased binding", r.Diagnostics)
	}
	if !hasCode(r, "shadowed-constant") {
		t.Errorf("Diagnostics = %+v, want shadowed-constant (R is a nullary tag)", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (a binding covers everything)")
	}
}

func TestUndeclaredTagLint(t *testing.T) {
	r := checkSrc(t, treeDecls(t), "inspect f : Color { <Purple> => 1, _ => 2 }")
	if !hasCode(r, "undeclared-tag") {
		t.Fatalf("Diagnostics = %+v, want undeclared-tag", r.Diagnostics)
	}
	if hasCode(r, "unreachable-arm") {
		t.Errorf("impossible arm must not also be reported unreachable: %+v", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (the wildcard arm covers Color)")
	}
}

func TestImpossibleShape(t *testing.T) {
	r := checkSrc(t, nil, "inspect f : int { [a, b] => a + b, x => x }")
	if !hasCode(r, "impossible-pattern") {
		t.Fatalf("Diagnostics = %+v, want impossible-pattern", r.Diagnostics)
	}
	if hasCode(r, "unreachable-arm") {
		t.Errorf("impossible arm must not also be reported unreachable: %+v", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true")
	}
}

func TestIndexAlternativesCover(t *testing.T) {
	r := checkSrc(t, treeDecls(t), `inspect color_name : Color { <0> => "red", <1> => "black" }`)
	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (indexes resolve to R and B)")
	}
}

func TestAnyAlternativeCovers(t *testing.T) {
	r := checkSrc(t, treeDecls(t), "inspect f : Color { <_> => 1 }")
	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (<_> accepts every alternative)")
	}
}

func TestDesignatedRecordCoverage(t *testing.T) {
	r := checkSrc(t, nil, "inspect f : {lhs: int, rhs: int} { [lhs: 0] => 0, [rhs: r] => r }")
	if len(r.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", r.Diagnostics)
	}
	if !r.Exhaustive {
		t.Errorf("Exhaustive = false, want true (the second arm is total)")
	}
}

func TestEmptyRuleset(t *testing.T) {
	r := checkSrc(t, nil, "inspect f { }")
	if !hasCode(r, "empty-ruleset") {
		t.Fatalf("Diagnostics = %+v, want empty-ruleset", r.Diagnostics)
	}
	if r.Exhaustive {
		t.Errorf("Exhaustive = true, want false")
	}
}

func TestCheckReportsEveryRuleset(t *testing.T) {
	src := `
inspect a : int { _ => 0 }

inspect b : int { 0 => 0 }
`
	blocks, err := pattern.ParseBlocks(src, 1)
	if err != nil {
		t.Fatalf("ParseBlocks() error = %v", err)
	}
	lib, err := match.Compile(match.Source{Blocks: blocks})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	reports := Check(lib)
	if len(reports) != 2 {
		t.Fatalf("Check() returned %d reports, want 2", len(reports))
	}
	if reports[0].Ruleset != "a" || reports[1].Ruleset != "b" {
		t.Errorf("report order = %s, %s; want a, b", reports[0].Ruleset, reports[1].Ruleset)
	}
	if !reports[0].Exhaustive {
		t.Errorf("a: Exhaustive = false, want true")
	}
	if reports[1].Exhaustive {
		t.Errorf("b: Exhaustive = true, want false")
	}
}
