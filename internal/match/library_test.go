package match

import (
	"strings"
	"testing"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

func compileErr(t *testing.T, decls *pattern.Decls, consts map[string]value.Value, src string) CompileErrorList {
	t.Helper()
	blocks, err := pattern.ParseBlocks(src, 1)
	if err != nil {
		t.Fatalf("ParseBlocks() error = %v", err)
	}
	_, err = Compile(Source{Decls: decls, Consts: consts, Blocks: blocks})
	if err == nil {
		t.Fatalf("Compile() = nil error, want compile errors")
	}
	list, ok := err.(CompileErrorList)
	if !ok {
		t.Fatalf("Compile() error type = %T, want CompileErrorList", err)
	}
	return list
}

func TestCompileDuplicateBinding(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f { [a, a] => a }")
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Msg, "already introduced") {
		t.Errorf("error %q does not flag the duplicate binding", errs[0].Msg)
	}
}

func TestCompileUnknownIdentifier(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f { x => y }")
	if !strings.Contains(errs.Error(), `unknown identifier "y"`) {
		t.Errorf("errors %q do not flag the unknown identifier", errs.Error())
	}
}

func TestCompileIndexNeedsDeclaredType(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f { <0> x => x }")
	if !strings.Contains(errs.Error(), "needs a declared subject type") {
		t.Errorf("errors %q do not flag the unresolved index", errs.Error())
	}
}

func TestCompileIndexOutOfRange(t *testing.T) {
	errs := compileErr(t, treeDecls(t), nil, "inspect f : Color { <9> => 1 }")
	if !strings.Contains(errs.Error(), "out of range") {
		t.Errorf("errors %q do not flag the range", errs.Error())
	}
}

func TestCompileConstructorArity(t *testing.T) {
	errs := compileErr(t, exprDecls(t), nil, "inspect f : Expr { <Add> [*l, *r] => Add(l) }")
	if !strings.Contains(errs.Error(), "takes 2 arguments, got 1") {
		t.Errorf("errors %q do not flag constructor arity", errs.Error())
	}
}

func TestCompileVariantFieldCheck(t *testing.T) {
	errs := compileErr(t, exprDecls(t), nil, "inspect f : Expr { <Add> [*l, *r] => Add{lhs: &l} }")
	if !strings.Contains(errs.Error(), "takes 2 fields, got 1") {
		t.Errorf("errors %q do not flag the missing field", errs.Error())
	}
}

func TestCompileConstCollidesWithTag(t *testing.T) {
	errs := compileErr(t, treeDecls(t), map[string]value.Value{"R": value.Int(1)},
		"inspect f { _ => 1 }")
	if !strings.Contains(errs.Error(), "collides") {
		t.Errorf("errors %q do not flag the collision", errs.Error())
	}
}

func TestCompileUnknownConstInExprPattern(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f { ^zzz => 1, _ => 0 }")
	if !strings.Contains(errs.Error(), "expression pattern") {
		t.Errorf("errors %q do not flag the expression pattern", errs.Error())
	}
}

func TestCompileDuplicateRuleset(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f { _ => 1 }\ninspect f { _ => 2 }")
	if !strings.Contains(errs.Error(), "defined twice") {
		t.Errorf("errors %q do not flag the duplicate ruleset", errs.Error())
	}
}

func TestCompileUndeclaredSubjectType(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f : Zzz { _ => 1 }")
	if !strings.Contains(errs.Error(), "not declared") {
		t.Errorf("errors %q do not flag the type", errs.Error())
	}
}

func TestCompileCollectsAllErrors(t *testing.T) {
	src := `
inspect f {
  [a, a] => a,
  x => zzz,
}
`
	errs := compileErr(t, nil, nil, src)
	if len(errs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(errs), errs)
	}
}

func TestCompileConstants(t *testing.T) {
	src := `
inspect at_limit {
  ^limit => true,
  _ => false,
}
`
	blocks, err := pattern.ParseBlocks(src, 1)
	if err != nil {
		t.Fatalf("ParseBlocks() error = %v", err)
	}
	lib, err := Compile(Source{
		Consts: map[string]value.Value{"limit": value.Int(10)},
		Blocks: blocks,
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	rs, _ := lib.Ruleset("at_limit")
	exprPat := rs.Arms[0].Pattern.(*pattern.ExprPat)
	if !value.Equal(exprPat.Resolved, value.Int(10)) {
		t.Errorf("resolved constant = %s, want 10", exprPat.Resolved)
	}
}

func TestCompileSelfArity(t *testing.T) {
	errs := compileErr(t, nil, nil, "inspect f { x => self(x, x) }")
	if !strings.Contains(errs.Error(), "one argument") {
		t.Errorf("errors %q do not flag self arity", errs.Error())
	}
}

func TestLibraryNamesOrder(t *testing.T) {
	blocks, err := pattern.ParseBlocks("inspect b { _ => 1 }\ninspect a { _ => 2 }", 1)
	if err != nil {
		t.Fatalf("ParseBlocks() error = %v", err)
	}
	lib, err := Compile(Source{Blocks: blocks})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	names := lib.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("Names() = %v, want [b a] in declaration order", names)
	}
}
