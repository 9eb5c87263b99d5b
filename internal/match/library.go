package match

import (
	"fmt"
	"strings"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// Source is the input to Compile: declarations, constants, and parsed
// blocks, typically assembled from one ruleset file.
type Source struct {
	Name   string // label for error messages, usually the file path
	Decls  *pattern.Decls
	Consts map[string]value.Value
	Blocks []*pattern.RulesetAST
}

// Library is a compiled set of rulesets sharing declarations and constants.
// Sibling calls resolve within one library.
type Library struct {
	Decls  *pattern.Decls
	Consts map[string]value.Value

	rulesets map[string]*Ruleset
	order    []string
}

// Ruleset is one compiled `inspect` block.
type Ruleset struct {
	Name    string
	Subject pattern.TypeExpr // nil when unannotated
	Arms    []*Arm
	Pos     pattern.Pos

	lib *Library
}

// Library returns the owning library.
func (r *Ruleset) Library() *Library { return r.lib }

// Arm is one compiled arm.
type Arm struct {
	Pattern   pattern.Pattern
	Guard     pattern.Expr // nil when unguarded
	Result    pattern.Expr
	Pos       pattern.Pos
	BindNames []string
}

func (a *Arm) String() string {
	s := a.Pattern.String()
	if a.Guard != nil {
		s += " if " + a.Guard.String()
	}
	return s + " => " + a.Result.String()
}

// Ruleset looks up a compiled ruleset by name.
func (l *Library) Ruleset(name string) (*Ruleset, bool) {
	if l == nil {
		return nil, false
	}
	rs, ok := l.rulesets[name]
	return rs, ok
}

// Names returns ruleset names in declaration order.
func (l *Library) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// CompileError is one positioned compilation failure.
type CompileError struct {
	Source  string
	Ruleset string
	Pos     pattern.Pos
	Msg     string
}

func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	if e.Ruleset != "" {
		b.WriteString("inspect ")
		b.WriteString(e.Ruleset)
		b.WriteString(": ")
	}
	b.WriteString(e.Pos.String())
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// CompileErrorList collects every failure in a source, not just the first.
type CompileErrorList []*CompileError

func (l CompileErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

type compiler struct {
	lib      *Library
	source   string
	ruleset  string
	siblings map[string]bool
	errs     CompileErrorList
}

func (c *compiler) errorf(pos pattern.Pos, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{
		Source:  c.source,
		Ruleset: c.ruleset,
		Pos:     pos,
		Msg:     fmt.Sprintf(format, args...),
	})
}

// Compile turns a parsed source into a library: constants are materialized
// (nullary alternative tags become constants), expression patterns are
// evaluated, index alternatives are resolved against declarations, and
// duplicate bindings and unknown identifiers are rejected. All errors in the
// source are reported together.
func Compile(src Source) (*Library, error) {
	decls := src.Decls
	if decls == nil {
		decls = pattern.NewDecls()
	}
	lib := &Library{
		Decls:    decls,
		Consts:   make(map[string]value.Value),
		rulesets: make(map[string]*Ruleset),
	}
	c := &compiler{lib: lib, source: src.Name, siblings: make(map[string]bool)}

	for _, tag := range decls.NullaryTags() {
		lib.Consts[tag] = value.NewVariant(tag, nil)
	}
	for name, v := range src.Consts {
		if _, taken := lib.Consts[name]; taken {
			c.errorf(pattern.Pos{}, "constant %q collides with a nullary alternative tag", name)
			continue
		}
		lib.Consts[name] = v
	}

	for _, b := range src.Blocks {
		c.siblings[b.Name] = true
	}
	for _, b := range src.Blocks {
		c.ruleset = b.Name
		if _, dup := lib.rulesets[b.Name]; dup {
			c.errorf(b.Pos, "ruleset %q defined twice", b.Name)
			continue
		}
		rs := &Ruleset{Name: b.Name, Subject: b.Subject, Pos: b.Pos, lib: lib}
		if b.Subject != nil {
			c.checkTypeNames(b.Subject, b.Pos)
		}
		for _, armAST := range b.Arms {
			rs.Arms = append(rs.Arms, c.compileArm(armAST, b.Subject))
		}
		lib.rulesets[b.Name] = rs
		lib.order = append(lib.order, b.Name)
	}
	c.ruleset = ""

	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return lib, nil
}

// CompilePattern resolves a standalone pattern (expression patterns, index
// alternatives, duplicate bindings) outside any ruleset. Used by the single
// pattern CLI path and the playground.
func CompilePattern(p pattern.Pattern, decls *pattern.Decls, consts map[string]value.Value) error {
	if decls == nil {
		decls = pattern.NewDecls()
	}
	lib := &Library{Decls: decls, Consts: make(map[string]value.Value)}
	for _, tag := range decls.NullaryTags() {
		lib.Consts[tag] = value.NewVariant(tag, nil)
	}
	for name, v := range consts {
		lib.Consts[name] = v
	}
	c := &compiler{lib: lib, siblings: make(map[string]bool)}
	c.resolvePattern(p, nil)
	c.checkArmBindings(p)
	if len(c.errs) > 0 {
		return c.errs
	}
	return nil
}

func (c *compiler) compileArm(a *pattern.ArmAST, subject pattern.TypeExpr) *Arm {
	c.resolvePattern(a.Pattern, subject)
	c.checkArmBindings(a.Pattern)
	binds := uniqueNames(pattern.Bindings(a.Pattern))
	if a.Guard != nil {
		c.checkExpr(a.Guard, binds)
	}
	c.checkExpr(a.Result, binds)
	return &Arm{
		Pattern:   a.Pattern,
		Guard:     a.Guard,
		Result:    a.Result,
		Pos:       a.Pos,
		BindNames: binds,
	}
}

// resolvePattern walks p with the best-known type context, evaluating
// expression patterns and resolving index alternatives. A nil context means
// the type is unknown; only index alternatives require one.
func (c *compiler) resolvePattern(p pattern.Pattern, t pattern.TypeExpr) {
	if _, isAny := t.(pattern.AnyType); isAny {
		t = nil
	}
	switch n := p.(type) {
	case *pattern.ExprPat:
		v, err := evalConst(n.Expr, c.lib)
		if err != nil {
			c.errorf(n.Pos, "expression pattern: %v", err)
			return
		}
		n.Resolved = v
	case *pattern.TuplePat:
		for i, el := range n.Elems {
			c.resolvePattern(el, elemType(t, i))
		}
	case *pattern.RecordPat:
		for _, f := range n.Fields {
			c.resolvePattern(f.Pattern, fieldType(t, f.Name))
		}
	case *pattern.DerefPat:
		var elem pattern.TypeExpr
		if rt, ok := t.(pattern.RefType); ok {
			elem = rt.Elem
		}
		c.resolvePattern(n.Elem, elem)
	case *pattern.AltPat:
		decl, _ := c.lib.Decls.Resolve(orNil(t))
		var payloadType pattern.TypeExpr
		switch n.Sel.Kind {
		case pattern.AltByIndex:
			if decl == nil {
				c.errorf(n.Pos, "alternative index <%d> needs a declared subject type", n.Sel.Index)
			} else if n.Sel.Index < 0 || n.Sel.Index >= len(decl.Alts) {
				c.errorf(n.Pos, "alternative index <%d> out of range for %s (%d alternatives)",
					n.Sel.Index, decl.Name, len(decl.Alts))
			} else {
				alt := decl.Alts[n.Sel.Index]
				n.ResolvedTag = alt.Tag
				payloadType = alt.Payload.Type()
			}
		case pattern.AltByName:
			if decl != nil {
				if alt, ok := decl.Alt(n.Sel.Name); ok {
					payloadType = alt.Payload.Type()
				}
				// An undeclared tag is an analysis warning, not a
				// compile failure: matching is tag-wise at runtime.
			}
		case pattern.AltAny:
		}
		if n.Payload != nil {
			c.resolvePattern(n.Payload, payloadType)
		}
	case *pattern.ExtractPat:
		c.resolvePattern(n.Arg, nil)
	}
}

func orNil(t pattern.TypeExpr) pattern.TypeExpr {
	if t == nil {
		return pattern.AnyType{}
	}
	return t
}

func elemType(t pattern.TypeExpr, i int) pattern.TypeExpr {
	switch tt := t.(type) {
	case pattern.TupleType:
		if i < len(tt.Elems) {
			return tt.Elems[i]
		}
	case pattern.RecordType:
		if i < len(tt.Fields) {
			return tt.Fields[i].Type
		}
	}
	return nil
}

func fieldType(t pattern.TypeExpr, name string) pattern.TypeExpr {
	if rt, ok := t.(pattern.RecordType); ok {
		for _, f := range rt.Fields {
			if f.Name == name {
				return f.Type
			}
		}
	}
	return nil
}

func (c *compiler) checkArmBindings(p pattern.Pattern) {
	seen := make(map[string]pattern.Pos)
	pattern.Walk(p, func(n pattern.Pattern) {
		b, ok := n.(*pattern.Bind)
		if !ok {
			return
		}
		if first, dup := seen[b.Name]; dup {
			c.errorf(b.Pos, "binding %q already introduced at %s in the same arm", b.Name, first)
			return
		}
		seen[b.Name] = b.Pos
	})
}

func (c *compiler) checkTypeNames(t pattern.TypeExpr, pos pattern.Pos) {
	switch tt := t.(type) {
	case pattern.NamedType:
		if _, ok := c.lib.Decls.Variant(tt.Name); !ok {
			c.errorf(pos, "type %q is not declared", tt.Name)
		}
	case pattern.RefType:
		c.checkTypeNames(tt.Elem, pos)
	case pattern.TupleType:
		for _, e := range tt.Elems {
			c.checkTypeNames(e, pos)
		}
	case pattern.RecordType:
		for _, f := range tt.Fields {
			c.checkTypeNames(f.Type, pos)
		}
	}
}

// checkExpr validates identifier and call references in guards and results.
// Extractor calls cannot be verified statically (plugins register at
// runtime) and are deferred.
func (c *compiler) checkExpr(e pattern.Expr, binds []string) {
	bound := make(map[string]bool, len(binds))
	for _, b := range binds {
		bound[b] = true
	}
	pattern.WalkExpr(e, func(n pattern.Expr) {
		switch x := n.(type) {
		case *pattern.Ident:
			if bound[x.Name] {
				return
			}
			if _, ok := c.lib.Consts[x.Name]; ok {
				return
			}
			c.errorf(x.Pos, "unknown identifier %q", x.Name)
		case *pattern.Call:
			c.checkCall(x)
		case *pattern.VariantExpr:
			c.checkVariantExpr(x)
		}
	})
}

func (c *compiler) checkCall(x *pattern.Call) {
	if x.Name == "self" || c.siblings[x.Name] {
		if len(x.Args) != 1 {
			c.errorf(x.Pos, "%s takes one argument, got %d", x.Name, len(x.Args))
		}
		return
	}
	if pattern.IsTagName(x.Name) || c.declaredTag(x.Name) {
		if _, alt, ok := c.lib.Decls.AltFor(x.Name); ok {
			if len(x.Args) != alt.Payload.Arity() {
				c.errorf(x.Pos, "constructor %s takes %d arguments, got %d",
					x.Name, alt.Payload.Arity(), len(x.Args))
			}
		}
		return
	}
	if want, ok := builtinArity[x.Name]; ok {
		if len(x.Args) != want {
			c.errorf(x.Pos, "%s takes %d arguments, got %d", x.Name, want, len(x.Args))
		}
	}
	// Anything else may be an extractor registered at runtime.
}

func (c *compiler) checkVariantExpr(x *pattern.VariantExpr) {
	_, alt, ok := c.lib.Decls.AltFor(x.Tag)
	if !ok {
		return
	}
	if alt.Payload.Kind != pattern.PayloadRecord {
		c.errorf(x.Pos, "%s does not take named fields", x.Tag)
		return
	}
	declared := make(map[string]bool, len(alt.Payload.Fields))
	for _, f := range alt.Payload.Fields {
		declared[f.Name] = true
	}
	for _, f := range x.Fields {
		if !declared[f.Name] {
			c.errorf(f.Pos, "%s has no field %q", x.Tag, f.Name)
		}
	}
	if len(x.Fields) != len(alt.Payload.Fields) {
		c.errorf(x.Pos, "%s takes %d fields, got %d", x.Tag, len(alt.Payload.Fields), len(x.Fields))
	}
}

func (c *compiler) declaredTag(name string) bool {
	_, _, ok := c.lib.Decls.AltFor(name)
	return ok
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
