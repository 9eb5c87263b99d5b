// Package analysis checks compiled rulesets without running them: arm
// reachability, exhaustiveness with witness construction, shape conflicts
// against declarations, and naming lints.
package analysis

import (
	"fmt"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one finding, positioned and coded for filtering.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Ruleset  string   `json:"ruleset"`
	Pos      string   `json:"pos"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: inspect %s: %s: %s", d.Severity, d.Code, d.Ruleset, d.Pos, d.Message)
}

// Report is the analysis result for one ruleset.
type Report struct {
	Ruleset     string       `json:"ruleset"`
	Exhaustive  bool         `json:"exhaustive"`
	Witness     string       `json:"witness,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// HasErrors reports whether any diagnostic is an error.
func (r *Report) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Check analyzes every ruleset in the library, in declaration order.
func Check(lib *match.Library) []*Report {
	var reports []*Report
	for _, name := range lib.Names() {
		rs, _ := lib.Ruleset(name)
		reports = append(reports, CheckRuleset(lib, rs))
	}
	return reports
}

// CheckRuleset analyzes one ruleset.
func CheckRuleset(lib *match.Library, rs *match.Ruleset) *Report {
	c := &checker{
		lib:        lib,
		rs:         rs,
		report:     &Report{Ruleset: rs.Name, Exhaustive: true},
		impossible: make(map[int]bool),
	}
	if len(rs.Arms) == 0 {
		c.diag(SeverityInfo, "empty-ruleset", rs.Pos, "ruleset has no arms; every subject is a no-match")
		c.report.Exhaustive = false
		return c.report
	}
	c.lintNames()
	for i, arm := range rs.Arms {
		c.curArm = i
		c.checkShapes(arm.Pattern, rs.Subject)
	}
	c.checkReachability()
	c.checkExhaustiveness()
	return c.report
}

type checker struct {
	lib    *match.Library
	rs     *match.Ruleset
	report *Report

	// impossible marks arms whose pattern conflicts with the declared
	// subject type; they are excluded from reachability and coverage.
	impossible map[int]bool
	curArm     int
}

func (c *checker) diag(sev Severity, code string, pos pattern.Pos, format string, args ...any) {
	if code == "impossible-pattern" || code == "undeclared-tag" {
		c.impossible[c.curArm] = true
	}
	c.report.Diagnostics = append(c.report.Diagnostics, Diagnostic{
		Severity: sev,
		Code:     code,
		Ruleset:  c.rs.Name,
		Pos:      pos.String(),
		Message:  fmt.Sprintf(format, args...),
	})
}

// lintNames applies the naming checks: unused bindings, bindings shadowing
// constants, and case conventions (bindings lower-case, tags upper-case).
func (c *checker) lintNames() {
	if pattern.IsTagName(c.rs.Name) {
		c.diag(SeverityWarning, "case-style", c.rs.Pos,
			"ruleset %q is tag-cased; rulesets are lower-case", c.rs.Name)
	}
	for i, arm := range c.rs.Arms {
		used := make(map[string]bool)
		collect := func(e pattern.Expr) {
			pattern.WalkExpr(e, func(n pattern.Expr) {
				if id, ok := n.(*pattern.Ident); ok {
					used[id.Name] = true
				}
			})
		}
		if arm.Guard != nil {
			collect(arm.Guard)
		}
		collect(arm.Result)

		pattern.Walk(arm.Pattern, func(n pattern.Pattern) {
			b, ok := n.(*pattern.Bind)
			if !ok {
				return
			}
			if pattern.IsTagName(b.Name) {
				c.diag(SeverityWarning, "case-style", b.Pos,
					"binding %q is tag-cased; bindings are lower-case (arm %d)", b.Name, i)
			}
			if _, isConst := c.lib.Consts[b.Name]; isConst {
				c.diag(SeverityWarning, "shadowed-constant", b.Pos,
					"binding %q shadows a constant (arm %d)", b.Name, i)
			}
			if !used[b.Name] {
				c.diag(SeverityWarning, "unused-binding", b.Pos,
					"binding %q is never used; replace it with _ (arm %d)", b.Name, i)
			}
		})
	}
}

// checkShapes walks a pattern with its declared type and flags conflicts
// that make the pattern unable to match any well-typed subject.
func (c *checker) checkShapes(p pattern.Pattern, t pattern.TypeExpr) {
	if t == nil {
		c.walkUntyped(p)
		return
	}
	if _, isAny := t.(pattern.AnyType); isAny {
		c.walkUntyped(p)
		return
	}
	switch n := p.(type) {
	case *pattern.Wildcard, *pattern.Bind:
	case *pattern.Literal:
		if !literalFits(n, t) {
			c.diag(SeverityWarning, "impossible-pattern", n.Position(),
				"literal %s can never match a %s subject", n.Val, t)
		}
	case *pattern.ExprPat:
		// Resolved constants get the same treatment as literals would,
		// but their shape mirrors the value; skip deep checks.
	case *pattern.TuplePat:
		switch tt := t.(type) {
		case pattern.TupleType:
			if len(n.Elems) != len(tt.Elems) {
				c.diag(SeverityWarning, "impossible-pattern", n.Pos,
					"pattern has %d elements but %s has %d", len(n.Elems), t, len(tt.Elems))
				return
			}
			for i, el := range n.Elems {
				c.checkShapes(el, tt.Elems[i])
			}
		case pattern.RecordType:
			if len(n.Elems) != len(tt.Fields) {
				c.diag(SeverityWarning, "impossible-pattern", n.Pos,
					"pattern has %d elements but %s has %d fields", len(n.Elems), t, len(tt.Fields))
				return
			}
			for i, el := range n.Elems {
				c.checkShapes(el, tt.Fields[i].Type)
			}
		default:
			c.diag(SeverityWarning, "impossible-pattern", n.Pos,
				"destructuring pattern can never match a %s subject", t)
		}
	case *pattern.RecordPat:
		tt, ok := t.(pattern.RecordType)
		if !ok {
			c.diag(SeverityWarning, "impossible-pattern", n.Pos,
				"designated pattern can never match a %s subject", t)
			return
		}
		for _, f := range n.Fields {
			ft := fieldType(tt, f.Name)
			if ft == nil {
				c.diag(SeverityWarning, "impossible-pattern", f.Pos,
					"%s has no field %q", t, f.Name)
				continue
			}
			c.checkShapes(f.Pattern, ft)
		}
	case *pattern.AltPat:
		decl, ok := c.lib.Decls.Resolve(t)
		if !ok {
			c.diag(SeverityWarning, "impossible-pattern", n.Pos,
				"alternative pattern can never match a %s subject", t)
			if n.Payload != nil {
				c.walkUntyped(n.Payload)
			}
			return
		}
		switch n.Sel.Kind {
		case pattern.AltByName:
			alt, declared := decl.Alt(n.Sel.Name)
			if !declared {
				c.diag(SeverityWarning, "undeclared-tag", n.Pos,
					"%s declares no alternative %q", decl.Name, n.Sel.Name)
				if n.Payload != nil {
					c.walkUntyped(n.Payload)
				}
				return
			}
			if n.Payload != nil {
				c.checkShapes(n.Payload, alt.Payload.Type())
			}
		case pattern.AltByIndex:
			if n.ResolvedTag != "" {
				if alt, declared := decl.Alt(n.ResolvedTag); declared && n.Payload != nil {
					c.checkShapes(n.Payload, alt.Payload.Type())
				}
			}
		case pattern.AltAny:
			if n.Payload != nil {
				c.walkUntyped(n.Payload)
			}
		}
	case *pattern.DerefPat:
		rt, ok := t.(pattern.RefType)
		if !ok {
			c.diag(SeverityWarning, "impossible-pattern", n.Pos,
				"dereference pattern can never match a %s subject", t)
			c.walkUntyped(n.Elem)
			return
		}
		c.checkShapes(n.Elem, rt.Elem)
	case *pattern.ExtractPat:
		// Extractor output is untyped.
		c.walkUntyped(n.Arg)
	}
}

// walkUntyped descends a pattern with no type information; only context-free
// lints apply there, which lintNames already covers.
func (c *checker) walkUntyped(p pattern.Pattern) {
	switch n := p.(type) {
	case *pattern.TuplePat:
		for _, el := range n.Elems {
			c.walkUntyped(el)
		}
	case *pattern.RecordPat:
		for _, f := range n.Fields {
			c.walkUntyped(f.Pattern)
		}
	case *pattern.AltPat:
		if n.Payload != nil {
			c.walkUntyped(n.Payload)
		}
	case *pattern.DerefPat:
		c.walkUntyped(n.Elem)
	case *pattern.ExtractPat:
		c.walkUntyped(n.Arg)
	}
}

func literalFits(n *pattern.Literal, t pattern.TypeExpr) bool {
	switch tt := t.(type) {
	case pattern.PrimType:
		k := n.Val.Kind()
		if tt.Kind == k {
			return true
		}
		// Ints and floats compare numerically.
		return (tt.Kind == value.KindInt || tt.Kind == value.KindFloat) &&
			(k == value.KindInt || k == value.KindFloat)
	case pattern.RefType:
		return n.Val.Kind() == value.KindRef // only `null` parses as a ref literal
	default:
		return false
	}
}

func fieldType(t pattern.RecordType, name string) pattern.TypeExpr {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type
		}
	}
	return nil
}
