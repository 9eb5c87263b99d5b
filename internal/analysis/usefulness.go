package analysis

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// Reachability and exhaustiveness run a pattern-matrix usefulness analysis.
// Patterns are abstracted to trees of constructors (variant tags, tuple and
// record shapes, boxes, scalar constants) and wildcards. Bindings abstract to
// wildcards; extractor patterns abstract to wildcards optimistically, and
// arms carrying guards or extractors never enter the covering matrix since
// they can fail at runtime. The analysis assumes subjects inhabit the
// declared subject type; untyped columns never have a complete signature.

const analysisBudget = 200_000

var errBudget = errors.New("analysis budget exceeded")

type ctorKind int

const (
	ctorLit ctorKind = iota
	ctorNull
	ctorBox
	ctorTuple
	ctorRecord
	ctorVariant
	ctorNever
)

type ctor struct {
	kind   ctorKind
	tag    string      // ctorVariant
	arity  int         // ctorTuple
	fields []string    // ctorRecord
	lit    value.Value // ctorLit
}

func (c *ctor) argCount() int {
	switch c.kind {
	case ctorVariant, ctorBox:
		return 1
	case ctorTuple:
		return c.arity
	case ctorRecord:
		return len(c.fields)
	default:
		return 0
	}
}

// key groups constructors that cover the same values. Int and float constants
// that compare equal at runtime share a key.
func (c *ctor) key() string {
	switch c.kind {
	case ctorLit:
		return litKey(c.lit)
	case ctorNull:
		return "null"
	case ctorBox:
		return "box"
	case ctorTuple:
		return "tuple/" + strconv.Itoa(c.arity)
	case ctorRecord:
		return "record/" + strings.Join(c.fields, ",")
	case ctorVariant:
		return "variant/" + c.tag
	default:
		return "never"
	}
}

func litKey(v value.Value) string {
	switch n := v.(type) {
	case value.Int:
		return "i:" + strconv.FormatInt(int64(n), 10)
	case value.Float:
		f := float64(n)
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return "i:" + strconv.FormatInt(int64(f), 10)
		}
		return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
	case value.Bool:
		return "b:" + strconv.FormatBool(bool(n))
	case value.String:
		return "s:" + string(n)
	default:
		return "nil"
	}
}

// apat is an abstracted pattern: a constructor application, a wildcard
// (c == nil), or an any-alternative pattern (anyTag).
type apat struct {
	c      *ctor
	args   []*apat
	anyTag bool
}

var wildPat = &apat{}

func (a *apat) isWild() bool { return a.c == nil && !a.anyTag }

func wilds(n int) []*apat {
	out := make([]*apat, n)
	for i := range out {
		out[i] = wildPat
	}
	return out
}

func allWild(row []*apat) bool {
	for _, p := range row {
		if !p.isWild() {
			return false
		}
	}
	return true
}

// abstract lowers a source pattern at a typed column into the matrix form.
func (c *checker) abstract(p pattern.Pattern, t pattern.TypeExpr) *apat {
	switch n := p.(type) {
	case *pattern.Wildcard, *pattern.Bind, *pattern.ExtractPat:
		return wildPat
	case *pattern.Literal:
		if n.Val.Kind() == value.KindRef {
			return &apat{c: &ctor{kind: ctorNull}}
		}
		return &apat{c: &ctor{kind: ctorLit, lit: n.Val}}
	case *pattern.ExprPat:
		if n.Resolved == nil {
			return wildPat
		}
		return valueAPat(n.Resolved)
	case *pattern.TuplePat:
		if rt, ok := t.(pattern.RecordType); ok {
			if len(n.Elems) != len(rt.Fields) {
				return &apat{c: &ctor{kind: ctorNever}}
			}
			names := make([]string, len(rt.Fields))
			args := make([]*apat, len(rt.Fields))
			for i, f := range rt.Fields {
				names[i] = f.Name
				args[i] = c.abstract(n.Elems[i], f.Type)
			}
			return &apat{c: &ctor{kind: ctorRecord, fields: names}, args: args}
		}
		var elemTypes []pattern.TypeExpr
		if tt, ok := t.(pattern.TupleType); ok && len(tt.Elems) == len(n.Elems) {
			elemTypes = tt.Elems
		}
		args := make([]*apat, len(n.Elems))
		for i, el := range n.Elems {
			var et pattern.TypeExpr
			if elemTypes != nil {
				et = elemTypes[i]
			}
			args[i] = c.abstract(el, et)
		}
		return &apat{c: &ctor{kind: ctorTuple, arity: len(n.Elems)}, args: args}
	case *pattern.RecordPat:
		if rt, ok := t.(pattern.RecordType); ok {
			names := make([]string, len(rt.Fields))
			args := make([]*apat, len(rt.Fields))
			byName := make(map[string]pattern.Pattern, len(n.Fields))
			for _, f := range n.Fields {
				byName[f.Name] = f.Pattern
			}
			for i, f := range rt.Fields {
				names[i] = f.Name
				if sub, ok := byName[f.Name]; ok {
					args[i] = c.abstract(sub, f.Type)
					delete(byName, f.Name)
				} else {
					args[i] = wildPat
				}
			}
			if len(byName) > 0 {
				return &apat{c: &ctor{kind: ctorNever}}
			}
			return &apat{c: &ctor{kind: ctorRecord, fields: names}, args: args}
		}
		// Without a declared record type, group by the mentioned field set.
		names := make([]string, len(n.Fields))
		for i, f := range n.Fields {
			names[i] = f.Name
		}
		order := make([]int, len(names))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return names[order[a]] < names[order[b]] })
		sorted := make([]string, len(names))
		args := make([]*apat, len(names))
		for i, idx := range order {
			sorted[i] = names[idx]
			args[i] = c.abstract(n.Fields[idx].Pattern, nil)
		}
		return &apat{c: &ctor{kind: ctorRecord, fields: sorted}, args: args}
	case *pattern.AltPat:
		payloadType := func(tag string) pattern.TypeExpr {
			if decl, ok := c.lib.Decls.Resolve(t); ok {
				if alt, ok := decl.Alt(tag); ok {
					return alt.Payload.Type()
				}
			}
			return nil
		}
		payload := func(tag string) *apat {
			if n.Payload == nil {
				return wildPat
			}
			return c.abstract(n.Payload, payloadType(tag))
		}
		switch n.Sel.Kind {
		case pattern.AltByName:
			return &apat{c: &ctor{kind: ctorVariant, tag: n.Sel.Name}, args: []*apat{payload(n.Sel.Name)}}
		case pattern.AltByIndex:
			if n.ResolvedTag == "" {
				return wildPat
			}
			return &apat{c: &ctor{kind: ctorVariant, tag: n.ResolvedTag}, args: []*apat{payload(n.ResolvedTag)}}
		default:
			return &apat{anyTag: true, args: []*apat{payload("")}}
		}
	case *pattern.DerefPat:
		var et pattern.TypeExpr
		if rt, ok := t.(pattern.RefType); ok {
			et = rt.Elem
		}
		return &apat{c: &ctor{kind: ctorBox}, args: []*apat{c.abstract(n.Elem, et)}}
	}
	return wildPat
}

// valueAPat lowers a resolved constant into the matrix form, so expression
// patterns participate structurally.
func valueAPat(v value.Value) *apat {
	switch n := v.(type) {
	case value.Tuple:
		args := make([]*apat, len(n))
		for i, el := range n {
			args[i] = valueAPat(el)
		}
		return &apat{c: &ctor{kind: ctorTuple, arity: len(n)}, args: args}
	case value.Record:
		names := make([]string, len(n))
		args := make([]*apat, len(n))
		for i, f := range n {
			names[i] = f.Name
			args[i] = valueAPat(f.Value)
		}
		return &apat{c: &ctor{kind: ctorRecord, fields: names}, args: args}
	case value.Variant:
		var arg *apat
		if n.Payload == nil {
			arg = valueAPat(value.Nil{})
		} else {
			arg = valueAPat(n.Payload)
		}
		return &apat{c: &ctor{kind: ctorVariant, tag: n.Tag}, args: []*apat{arg}}
	case value.Ref:
		if n.Null() {
			return &apat{c: &ctor{kind: ctorNull}}
		}
		return &apat{c: &ctor{kind: ctorBox}, args: []*apat{valueAPat(n.Elem)}}
	default:
		return &apat{c: &ctor{kind: ctorLit, lit: v}}
	}
}

// signature enumerates the complete constructor set for a column type, when
// one exists. Scalar types other than bool are open.
func (c *checker) signature(t pattern.TypeExpr) ([]*ctor, bool) {
	switch tt := t.(type) {
	case pattern.PrimType:
		switch tt.Kind {
		case value.KindBool:
			return []*ctor{
				{kind: ctorLit, lit: value.Bool(true)},
				{kind: ctorLit, lit: value.Bool(false)},
			}, true
		case value.KindNil:
			return []*ctor{{kind: ctorLit, lit: value.Nil{}}}, true
		}
		return nil, false
	case pattern.NamedType:
		decl, ok := c.lib.Decls.Variant(tt.Name)
		if !ok {
			return nil, false
		}
		ctors := make([]*ctor, len(decl.Alts))
		for i, a := range decl.Alts {
			ctors[i] = &ctor{kind: ctorVariant, tag: a.Tag}
		}
		return ctors, true
	case pattern.RefType:
		return []*ctor{{kind: ctorNull}, {kind: ctorBox}}, true
	case pattern.TupleType:
		return []*ctor{{kind: ctorTuple, arity: len(tt.Elems)}}, true
	case pattern.RecordType:
		names := make([]string, len(tt.Fields))
		for i, f := range tt.Fields {
			names[i] = f.Name
		}
		return []*ctor{{kind: ctorRecord, fields: names}}, true
	}
	return nil, false
}

// argTypes gives the column types a constructor introduces when specialized.
func (c *checker) argTypes(ct *ctor, t pattern.TypeExpr) []pattern.TypeExpr {
	switch ct.kind {
	case ctorVariant:
		if decl, ok := c.lib.Decls.Resolve(t); ok {
			if alt, ok := decl.Alt(ct.tag); ok {
				return []pattern.TypeExpr{alt.Payload.Type()}
			}
		}
		return []pattern.TypeExpr{nil}
	case ctorBox:
		if rt, ok := t.(pattern.RefType); ok {
			return []pattern.TypeExpr{rt.Elem}
		}
		return []pattern.TypeExpr{nil}
	case ctorTuple:
		if tt, ok := t.(pattern.TupleType); ok && len(tt.Elems) == ct.arity {
			return tt.Elems
		}
		return make([]pattern.TypeExpr, ct.arity)
	case ctorRecord:
		if rt, ok := t.(pattern.RecordType); ok && len(rt.Fields) == len(ct.fields) {
			types := make([]pattern.TypeExpr, len(rt.Fields))
			for i, f := range rt.Fields {
				types[i] = f.Type
			}
			return types
		}
		return make([]pattern.TypeExpr, len(ct.fields))
	}
	return nil
}

// specialize builds S(ct, rows): rows refined to subjects rooted at ct.
func specialize(ct *ctor, rows [][]*apat) [][]*apat {
	argc := ct.argCount()
	var out [][]*apat
	for _, row := range rows {
		head := row[0]
		switch {
		case head.isWild():
			out = append(out, append(wilds(argc), row[1:]...))
		case head.anyTag:
			if ct.kind == ctorVariant {
				out = append(out, append([]*apat{head.args[0]}, row[1:]...))
			}
		case head.c.kind == ctorNever:
		case head.c.key() == ct.key():
			out = append(out, append(append([]*apat{}, head.args...), row[1:]...))
		}
	}
	return out
}

// defaultMatrix builds D(rows): rows that still apply to subjects whose root
// constructor appears in no row.
func defaultMatrix(rows [][]*apat) [][]*apat {
	var out [][]*apat
	for _, row := range rows {
		if row[0].isWild() {
			out = append(out, row[1:])
		}
	}
	return out
}

// useful reports whether a subject could match q without matching any row,
// and builds such a subject by instantiating q's wildcards. It errors out
// when the node budget is exhausted rather than guessing.
func (c *checker) useful(rows [][]*apat, q []*apat, ts []pattern.TypeExpr, fuel *int) (bool, []*apat, error) {
	*fuel--
	if *fuel <= 0 {
		return false, nil, errBudget
	}
	if len(q) == 0 {
		return len(rows) == 0, nil, nil
	}
	for _, row := range rows {
		if allWild(row) {
			return false, nil, nil
		}
	}
	head := q[0]
	switch {
	case head.anyTag:
		decl, ok := c.lib.Decls.Resolve(ts[0])
		if !ok {
			// Cannot enumerate alternatives; assume the arm is reachable.
			return true, instantiate(q), nil
		}
		for _, a := range decl.Alts {
			ct := &ctor{kind: ctorVariant, tag: a.Tag}
			ok, w, err := c.usefulCtor(ct, head.args, rows, q, ts, fuel)
			if err != nil {
				return false, nil, err
			}
			if ok {
				return true, w, nil
			}
		}
		return false, nil, nil
	case head.c != nil:
		if head.c.kind == ctorNever {
			return false, nil, nil
		}
		return c.usefulCtor(head.c, head.args, rows, q, ts, fuel)
	default:
		sig, complete := c.signature(ts[0])
		if complete {
			for _, ct := range sig {
				ok, w, err := c.usefulCtor(ct, wilds(ct.argCount()), rows, q, ts, fuel)
				if err != nil {
					return false, nil, err
				}
				if ok {
					return true, w, nil
				}
			}
			return false, nil, nil
		}
		ok, w, err := c.useful(defaultMatrix(rows), q[1:], ts[1:], fuel)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, nil
		}
		return true, append([]*apat{c.uncovered(ts[0], rows)}, w...), nil
	}
}

func (c *checker) usefulCtor(ct *ctor, args []*apat, rows [][]*apat, q []*apat, ts []pattern.TypeExpr, fuel *int) (bool, []*apat, error) {
	argc := ct.argCount()
	subQ := append(append([]*apat{}, args...), q[1:]...)
	subT := append(c.argTypes(ct, ts[0]), ts[1:]...)
	ok, w, err := c.useful(specialize(ct, rows), subQ, subT, fuel)
	if err != nil || !ok {
		return ok, nil, err
	}
	rebuilt := &apat{c: ct, args: w[:argc]}
	return true, append([]*apat{rebuilt}, w[argc:]...), nil
}

// instantiate replaces a query vector's structure with itself; wildcards stay
// wildcards. Used when the analysis gives an arm the benefit of the doubt.
func instantiate(q []*apat) []*apat {
	out := make([]*apat, len(q))
	copy(out, q)
	return out
}

// uncovered picks a subject at an open-signature column that no row's root
// constructor covers.
func (c *checker) uncovered(t pattern.TypeExpr, rows [][]*apat) *apat {
	seen := make(map[string]bool)
	for _, row := range rows {
		if row[0].c != nil && row[0].c.kind != ctorNever {
			seen[row[0].c.key()] = true
		}
	}
	pick := func(cands []value.Value) *apat {
		for _, v := range cands {
			if !seen[litKey(v)] {
				return &apat{c: &ctor{kind: ctorLit, lit: v}}
			}
		}
		return wildPat
	}
	pt, ok := t.(pattern.PrimType)
	if !ok {
		return wildPat
	}
	switch pt.Kind {
	case value.KindInt:
		var cands []value.Value
		for i := 0; i < 64; i++ {
			cands = append(cands, value.Int(i))
		}
		return pick(cands)
	case value.KindFloat:
		var cands []value.Value
		for i := 0; i < 64; i++ {
			cands = append(cands, value.Float(float64(i)+0.5))
		}
		return pick(cands)
	case value.KindString:
		cands := []value.Value{value.String("")}
		for r := 'a'; r <= 'z'; r++ {
			cands = append(cands, value.String(string(r)))
		}
		return pick(cands)
	}
	return wildPat
}

// renderAPat prints a witness as the pattern that would cover it.
func renderAPat(a *apat) string {
	if a.isWild() {
		return "_"
	}
	if a.anyTag {
		return "<_> " + renderAPat(a.args[0])
	}
	switch a.c.kind {
	case ctorLit:
		return a.c.lit.String()
	case ctorNull:
		return "null"
	case ctorBox:
		return "*" + renderAPat(a.args[0])
	case ctorTuple:
		parts := make([]string, len(a.args))
		for i, arg := range a.args {
			parts[i] = renderAPat(arg)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ctorRecord:
		parts := make([]string, len(a.args))
		for i, arg := range a.args {
			parts[i] = a.c.fields[i] + ": " + renderAPat(arg)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ctorVariant:
		if a.args[0].isWild() {
			return "<" + a.c.tag + ">"
		}
		return "<" + a.c.tag + "> " + renderAPat(a.args[0])
	default:
		return "_"
	}
}

// checkReachability flags arms no well-typed subject can reach. Guarded arms
// and arms with extractor patterns stay out of the covering matrix: they can
// decline a subject at runtime.
func (c *checker) checkReachability() {
	var covering [][]*apat
	fuel := analysisBudget
	types := []pattern.TypeExpr{c.rs.Subject}
	for i, arm := range c.rs.Arms {
		if c.impossible[i] {
			continue
		}
		q := []*apat{c.abstract(arm.Pattern, c.rs.Subject)}
		ok, _, err := c.useful(covering, q, types, &fuel)
		if err != nil {
			c.diag(SeverityInfo, "analysis-budget", arm.Pos,
				"reachability analysis gave up; remaining arms unchecked")
			return
		}
		if !ok {
			c.diag(SeverityWarning, "unreachable-arm", arm.Pos,
				"arm %d can never match; earlier arms cover every subject it accepts", i)
			continue
		}
		if arm.Guard == nil && !hasExtractor(arm.Pattern) {
			covering = append(covering, q)
		}
	}
}

// checkExhaustiveness decides whether the unconditional arms cover the whole
// subject type and records a witness when they do not.
func (c *checker) checkExhaustiveness() {
	var covering [][]*apat
	for i, arm := range c.rs.Arms {
		if c.impossible[i] || arm.Guard != nil || hasExtractor(arm.Pattern) {
			continue
		}
		covering = append(covering, []*apat{c.abstract(arm.Pattern, c.rs.Subject)})
	}
	fuel := analysisBudget
	ok, w, err := c.useful(covering, []*apat{wildPat}, []pattern.TypeExpr{c.rs.Subject}, &fuel)
	if err != nil {
		c.diag(SeverityInfo, "analysis-budget", c.rs.Pos,
			"exhaustiveness analysis gave up; coverage not decided")
		return
	}
	if !ok {
		return
	}
	c.report.Exhaustive = false
	witness := "_"
	if len(w) == 1 {
		witness = renderAPat(w[0])
	}
	c.report.Witness = witness
	c.diag(SeverityWarning, "non-exhaustive", c.rs.Pos,
		"not every subject matches an arm; `%s` is not covered", witness)
}

func hasExtractor(p pattern.Pattern) bool {
	found := false
	pattern.Walk(p, func(n pattern.Pattern) {
		if _, ok := n.(*pattern.ExtractPat); ok {
			found = true
		}
	})
	return found
}
