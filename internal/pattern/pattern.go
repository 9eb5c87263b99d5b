// Package pattern defines the pattern and expression language: the AST,
// the lexer and recursive-descent parser, and type declarations. Semantic
// resolution (constants, alternative indexes) happens at compile time in the
// match package; this package is purely syntactic.
package pattern

import (
	"strings"

	"matchbox/internal/value"
)

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	if p.Line == 0 {
		return "-"
	}
	return itoa(p.Line) + ":" + itoa(p.Col)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Pattern is one pattern form.
type Pattern interface {
	Position() Pos
	String() string
	isPattern()
}

// Wildcard matches anything and binds nothing.
type Wildcard struct {
	Pos Pos
}

// Bind matches anything and captures the subject under Name.
type Bind struct {
	Name string
	Pos  Pos
}

// Literal matches by structural equality against a fixed value.
type Literal struct {
	Val value.Value
	Pos Pos
}

// ExprPat is `^expr`: the expression is evaluated against the constant
// environment at compile time and the result matches by equality. Resolved
// holds that value once compiled.
type ExprPat struct {
	Expr     Expr
	Resolved value.Value
	Pos      Pos
}

// TuplePat is the positional structure pattern `[p0, ..., pn]`. It
// destructures a tuple of the same arity, or a record by field order.
type TuplePat struct {
	Elems []Pattern
	Pos   Pos
}

// FieldPat is one `name: pattern` element of a designated structure pattern.
type FieldPat struct {
	Name    string
	Pattern Pattern
	Pos     Pos
}

// RecordPat is the designated structure pattern `[f1: p1, ...]`. Mentioned
// fields must match; unmentioned fields are unconstrained.
type RecordPat struct {
	Fields []FieldPat
	Pos    Pos
}

// AltSelKind says how an alternative pattern selects its alternative.
type AltSelKind int

const (
	AltByName AltSelKind = iota
	AltByIndex
	AltAny
)

// AltSel selects a variant alternative: by tag name, by declared index, or
// any alternative (`<_>`).
type AltSel struct {
	Kind  AltSelKind
	Name  string
	Index int
}

func (s AltSel) String() string {
	switch s.Kind {
	case AltByIndex:
		return itoa(s.Index)
	case AltAny:
		return "_"
	default:
		return s.Name
	}
}

// AltPat is the alternative pattern `<Alt> payload?`. A nil Payload is a
// payload wildcard. For index selectors, compile resolves the declared tag
// into ResolvedTag.
type AltPat struct {
	Sel         AltSel
	Payload     Pattern
	ResolvedTag string
	Pos         Pos
}

// DerefPat is `*p`: the subject must be a non-null ref, and p matches the
// pointee. A null ref fails the match without erroring.
type DerefPat struct {
	Elem Pattern
	Pos  Pos
}

// ExtractPat is `(name) p` or `(name!) p`: the named extractor derives a
// value from the subject and p matches the derivation. Extraction failure is
// a non-match for the lenient form and an error for the strict form.
type ExtractPat struct {
	Name   string
	Strict bool
	Arg    Pattern
	Pos    Pos
}

func (p *Wildcard) Position() Pos { return p.Pos }

func (p *Bind) Position() Pos { return p.Pos }

func (p *Literal) Position() Pos { return p.Pos }

func (p *ExprPat) Position() Pos { return p.Pos }

func (p *TuplePat) Position() Pos { return p.Pos }

func (p *RecordPat) Position() Pos { return p.Pos }

func (p *AltPat) Position() Pos { return p.Pos }

func (p *DerefPat) Position() Pos { return p.Pos }

func (p *ExtractPat) Position() Pos { return p.Pos }

func (*Wildcard) isPattern() {}

func (*Bind) isPattern() {}

func (*Literal) isPattern() {}

func (*ExprPat) isPattern() {}

func (*TuplePat) isPattern() {}

func (*RecordPat) isPattern() {}

func (*AltPat) isPattern() {}

func (*DerefPat) isPattern() {}

func (*ExtractPat) isPattern() {}

func (p *Wildcard) String() string { return "_" }

func (p *Bind) String() string { return p.Name }

func (p *Literal) String() string { return p.Val.String() }
func (p *ExprPat) String() string {
	if needsParens(p.Expr) {
		return "^(" + p.Expr.String() + ")"
	}
	return "^" + p.Expr.String()
}

func (p *TuplePat) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range p.Elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
	b.WriteByte(']')
	return b.String()
}

func (p *RecordPat) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range p.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Pattern.String())
	}
	b.WriteByte(']')
	return b.String()
}

func (p *AltPat) String() string {
	s := "<" + p.Sel.String() + ">"
	if p.Payload != nil {
		s += " " + p.Payload.String()
	}
	return s
}

func (p *DerefPat) String() string { return "*" + p.Elem.String() }

func (p *ExtractPat) String() string {
	bang := ""
	if p.Strict {
		bang = "!"
	}
	return "(" + p.Name + bang + ") " + p.Arg.String()
}

// Bindings returns the binding names introduced by p, in source order.
// Duplicates are preserved; compile rejects them.
func Bindings(p Pattern) []string {
	var names []string
	walk(p, func(n Pattern) {
		if b, ok := n.(*Bind); ok {
			names = append(names, b.Name)
		}
	})
	return names
}

func walk(p Pattern, fn func(Pattern)) {
	if p == nil {
		return
	}
	fn(p)
	switch n := p.(type) {
	case *TuplePat:
		for _, e := range n.Elems {
			walk(e, fn)
		}
	case *RecordPat:
		for _, f := range n.Fields {
			walk(f.Pattern, fn)
		}
	case *AltPat:
		walk(n.Payload, fn)
	case *DerefPat:
		walk(n.Elem, fn)
	case *ExtractPat:
		walk(n.Arg, fn)
	}
}

// Walk traverses p depth-first.
func Walk(p Pattern, fn func(Pattern)) { walk(p, fn) }
