package pattern

import (
	"strings"

	"matchbox/internal/value"
)

// Expr is a guard, result, or constant expression.
type Expr interface {
	Position() Pos
	String() string
	isExpr()
}

// Op enumerates unary and binary operators.
type Op int

const (
	OpNeg Op = iota // unary -
	OpNot           // unary !
	OpBox           // unary &
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

func (o Op) String() string {
	switch o {
	case OpNeg:
		return "-"
	case OpNot:
		return "!"
	case OpBox:
		return "&"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	default:
		return "?"
	}
}

// precedence for printing; higher binds tighter.
func (o Op) precedence() int {
	switch o {
	case OpNeg, OpNot, OpBox:
		return 6
	case OpMul, OpDiv, OpMod:
		return 5
	case OpAdd, OpSub:
		return 4
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return 3
	case OpAnd:
		return 2
	case OpOr:
		return 1
	default:
		return 0
	}
}

// Lit is a literal value, including `null` (the null ref).
type Lit struct {
	Val value.Value
	Pos Pos
}

// Ident references a binding, a declared constant, or a nullary alternative
// tag. Resolution order at evaluation: bindings shadow constants.
type Ident struct {
	Name string
	Pos  Pos
}

// Unary is `-e`, `!e`, or the boxing form `&e`.
type Unary struct {
	Op      Op
	Operand Expr
	Pos     Pos
}

// Binary is an infix operation. && and || short-circuit.
type Binary struct {
	Op  Op
	LHS Expr
	RHS Expr
	Pos Pos
}

// Call is `name(args...)`: a recursive `self` call, a sibling ruleset, an
// extractor, a builtin, or a variant constructor (tag-cased names).
type Call struct {
	Name string
	Args []Expr
	Pos  Pos
}

// TupleExpr builds a tuple.
type TupleExpr struct {
	Elems []Expr
	Pos   Pos
}

// FieldExpr is one `name: expr` element.
type FieldExpr struct {
	Name string
	Expr Expr
	Pos  Pos
}

// RecordExpr builds a record, fields in written order.
type RecordExpr struct {
	Fields []FieldExpr
	Pos    Pos
}

// VariantExpr is the record-payload constructor form `Tag{f1: e1, ...}`.
type VariantExpr struct {
	Tag    string
	Fields []FieldExpr
	Pos    Pos
}

func (e *Lit) Position() Pos { return e.Pos }

func (e *Ident) Position() Pos { return e.Pos }

func (e *Unary) Position() Pos { return e.Pos }

func (e *Binary) Position() Pos { return e.Pos }

func (e *Call) Position() Pos { return e.Pos }

func (e *TupleExpr) Position() Pos { return e.Pos }

func (e *RecordExpr) Position() Pos { return e.Pos }

func (e *VariantExpr) Position() Pos { return e.Pos }

func (*Lit) isExpr() {}

func (*Ident) isExpr() {}

func (*Unary) isExpr() {}

func (*Binary) isExpr() {}

func (*Call) isExpr() {}

func (*TupleExpr) isExpr() {}

func (*RecordExpr) isExpr() {}

func (*VariantExpr) isExpr() {}

func (e *Lit) String() string { return e.Val.String() }

func (e *Ident) String() string { return e.Name }

func (e *Unary) String() string {
	operand := e.Operand.String()
	if b, ok := e.Operand.(*Binary); ok && b.Op.precedence() < e.Op.precedence() {
		operand = "(" + operand + ")"
	}
	return e.Op.String() + operand
}

func (e *Binary) String() string {
	lhs := e.LHS.String()
	if b, ok := e.LHS.(*Binary); ok && b.Op.precedence() < e.Op.precedence() {
		lhs = "(" + lhs + ")"
	}
	rhs := e.RHS.String()
	if b, ok := e.RHS.(*Binary); ok && b.Op.precedence() <= e.Op.precedence() {
		rhs = "(" + rhs + ")"
	}
	return lhs + " " + e.Op.String() + " " + rhs
}

func (e *Call) String() string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteByte('(')
	for i, a := range e.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (e *TupleExpr) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, el := range e.Elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(el.String())
	}
	b.WriteByte(']')
	return b.String()
}

func writeFields(b *strings.Builder, fields []FieldExpr) {
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Expr.String())
	}
	b.WriteByte('}')
}

func (e *RecordExpr) String() string {
	var b strings.Builder
	writeFields(&b, e.Fields)
	return b.String()
}

func (e *VariantExpr) String() string {
	var b strings.Builder
	b.WriteString(e.Tag)
	writeFields(&b, e.Fields)
	return b.String()
}

// needsParens reports whether e needs parentheses after `^`.
func needsParens(e Expr) bool {
	switch e.(type) {
	case *Lit, *Ident, *Call, *TupleExpr, *RecordExpr, *VariantExpr:
		return false
	default:
		return true
	}
}

// WalkExpr traverses e depth-first.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *Unary:
		WalkExpr(n.Operand, fn)
	case *Binary:
		WalkExpr(n.LHS, fn)
		WalkExpr(n.RHS, fn)
	case *Call:
		for _, a := range n.Args {
			WalkExpr(a, fn)
		}
	case *TupleExpr:
		for _, el := range n.Elems {
			WalkExpr(el, fn)
		}
	case *RecordExpr:
		for _, f := range n.Fields {
			WalkExpr(f.Expr, fn)
		}
	case *VariantExpr:
		for _, f := range n.Fields {
			WalkExpr(f.Expr, fn)
		}
	}
}
