// Package value defines the dynamic value model the matcher operates on.
//
// Values are immutable after construction. The only sharing point is Ref,
// a box that may be null; everything else is compared and traversed
// structurally.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTuple
	KindRecord
	KindVariant
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTuple:
		return "tuple"
	case KindRecord:
		return "record"
	case KindVariant:
		return "variant"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a dynamic value: nil, a scalar, a tuple, a record with ordered
// fields, a tagged variant, or a ref box.
type Value interface {
	Kind() Kind
	String() string
}

// Nil is the unit value.
type Nil struct{}

func (Nil) Kind() Kind { return KindNil }

func (Nil) String() string { return "nil" }

// Bool is a boolean scalar.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (b Bool) String() string {
	return strconv.FormatBool(bool(b))
}

// Int is a 64-bit integer scalar.
type Int int64

func (Int) Kind() Kind { return KindInt }

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Float is a 64-bit floating-point scalar.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += ".0"
	}
	return s
}

// String is a string scalar.
type String string

func (String) Kind() Kind { return KindString }

func (s String) String() string { return strconv.Quote(string(s)) }

// Tuple is a fixed-arity ordered sequence.
type Tuple []Value

func (Tuple) Kind() Kind { return KindTuple }
func (t Tuple) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range t {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
	b.WriteByte(']')
	return b.String()
}

// Field is one named slot of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered sequence of named fields. Field order is significant
// for positional destructuring and is preserved through encoding.
type Record []Field

func (Record) Kind() Kind { return KindRecord }
func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value.String())
	}
	b.WriteByte('}')
	return b.String()
}

// Get returns the value of the named field.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Variant is a tagged value. A nullary variant carries a Nil payload.
type Variant struct {
	Tag     string
	Payload Value
}

func (Variant) Kind() Kind { return KindVariant }
func (v Variant) String() string {
	switch p := v.Payload.(type) {
	case nil, Nil:
		return v.Tag
	case Tuple:
		inner := p.String()
		return v.Tag + "(" + inner[1:len(inner)-1] + ")"
	case Record:
		return v.Tag + p.String()
	default:
		return v.Tag + "(" + p.String() + ")"
	}
}

// Ref is a box holding another value. A Ref with a nil Elem is the null ref:
// dereference patterns fail against it rather than erroring.
type Ref struct {
	Elem Value
}

func (Ref) Kind() Kind { return KindRef }
func (r Ref) String() string {
	if r.Elem == nil {
		return "null"
	}
	return "&" + r.Elem.String()
}

// Null reports whether the ref has no pointee.
func (r Ref) Null() bool { return r.Elem == nil }

// NewTuple copies elems into a Tuple.
func NewTuple(elems ...Value) Tuple {
	t := make(Tuple, len(elems))
	copy(t, elems)
	return t
}

// NewRecord copies fields into a Record. Duplicate field names are an error.
func NewRecord(fields ...Field) (Record, error) {
	seen := make(map[string]bool, len(fields))
	r := make(Record, len(fields))
	for i, f := range fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate record field %q", f.Name)
		}
		seen[f.Name] = true
		r[i] = f
	}
	return r, nil
}

// MustRecord is NewRecord for statically-known field lists.
func MustRecord(fields ...Field) Record {
	r, err := NewRecord(fields...)
	if err != nil {
		panic(err)
	}
	return r
}

// NewVariant builds a tagged value. A nil payload is normalized to Nil.
func NewVariant(tag string, payload Value) Variant {
	if payload == nil {
		payload = Nil{}
	}
	return Variant{Tag: tag, Payload: payload}
}

// NewRef boxes v.
func NewRef(v Value) Ref { return Ref{Elem: v} }

// NullRef returns the null box.
func NullRef() Ref { return Ref{} }

// Equal reports deep structural equality. Int and Float compare numerically
// across kinds, so Equal(Int(0), Float(0)) holds. Refs compare by pointee;
// two null refs are equal.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ka, kb := a.Kind(), b.Kind()
	if (ka == KindInt || ka == KindFloat) && (kb == KindInt || kb == KindFloat) {
		return numEqual(a, b)
	}
	if ka != kb {
		return false
	}
	switch av := a.(type) {
	case Nil:
		return true
	case Bool:
		return av == b.(Bool)
	case String:
		return av == b.(String)
	case Tuple:
		bv := b.(Tuple)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Record:
		bv := b.(Record)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Name != bv[i].Name || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case Variant:
		bv := b.(Variant)
		return av.Tag == bv.Tag && Equal(av.Payload, bv.Payload)
	case Ref:
		bv := b.(Ref)
		if av.Null() || bv.Null() {
			return av.Null() && bv.Null()
		}
		return Equal(av.Elem, bv.Elem)
	default:
		return false
	}
}

func numEqual(a, b Value) bool {
	if ai, ok := a.(Int); ok {
		if bi, ok := b.(Int); ok {
			return ai == bi
		}
		return float64(ai) == float64(b.(Float))
	}
	af := a.(Float)
	if bi, ok := b.(Int); ok {
		return float64(af) == float64(bi)
	}
	return af == b.(Float)
}

// Compare orders two scalars: -1, 0, or 1. Ints and floats order numerically
// across kinds; strings order lexically; anything else is not ordered.
func Compare(a, b Value) (int, error) {
	ka, kb := a.Kind(), b.Kind()
	if (ka == KindInt || ka == KindFloat) && (kb == KindInt || kb == KindFloat) {
		if ka == KindInt && kb == KindInt {
			ai, bi := a.(Int), b.(Int)
			switch {
			case ai < bi:
				return -1, nil
			case ai > bi:
				return 1, nil
			default:
				return 0, nil
			}
		}
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if ka == KindString && kb == KindString {
		return strings.Compare(string(a.(String)), string(b.(String))), nil
	}
	return 0, fmt.Errorf("cannot order %s against %s", ka, kb)
}

func toFloat(v Value) float64 {
	if i, ok := v.(Int); ok {
		return float64(i)
	}
	return float64(v.(Float))
}

// Walk traverses v depth-first, calling fn on every node. Returning false
// from fn skips the node's children.
func Walk(v Value, fn func(Value) bool) {
	if v == nil || !fn(v) {
		return
	}
	switch n := v.(type) {
	case Tuple:
		for _, e := range n {
			Walk(e, fn)
		}
	case Record:
		for _, f := range n {
			Walk(f.Value, fn)
		}
	case Variant:
		Walk(n.Payload, fn)
	case Ref:
		if !n.Null() {
			Walk(n.Elem, fn)
		}
	}
}

// Size counts the nodes in v. Used to enforce input limits.
func Size(v Value) int {
	n := 0
	Walk(v, func(Value) bool {
		n++
		return true
	})
	return n
}

// FieldNames returns a record's field names in declaration order.
func FieldNames(r Record) []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// SortedTags returns the tags of a variant-alternative set in stable order.
// Declaration order is not always available to callers that only hold a set.
func SortedTags(tags map[string]bool) []string {
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
