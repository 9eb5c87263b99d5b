package pattern

import (
	"fmt"
	"strings"

	"matchbox/internal/value"
)

// TypeExpr is a subject or payload type: any, a primitive, a declared
// variant by name, a ref, a tuple, or a record.
type TypeExpr interface {
	String() string
	isType()
}

// AnyType matches every value.
type AnyType struct{}

// PrimType is one of int, float, bool, string.
type PrimType struct {
	Kind value.Kind
}

// NamedType references a declared variant type.
type NamedType struct {
	Name string
}

// RefType is `&T`.
type RefType struct {
	Elem TypeExpr
}

// TupleType is `[T1, ..., Tn]`.
type TupleType struct {
	Elems []TypeExpr
}

// TypeField is one `name: T` slot of a record type.
type TypeField struct {
	Name string
	Type TypeExpr
}

// RecordType is `{f1: T1, ...}`.
type RecordType struct {
	Fields []TypeField
}

func (AnyType) isType() {}

func (PrimType) isType() {}

func (NamedType) isType() {}

func (RefType) isType() {}

func (TupleType) isType() {}

func (RecordType) isType() {}

func (AnyType) String() string { return "any" }

func (t PrimType) String() string { return t.Kind.String() }

func (t NamedType) String() string { return t.Name }

func (t RefType) String() string { return "&" + t.Elem.String() }
func (t TupleType) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range t.Elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
	b.WriteByte(']')
	return b.String()
}
func (t RecordType) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range t.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Type.String())
	}
	b.WriteByte('}')
	return b.String()
}

// PayloadKind says how an alternative carries its payload.
type PayloadKind int

const (
	PayloadNone   PayloadKind = iota // nullary: payload is nil
	PayloadSingle                    // payload is a bare value
	PayloadTuple                     // payload is a tuple
	PayloadRecord                    // payload is a record
)

// Payload declares an alternative's payload shape.
type Payload struct {
	Kind   PayloadKind
	Single TypeExpr
	Elems  []TypeExpr
	Fields []TypeField
}

// Arity is the number of constructor arguments the alternative takes.
func (p Payload) Arity() int {
	switch p.Kind {
	case PayloadSingle:
		return 1
	case PayloadTuple:
		return len(p.Elems)
	case PayloadRecord:
		return len(p.Fields)
	default:
		return 0
	}
}

// Type is the payload's type expression.
func (p Payload) Type() TypeExpr {
	switch p.Kind {
	case PayloadSingle:
		return p.Single
	case PayloadTuple:
		return TupleType{Elems: p.Elems}
	case PayloadRecord:
		return RecordType{Fields: p.Fields}
	default:
		return PrimType{Kind: value.KindNil}
	}
}

// Alt is one declared alternative of a variant type.
type Alt struct {
	Tag     string
	Payload Payload
}

// VariantDecl declares a variant type. Alternative order is significant:
// index alternative patterns and any-alternative resolution use it.
type VariantDecl struct {
	Name string
	Alts []Alt
}

// Alt returns the declared alternative for tag.
func (d *VariantDecl) Alt(tag string) (Alt, bool) {
	for _, a := range d.Alts {
		if a.Tag == tag {
			return a, true
		}
	}
	return Alt{}, false
}

// AltIndex returns tag's position, or -1.
func (d *VariantDecl) AltIndex(tag string) int {
	for i, a := range d.Alts {
		if a.Tag == tag {
			return i
		}
	}
	return -1
}

// Decls is a set of variant declarations, ordered as declared.
type Decls struct {
	variants map[string]*VariantDecl
	order    []string
}

// NewDecls returns an empty declaration set.
func NewDecls() *Decls {
	return &Decls{variants: make(map[string]*VariantDecl)}
}

// Add registers a variant declaration. Duplicate type names and duplicate
// tags within a type are errors.
func (d *Decls) Add(v *VariantDecl) error {
	if _, exists := d.variants[v.Name]; exists {
		return fmt.Errorf("type %q declared twice", v.Name)
	}
	seen := make(map[string]bool, len(v.Alts))
	for _, a := range v.Alts {
		if seen[a.Tag] {
			return fmt.Errorf("type %q declares alternative %q twice", v.Name, a.Tag)
		}
		seen[a.Tag] = true
	}
	d.variants[v.Name] = v
	d.order = append(d.order, v.Name)
	return nil
}

// Variant looks up a declared type.
func (d *Decls) Variant(name string) (*VariantDecl, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.variants[name]
	return v, ok
}

// Names returns declared type names in declaration order.
func (d *Decls) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// NullaryTags returns every nullary alternative tag across all declarations.
// These become constants: `^R` and the bare constructor `R` both resolve to
// the tagged value with a nil payload.
func (d *Decls) NullaryTags() []string {
	if d == nil {
		return nil
	}
	var tags []string
	seen := make(map[string]bool)
	for _, name := range d.order {
		for _, a := range d.variants[name].Alts {
			if a.Payload.Kind == PayloadNone && !seen[a.Tag] {
				seen[a.Tag] = true
				tags = append(tags, a.Tag)
			}
		}
	}
	return tags
}

// AltFor finds the declaration carrying tag, searching declaration order.
// Used to build constructor payloads when no subject type is in scope.
func (d *Decls) AltFor(tag string) (*VariantDecl, Alt, bool) {
	if d == nil {
		return nil, Alt{}, false
	}
	for _, name := range d.order {
		if a, ok := d.variants[name].Alt(tag); ok {
			return d.variants[name], a, true
		}
	}
	return nil, Alt{}, false
}

// Resolve chases a named type to its declaration.
func (d *Decls) Resolve(t TypeExpr) (*VariantDecl, bool) {
	n, ok := t.(NamedType)
	if !ok {
		return nil, false
	}
	return d.Variant(n.Name)
}
