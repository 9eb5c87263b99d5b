package match

import (
	"strings"

	"matchbox/internal/value"
)

// Bindings is an ordered name -> value environment captured by a pattern.
// Order is binding order in the pattern, left to right.
type Bindings struct {
	names []string
	vals  map[string]value.Value
}

// NewBindings returns an empty environment.
func NewBindings() *Bindings {
	return &Bindings{vals: make(map[string]value.Value)}
}

// Set records name = v. A repeated name overwrites in place and keeps its
// original position; compile rejects duplicate bindings before this matters.
func (b *Bindings) Set(name string, v value.Value) {
	if _, exists := b.vals[name]; !exists {
		b.names = append(b.names, name)
	}
	b.vals[name] = v
}

// Get looks up a bound name.
func (b *Bindings) Get(name string) (value.Value, bool) {
	if b == nil {
		return nil, false
	}
	v, ok := b.vals[name]
	return v, ok
}

// Names returns bound names in binding order.
func (b *Bindings) Names() []string {
	if b == nil {
		return nil
	}
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Len reports the number of bound names.
func (b *Bindings) Len() int {
	if b == nil {
		return 0
	}
	return len(b.names)
}

// Map returns a copy of the environment.
func (b *Bindings) Map() map[string]value.Value {
	if b == nil {
		return nil
	}
	out := make(map[string]value.Value, len(b.vals))
	for k, v := range b.vals {
		out[k] = v
	}
	return out
}

func (b *Bindings) String() string {
	if b == nil || len(b.names) == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, n := range b.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n)
		sb.WriteString(" = ")
		sb.WriteString(b.vals[n].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
