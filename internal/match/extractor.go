package match

import (
	"fmt"
	"sort"
	"sync"

	"matchbox/internal/value"
)

// Extractor derives a value from a subject before matching. Returning
// ok=false is extraction failure: a non-match for `(name) p`, an error for
// `(name!) p`. A non-nil error always aborts the match.
type Extractor struct {
	Name string
	Doc  string
	Fn   func(value.Value) (value.Value, bool, error)
}

// Registry holds named extractors. Safe for concurrent use; plugin loading
// registers while matches run.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns a registry seeded with the builtin extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, e := range builtinExtractors() {
		r.extractors[e.Name] = e
	}
	return r
}

// Register adds or replaces an extractor. Empty names are rejected.
func (r *Registry) Register(e Extractor) error {
	if e.Name == "" {
		return fmt.Errorf("extractor has no name")
	}
	if e.Fn == nil {
		return fmt.Errorf("extractor %q has no function", e.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Name] = e
	return nil
}

// Lookup finds an extractor by name.
func (r *Registry) Lookup(name string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[name]
	return e, ok
}

// Names lists registered extractors, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.extractors))
	for n := range r.extractors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func builtinExtractors() []Extractor {
	return []Extractor{
		{
			Name: "abs",
			Doc:  "absolute value of an int or float",
			Fn: func(v value.Value) (value.Value, bool, error) {
				switch n := v.(type) {
				case value.Int:
					if n < 0 {
						return -n, true, nil
					}
					return n, true, nil
				case value.Float:
					if n < 0 {
						return -n, true, nil
					}
					return n, true, nil
				default:
					return nil, false, nil
				}
			},
		},
		{
			Name: "len",
			Doc:  "length of a string, tuple, or record",
			Fn: func(v value.Value) (value.Value, bool, error) {
				switch n := v.(type) {
				case value.String:
					return value.Int(len(n)), true, nil
				case value.Tuple:
					return value.Int(len(n)), true, nil
				case value.Record:
					return value.Int(len(n)), true, nil
				default:
					return nil, false, nil
				}
			},
		},
		{
			Name: "tag",
			Doc:  "tag of a variant, as a string",
			Fn: func(v value.Value) (value.Value, bool, error) {
				if vr, ok := v.(value.Variant); ok {
					return value.String(vr.Tag), true, nil
				}
				return nil, false, nil
			},
		},
		{
			Name: "head",
			Doc:  "first element of a non-empty tuple",
			Fn: func(v value.Value) (value.Value, bool, error) {
				if t, ok := v.(value.Tuple); ok && len(t) > 0 {
					return t[0], true, nil
				}
				return nil, false, nil
			},
		},
		{
			Name: "tail",
			Doc:  "all but the first element of a non-empty tuple",
			Fn: func(v value.Value) (value.Value, bool, error) {
				if t, ok := v.(value.Tuple); ok && len(t) > 0 {
					return value.NewTuple(t[1:]...), true, nil
				}
				return nil, false, nil
			},
		},
		{
			Name: "str",
			Doc:  "render any value as its literal text",
			Fn: func(v value.Value) (value.Value, bool, error) {
				if s, ok := v.(value.String); ok {
					return s, true, nil
				}
				return value.String(v.String()), true, nil
			},
		},
	}
}
