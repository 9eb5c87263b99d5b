package match

import (
	"fmt"

	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// matchPat matches one pattern node against subject, accumulating bindings.
// Bindings written by a failing branch are discarded by the caller, which
// allocates a fresh set per arm.
func (e *Engine) matchPat(st *applyState, p pattern.Pattern, subject value.Value, binds *Bindings) (bool, error) {
	st.steps++
	if st.steps > e.maxSteps {
		return false, fmt.Errorf("after %d pattern steps: %w", st.steps, ErrStepsExceeded)
	}
	switch n := p.(type) {
	case *pattern.Wildcard:
		return true, nil

	case *pattern.Bind:
		binds.Set(n.Name, subject)
		return true, nil

	case *pattern.Literal:
		return value.Equal(n.Val, subject), nil

	case *pattern.ExprPat:
		if n.Resolved == nil {
			return false, fmt.Errorf("%s: expression pattern was not compiled", n.Pos)
		}
		return value.Equal(n.Resolved, subject), nil

	case *pattern.TuplePat:
		switch s := subject.(type) {
		case value.Tuple:
			if len(s) != len(n.Elems) {
				return false, nil
			}
			for i, el := range n.Elems {
				ok, err := e.matchPat(st, el, s[i], binds)
				if !ok || err != nil {
					return false, err
				}
			}
			return true, nil
		case value.Record:
			// Positional destructuring by field order.
			if len(s) != len(n.Elems) {
				return false, nil
			}
			for i, el := range n.Elems {
				ok, err := e.matchPat(st, el, s[i].Value, binds)
				if !ok || err != nil {
					return false, err
				}
			}
			return true, nil
		default:
			return false, nil
		}

	case *pattern.RecordPat:
		s, ok := subject.(value.Record)
		if !ok {
			return false, nil
		}
		for _, f := range n.Fields {
			fv, present := s.Get(f.Name)
			if !present {
				return false, nil
			}
			ok, err := e.matchPat(st, f.Pattern, fv, binds)
			if !ok || err != nil {
				return false, err
			}
		}
		return true, nil

	case *pattern.AltPat:
		s, ok := subject.(value.Variant)
		if !ok {
			return false, nil
		}
		switch n.Sel.Kind {
		case pattern.AltByName:
			if s.Tag != n.Sel.Name {
				return false, nil
			}
		case pattern.AltByIndex:
			if n.ResolvedTag == "" {
				return false, fmt.Errorf("%s: alternative index pattern was not compiled", n.Pos)
			}
			if s.Tag != n.ResolvedTag {
				return false, nil
			}
		case pattern.AltAny:
		}
		if n.Payload == nil {
			return true, nil
		}
		return e.matchPat(st, n.Payload, s.Payload, binds)

	case *pattern.DerefPat:
		s, ok := subject.(value.Ref)
		if !ok || s.Null() {
			return false, nil
		}
		return e.matchPat(st, n.Elem, s.Elem, binds)

	case *pattern.ExtractPat:
		ex, ok := e.registry.Lookup(n.Name)
		if !ok {
			return false, fmt.Errorf("%s: unknown extractor %q", n.Pos, n.Name)
		}
		derived, ok, err := ex.Fn(subject)
		if err != nil {
			return false, fmt.Errorf("%s: extractor %s: %w", n.Pos, n.Name, err)
		}
		if !ok {
			if n.Strict {
				return false, fmt.Errorf("%s: extractor %s failed on %s", n.Pos, n.Name, subject)
			}
			return false, nil
		}
		return e.matchPat(st, n.Arg, derived, binds)

	default:
		return false, fmt.Errorf("cannot match %T", p)
	}
}
