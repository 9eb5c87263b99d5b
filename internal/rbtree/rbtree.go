// Package rbtree keeps an ordered set as an Okasaki red-black tree whose
// rebalancing lives in the embedded balance ruleset: each insertion step
// hands the candidate node to the engine and the four rotation arms do the
// rest.
package rbtree

import (
	"context"
	_ "embed"
	"fmt"

	"matchbox/internal/match"
	"matchbox/internal/ruleset"
	"matchbox/internal/value"
)

//go:embed rbtree.match
var rbtreeSrc []byte

// Source returns the embedded rbtree ruleset file.
func Source() []byte {
	src := make([]byte, len(rbtreeSrc))
	copy(src, rbtreeSrc)
	return src
}

const (
	tagLeaf  = "E"
	tagNode  = "V"
	tagRed   = "R"
	tagBlack = "B"
)

// Tree is an ordered set of scalar keys. Not safe for concurrent use.
type Tree struct {
	eng  *match.Engine
	rs   *match.Ruleset
	root value.Value
	size int
}

// New compiles the embedded ruleset. A nil engine gets defaults; pass a
// configured engine to trace the rotations.
func New(eng *match.Engine) (*Tree, error) {
	if eng == nil {
		var err error
		eng, err = match.NewEngine(nil)
		if err != nil {
			return nil, err
		}
	}
	f, err := ruleset.Parse("rbtree.match", rbtreeSrc)
	if err != nil {
		return nil, fmt.Errorf("embedded rbtree: %w", err)
	}
	rs, ok := f.Library.Ruleset("balance")
	if !ok {
		return nil, fmt.Errorf("embedded rbtree: balance ruleset missing")
	}
	return &Tree{eng: eng, rs: rs, root: leaf()}, nil
}

// Ruleset returns the compiled balance ruleset, for tracing and coverage.
func (t *Tree) Ruleset() *match.Ruleset { return t.rs }

// Root returns the current root node.
func (t *Tree) Root() value.Value { return t.root }

// Len returns the number of keys.
func (t *Tree) Len() int { return t.size }

// Insert adds key to the set. Keys must order against each other, so one
// tree holds ints and floats, or strings, but not a mix of the two.
func (t *Tree) Insert(ctx context.Context, key value.Value) error {
	root, added, err := t.ins(ctx, t.root, key)
	if err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}
	t.root = blacken(root)
	if added {
		t.size++
	}
	return nil
}

func (t *Tree) ins(ctx context.Context, n, key value.Value) (value.Value, bool, error) {
	v, ok := n.(value.Variant)
	if !ok {
		return nil, false, fmt.Errorf("malformed node %s", n)
	}
	if v.Tag == tagLeaf {
		return node(tagRed, leaf(), key, leaf()), true, nil
	}
	color, left, k, right, err := parts(v)
	if err != nil {
		return nil, false, err
	}
	cmp, err := value.Compare(key, k)
	if err != nil {
		return nil, false, err
	}
	switch {
	case cmp < 0:
		nl, added, err := t.ins(ctx, left, key)
		if err != nil {
			return nil, false, err
		}
		out, err := t.balance(ctx, color, nl, k, right)
		return out, added, err
	case cmp > 0:
		nr, added, err := t.ins(ctx, right, key)
		if err != nil {
			return nil, false, err
		}
		out, err := t.balance(ctx, color, left, k, nr)
		return out, added, err
	default:
		// Key already present.
		return v, false, nil
	}
}

// balance applies the ruleset to one candidate node. The fall-through arm
// is total, so every apply settles on some arm.
func (t *Tree) balance(ctx context.Context, color, left, key, right value.Value) (value.Value, error) {
	subject := value.NewTuple(color, value.NewRef(left), key, value.NewRef(right))
	out, _, err := t.eng.Apply(ctx, t.rs, subject)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return out, nil
}

// Contains reports whether key is in the set.
func (t *Tree) Contains(key value.Value) (bool, error) {
	n := t.root
	for {
		v, ok := n.(value.Variant)
		if !ok {
			return false, fmt.Errorf("malformed node %s", n)
		}
		if v.Tag == tagLeaf {
			return false, nil
		}
		_, left, k, right, err := parts(v)
		if err != nil {
			return false, err
		}
		cmp, err := value.Compare(key, k)
		if err != nil {
			return false, err
		}
		switch {
		case cmp < 0:
			n = left
		case cmp > 0:
			n = right
		default:
			return true, nil
		}
	}
}

// InorderKeys returns the keys in ascending order.
func (t *Tree) InorderKeys() ([]value.Value, error) {
	keys := make([]value.Value, 0, t.size)
	if err := inorder(t.root, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func inorder(n value.Value, keys *[]value.Value) error {
	v, ok := n.(value.Variant)
	if !ok {
		return fmt.Errorf("malformed node %s", n)
	}
	if v.Tag == tagLeaf {
		return nil
	}
	_, left, key, right, err := parts(v)
	if err != nil {
		return err
	}
	if err := inorder(left, keys); err != nil {
		return err
	}
	*keys = append(*keys, key)
	return inorder(right, keys)
}

func leaf() value.Value { return value.NewVariant(tagLeaf, nil) }

func node(color string, left, key, right value.Value) value.Value {
	return value.NewVariant(tagNode, value.NewTuple(
		value.NewVariant(color, nil), value.NewRef(left), key, value.NewRef(right)))
}

// parts splits a V node into color, left subtree, key, and right subtree,
// with the subtree boxes unwrapped.
func parts(v value.Variant) (color, left, key, right value.Value, err error) {
	tup, ok := v.Payload.(value.Tuple)
	if !ok || len(tup) != 4 {
		err = fmt.Errorf("node payload = %s, want a 4-tuple", v.Payload)
		return
	}
	lref, ok := tup[1].(value.Ref)
	if !ok {
		err = fmt.Errorf("left subtree = %s, want a ref", tup[1])
		return
	}
	rref, ok := tup[3].(value.Ref)
	if !ok {
		err = fmt.Errorf("right subtree = %s, want a ref", tup[3])
		return
	}
	return tup[0], lref.Elem, tup[2], rref.Elem, nil
}

func isRed(n value.Value) bool {
	v, ok := n.(value.Variant)
	if !ok || v.Tag != tagNode {
		return false
	}
	tup, ok := v.Payload.(value.Tuple)
	if !ok || len(tup) != 4 {
		return false
	}
	c, ok := tup[0].(value.Variant)
	return ok && c.Tag == tagRed
}

func blacken(n value.Value) value.Value {
	if !isRed(n) {
		return n
	}
	tup := n.(value.Variant).Payload.(value.Tuple)
	return value.NewVariant(tagNode, value.NewTuple(
		value.NewVariant(tagBlack, nil), tup[1], tup[2], tup[3]))
}
