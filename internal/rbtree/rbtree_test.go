package rbtree

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"matchbox/internal/match"
	"matchbox/internal/value"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr
}

func mustInsert(t *testing.T, tr *Tree, keys ...int64) {
	t.Helper()
	for _, k := range keys {
		if err := tr.Insert(context.Background(), value.Int(k)); err != nil {
			t.Fatalf("Insert(%d) error = %v", k, err)
		}
	}
}

// assertInvariants walks the tree checking the two red-black rules: no red
// node has a red child, and every path to a leaf crosses the same number of
// black nodes.
func assertInvariants(t *testing.T, root value.Value) {
	t.Helper()
	if isRed(root) {
		t.Errorf("root is red")
	}
	blackHeight(t, root)
}

func blackHeight(t *testing.T, n value.Value) int {
	t.Helper()
	v, ok := n.(value.Variant)
	if !ok {
		t.Fatalf("malformed node %s", n)
	}
	if v.Tag == tagLeaf {
		return 1
	}
	color, left, key, right, err := parts(v)
	if err != nil {
		t.Fatalf("parts() error = %v", err)
	}
	red := color.(value.Variant).Tag == tagRed
	if red && (isRed(left) || isRed(right)) {
		t.Errorf("red node %s has a red child", key)
	}
	hl := blackHeight(t, left)
	hr := blackHeight(t, right)
	if hl != hr {
		t.Errorf("black height differs under %s: %d vs %d", key, hl, hr)
	}
	if red {
		return hl
	}
	return hl + 1
}

// The canonical three-key tree every rotation normalizes to.
func balancedOneTwoThree() value.Value {
	return node(tagBlack,
		node(tagBlack, leaf(), value.Int(1), leaf()),
		value.Int(2),
		node(tagBlack, leaf(), value.Int(3), leaf()))
}

func TestRotationShapes(t *testing.T) {
	cases := []struct {
		name string
		keys []int64
		arm  int
	}{
		{"right-right", []int64{1, 2, 3}, 3},
		{"left-left", []int64{3, 2, 1}, 0},
		{"left-right", []int64{3, 1, 2}, 1},
		{"right-left", []int64{1, 3, 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			col := match.NewCollector()
			eng, err := match.NewEngine(&match.Config{Tracer: col})
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}
			tr, err := New(eng)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			mustInsert(t, tr, tc.keys...)

			if !value.Equal(tr.Root(), balancedOneTwoThree()) {
				t.Errorf("tree = %s, want %s", tr.Root(), balancedOneTwoThree())
			}
			fired := false
			for _, ev := range col.Events() {
				if ev.Phase == match.PhaseResult && ev.Ok && ev.Arm == tc.arm {
					fired = true
					break
				}
			}
			if !fired {
				t.Errorf("rotation arm %d never fired", tc.arm)
			}
		})
	}
}

func TestInvariantsRandomized(t *testing.T) {
	const n = 64
	tr := newTestTree(t)
	r := rand.New(rand.NewSource(7))
	for _, k := range r.Perm(n) {
		if err := tr.Insert(context.Background(), value.Int(int64(k))); err != nil {
			t.Fatalf("Insert(%d) error = %v", k, err)
		}
	}

	assertInvariants(t, tr.Root())
	if tr.Len() != n {
		t.Errorf("Len() = %d, want %d", tr.Len(), n)
	}
	keys, err := tr.InorderKeys()
	if err != nil {
		t.Fatalf("InorderKeys() error = %v", err)
	}
	if len(keys) != n {
		t.Fatalf("InorderKeys() returned %d keys, want %d", len(keys), n)
	}
	for i, k := range keys {
		if !value.Equal(k, value.Int(int64(i))) {
			t.Fatalf("keys[%d] = %s, want %d", i, k, i)
		}
	}
	for i := 0; i < n; i++ {
		ok, err := tr.Contains(value.Int(int64(i)))
		if err != nil {
			t.Fatalf("Contains(%d) error = %v", i, err)
		}
		if !ok {
			t.Errorf("Contains(%d) = false, want true", i)
		}
	}
	for _, miss := range []int64{-1, n, 1000} {
		ok, err := tr.Contains(value.Int(miss))
		if err != nil {
			t.Fatalf("Contains(%d) error = %v", miss, err)
		}
		if ok {
			t.Errorf("Contains(%d) = true, want false", miss)
		}
	}
}

func TestInsertDuplicateKeepsSize(t *testing.T) {
	tr := newTestTree(t)
	mustInsert(t, tr, 5, 3, 5)

	if tr.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tr.Len())
	}
	keys, err := tr.InorderKeys()
	if err != nil {
		t.Fatalf("InorderKeys() error = %v", err)
	}
	want := []int64{3, 5}
	if len(keys) != len(want) {
		t.Fatalf("InorderKeys() returned %d keys, want %d", len(keys), len(want))
	}
	for i, w := range want {
		if !value.Equal(keys[i], value.Int(w)) {
			t.Errorf("keys[%d] = %s, want %d", i, keys[i], w)
		}
	}
}

func TestEmptyTree(t *testing.T) {
	tr := newTestTree(t)

	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
	ok, err := tr.Contains(value.Int(1))
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if ok {
		t.Errorf("Contains(1) = true on an empty tree")
	}
	keys, err := tr.InorderKeys()
	if err != nil {
		t.Fatalf("InorderKeys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("InorderKeys() = %v, want none", keys)
	}
	assertInvariants(t, tr.Root())
}

func TestStringKeys(t *testing.T) {
	tr := newTestTree(t)
	for _, s := range []string{"banana", "apple", "cherry"} {
		if err := tr.Insert(context.Background(), value.String(s)); err != nil {
			t.Fatalf("Insert(%q) error = %v", s, err)
		}
	}

	keys, err := tr.InorderKeys()
	if err != nil {
		t.Fatalf("InorderKeys() error = %v", err)
	}
	want := []string{"apple", "banana", "cherry"}
	for i, w := range want {
		if !value.Equal(keys[i], value.String(w)) {
			t.Errorf("keys[%d] = %s, want %q", i, keys[i], w)
		}
	}
	ok, err := tr.Contains(value.String("banana"))
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if !ok {
		t.Errorf("Contains(banana) = false, want true")
	}
}

func TestMixedKeyKindsError(t *testing.T) {
	tr := newTestTree(t)
	mustInsert(t, tr, 1)

	err := tr.Insert(context.Background(), value.String("a"))
	if err == nil {
		t.Fatalf("Insert(string) after int did not fail")
	}
	if !strings.Contains(err.Error(), "cannot order") {
		t.Errorf("Insert() error = %v, want an ordering error", err)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d after failed insert, want 1", tr.Len())
	}
}
