package value

import (
	"strings"
	"testing"
)

func TestEqualNumericCrossKind(t *testing.T) {
	if !Equal(Int(0), Float(0)) {
		t.Errorf("Equal(Int(0), Float(0)) = false, want true")
	}
	if !Equal(Float(2), Int(2)) {
		t.Errorf("Equal(Float(2), Int(2)) = false, want true")
	}
	if Equal(Int(1), Float(1.5)) {
		t.Errorf("Equal(Int(1), Float(1.5)) = true, want false")
	}
	if Equal(Int(1), String("1")) {
		t.Errorf("Equal(Int(1), String(\"1\")) = true, want false")
	}
}

func TestEqualStructural(t *testing.T) {
	lhs := NewVariant("Add", NewTuple(NewRef(NewVariant("int", Int(1))), NewRef(NewVariant("int", Int(2)))))
	rhs := NewVariant("Add", NewTuple(NewRef(NewVariant("int", Int(1))), NewRef(NewVariant("int", Int(2)))))
	if !Equal(lhs, rhs) {
		t.Errorf("Equal() = false for identical trees")
	}
	other := NewVariant("Add", NewTuple(NewRef(NewVariant("int", Int(1))), NewRef(NewVariant("int", Int(3)))))
	if Equal(lhs, other) {
		t.Errorf("Equal() = true for differing trees")
	}
}

func TestEqualRefs(t *testing.T) {
	if !Equal(NullRef(), NullRef()) {
		t.Errorf("null refs should compare equal")
	}
	if Equal(NullRef(), NewRef(Nil{})) {
		t.Errorf("null ref should not equal ref-to-nil")
	}
	if !Equal(NewRef(Int(1)), NewRef(Int(1))) {
		t.Errorf("refs should compare by pointee")
	}
}

func TestNewRecordRejectsDuplicates(t *testing.T) {
	_, err := NewRecord(Field{Name: "x", Value: Int(1)}, Field{Name: "x", Value: Int(2)})
	if err == nil {
		t.Fatalf("NewRecord() with duplicate field = nil error, want error")
	}
	if !strings.Contains(err.Error(), "x") {
		t.Errorf("error %q does not name the field", err)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", Nil{}, "nil"},
		{"int", Int(-3), "-3"},
		{"float keeps point", Float(2), "2.0"},
		{"string quoted", String(`a"b`), `"a\"b"`},
		{"tuple", NewTuple(Int(1), String("x")), `[1, "x"]`},
		{"record", MustRecord(Field{"lhs", Int(1)}, Field{"rhs", Int(2)}), "{lhs: 1, rhs: 2}"},
		{"nullary variant", NewVariant("R", nil), "R"},
		{"tuple variant", NewVariant("V", NewTuple(Int(1), Int(2))), "V(1, 2)"},
		{"record variant", NewVariant("Add", MustRecord(Field{"lhs", Int(1)})), "Add{lhs: 1}"},
		{"bare variant", NewVariant("int", Int(5)), "int(5)"},
		{"ref", NewRef(Int(7)), "&7"},
		{"null ref", NullRef(), "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	got, err := Compare(Int(1), Float(1.5))
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if got != -1 {
		t.Errorf("Compare(1, 1.5) = %d, want -1", got)
	}
	got, err = Compare(String("b"), String("a"))
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if got != 1 {
		t.Errorf("Compare(\"b\", \"a\") = %d, want 1", got)
	}
	if _, err := Compare(Int(1), String("a")); err == nil {
		t.Errorf("Compare(int, string) = nil error, want error")
	}
}

func TestSize(t *testing.T) {
	v := NewVariant("Neg", MustRecord(Field{"expr", NewRef(NewVariant("int", Int(1)))}))
	// Neg, record, ref, int variant, 1
	if got := Size(v); got != 5 {
		t.Errorf("Size() = %d, want 5", got)
	}
}

func TestWalkSkipsChildren(t *testing.T) {
	v := NewTuple(NewRef(Int(1)), Int(2))
	var seen []Kind
	Walk(v, func(n Value) bool {
		seen = append(seen, n.Kind())
		return n.Kind() != KindRef
	})
	for _, k := range seen {
		if k == KindInt {
			// Int(2) is a direct tuple element, so one int is expected;
			// the int behind the ref must not appear.
			continue
		}
	}
	ints := 0
	for _, k := range seen {
		if k == KindInt {
			ints++
		}
	}
	if ints != 1 {
		t.Errorf("Walk() visited %d ints, want 1 (ref children skipped)", ints)
	}
}
