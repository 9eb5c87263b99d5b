package value

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"scalars", NewTuple(Nil{}, Bool(true), Int(-7), Float(1.25), String("hi"))},
		{"float keeps kind", Float(3)},
		{"record order", MustRecord(Field{"z", Int(1)}, Field{"a", Int(2)})},
		{"variant", NewVariant("Add", NewTuple(NewRef(NewVariant("int", Int(1))), NullRef()))},
		{"nullary variant", NewVariant("R", nil)},
		{"null ref", NullRef()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeJSON(tt.v)
			if err != nil {
				t.Fatalf("EncodeJSON() error = %v", err)
			}
			back, err := DecodeJSON(data)
			if err != nil {
				t.Fatalf("DecodeJSON(%s) error = %v", data, err)
			}
			if !Equal(tt.v, back) {
				t.Errorf("round trip changed value: %s -> %s -> %s", tt.v, data, back)
			}
			// Kind must survive too: Equal is numeric across int/float.
			if tt.v.Kind() != back.Kind() {
				t.Errorf("round trip changed kind: %s -> %s", tt.v.Kind(), back.Kind())
			}
		})
	}
}

func TestJSONRecordOrderPreserved(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"z": 1, "a": {"m": 2, "b": 3}}`))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	r, ok := v.(Record)
	if !ok {
		t.Fatalf("DecodeJSON() = %T, want Record", v)
	}
	if diff := cmp.Diff([]string{"z", "a"}, FieldNames(r)); diff != "" {
		t.Errorf("field order mismatch (-want +got):\n%s", diff)
	}
	inner := r[1].Value.(Record)
	if diff := cmp.Diff([]string{"m", "b"}, FieldNames(inner)); diff != "" {
		t.Errorf("nested field order mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONVariantEncoding(t *testing.T) {
	data, err := EncodeJSON(NewVariant("Neg", MustRecord(Field{"expr", NullRef()})))
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	want := `{"$tag":"Neg","$of":{"expr":{"$ref":null}}}`
	if string(data) != want {
		t.Errorf("EncodeJSON() = %s, want %s", data, want)
	}
}

func TestDecodeJSONErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		frag  string
	}{
		{"reserved key", `{"$weird": 1}`, "reserved"},
		{"tag not string", `{"$tag": 3}`, "$tag"},
		{"variant extra keys", `{"$tag": "A", "x": 1}`, "extra keys"},
		{"ref extra keys", `{"$ref": 1, "x": 2}`, "extra keys"},
		{"trailing data", `1 2`, "trailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.input))
			if err == nil {
				t.Fatalf("DecodeJSON(%s) = nil error, want error", tt.input)
			}
			if !strings.Contains(err.Error(), tt.frag) {
				t.Errorf("error %q does not mention %q", err, tt.frag)
			}
		})
	}
}

func TestDecodeJSONNumbers(t *testing.T) {
	v, err := DecodeJSON([]byte(`[3, 3.0, 3e2]`))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	tup := v.(Tuple)
	if tup[0].Kind() != KindInt {
		t.Errorf("3 decoded as %s, want int", tup[0].Kind())
	}
	if tup[1].Kind() != KindFloat {
		t.Errorf("3.0 decoded as %s, want float", tup[1].Kind())
	}
	if tup[2].Kind() != KindFloat {
		t.Errorf("3e2 decoded as %s, want float", tup[2].Kind())
	}
}
