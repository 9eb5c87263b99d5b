package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// JSON bridge. Tuples map to arrays, records to objects with field order
// preserved, and the two shapes JSON has no word for use reserved keys:
//
//	Variant  {"$tag": "Add", "$of": <payload>}   ($of omitted when nil)
//	Ref      {"$ref": <pointee>}                 (null pointee for the null ref)
//
// Object keys starting with '$' are reserved for this encoding.

const maxJSONDepth = 512

// EncodeJSON renders v as compact JSON.
func EncodeJSON(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJSONIndent renders v as indented JSON.
func EncodeJSONIndent(v Value, indent string) ([]byte, error) {
	compact, err := EncodeJSON(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", indent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeJSON(buf *bytes.Buffer, v Value) error {
	switch n := v.(type) {
	case nil, Nil:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(n)))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(n), 10))
	case Float:
		f := float64(n)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Errorf("cannot encode %v as JSON", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0" // keep the float kind through a round trip
		}
		buf.WriteString(s)
	case String:
		return writeJSONString(buf, string(n))
	case Tuple:
		buf.WriteByte('[')
		for i, e := range n {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Record:
		buf.WriteByte('{')
		for i, f := range n {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, f.Name); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeJSON(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Variant:
		buf.WriteString(`{"$tag":`)
		if err := writeJSONString(buf, n.Tag); err != nil {
			return err
		}
		if _, isNil := n.Payload.(Nil); !isNil && n.Payload != nil {
			buf.WriteString(`,"$of":`)
			if err := encodeJSON(buf, n.Payload); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Ref:
		buf.WriteString(`{"$ref":`)
		if n.Null() {
			buf.WriteString("null")
		} else if err := encodeJSON(buf, n.Elem); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cannot encode %T as JSON", v)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// DecodeJSON parses JSON into a Value. Object key order becomes record field
// order. Input deeper than the decode limit is rejected.
func DecodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec, 0)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxJSONDepth {
		return nil, fmt.Errorf("JSON nesting exceeds %d levels", maxJSONDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			var elems Tuple
			for dec.More() {
				e, err := decodeJSON(dec, depth+1)
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("decode JSON array: %w", err)
			}
			if elems == nil {
				elems = Tuple{}
			}
			return elems, nil
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("decode JSON object: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key %v is not a string", keyTok)
				}
				val, err := decodeJSON(dec, depth+1)
				if err != nil {
					return nil, err
				}
				fields = append(fields, Field{Name: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("decode JSON object: %w", err)
			}
			return interpretObject(fields)
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	case string:
		return String(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			i, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return Int(i), nil
			}
			// fall through to float for integers beyond int64
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("decode number %q: %w", s, err)
		}
		return Float(f), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Nil{}, nil
	default:
		return nil, fmt.Errorf("unexpected JSON token %v", tok)
	}
}

func interpretObject(fields []Field) (Value, error) {
	var tag, ref, of *Field
	reserved := 0
	for i := range fields {
		switch fields[i].Name {
		case "$tag":
			tag = &fields[i]
			reserved++
		case "$ref":
			ref = &fields[i]
			reserved++
		case "$of":
			of = &fields[i]
			reserved++
		}
	}
	switch {
	case tag != nil:
		name, ok := tag.Value.(String)
		if !ok {
			return nil, fmt.Errorf("$tag must be a string, got %s", tag.Value.Kind())
		}
		if len(fields) != reserved {
			return nil, fmt.Errorf("variant object for %q has extra keys", string(name))
		}
		var payload Value = Nil{}
		if of != nil {
			payload = of.Value
		}
		return NewVariant(string(name), payload), nil
	case ref != nil:
		if len(fields) != 1 {
			return nil, fmt.Errorf("ref object has extra keys")
		}
		if _, isNil := ref.Value.(Nil); isNil {
			return NullRef(), nil
		}
		return NewRef(ref.Value), nil
	default:
		for _, f := range fields {
			if strings.HasPrefix(f.Name, "$") {
				return nil, fmt.Errorf("key %q is reserved", f.Name)
			}
		}
		return NewRecord(fields...)
	}
}
