package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindInvalid
	KindString
	KindInt
	KindDouble
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInvalid:
		return "invalid"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single cell. The zero Value is empty.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// Null returns the empty value.
func Null() Value { return Value{} }

// Invalid returns a value marking a cell that could not be computed.
func Invalid() Value { return Value{kind: KindInvalid} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the kind of value held.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is the empty value.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// IsInvalid reports whether v marks a failed computation.
func (v Value) IsInvalid() bool { return v.kind == KindInvalid }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsDouble returns v as a float. Integers are widened.
func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindDouble:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	}
	return true
}

// String renders v for display. Empty renders as "" and invalid as "#invalid".
func (v Value) String() string {
	switch v.kind {
	case KindInvalid:
		return "#invalid"
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

var invalidJSON = []byte(`{"invalid":true}`)

// MarshalJSON encodes empty as null and invalid as {"invalid":true}. Doubles
// always carry a decimal point or exponent; non-finite doubles encode as invalid.
// Strings that are not valid UTF-8 encode as {"bytes":"<base64>"} so their
// bytes survive a round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindInvalid:
		return invalidJSON, nil
	case KindString:
		if !utf8.ValidString(v.s) {
			return json.Marshal(struct {
				Bytes string `json:"bytes"`
			}{base64.StdEncoding.EncodeToString([]byte(v.s))})
		}
		return json.Marshal(v.s)
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return invalidJSON, nil
		}
		out := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(out, ".eE") {
			out += ".0"
		}
		return []byte(out), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	}
	return nil, fmt.Errorf("stream: cannot encode value of %s", v.kind)
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("stream: empty value")
	case bytes.Equal(data, []byte("null")):
		*v = Null()
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case data[0] == '{':
		var obj struct {
			Invalid bool    `json:"invalid"`
			Bytes   *string `json:"bytes"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Bytes != nil {
			raw, err := base64.StdEncoding.DecodeString(*obj.Bytes)
			if err != nil {
				return fmt.Errorf("stream: decoding bytes: %w", err)
			}
			*v = String(string(raw))
			return nil
		}
		if !obj.Invalid {
			return fmt.Errorf("stream: unexpected object value %s", data)
		}
		*v = Invalid()
		return nil
	case bytes.Equal(data, []byte("true")):
		*v = Bool(true)
		return nil
	case bytes.Equal(data, []byte("false")):
		*v = Bool(false)
		return nil
	}

	text := string(data)
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("stream: decoding %q: %w", text, err)
		}
		*v = Double(f)
		return nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("stream: decoding %q: %w", text, err)
	}
	*v = Int(i)
	return nil
}

// FromAny converts a decoded configuration or JSON value into a Value.
// Whole float64 values stay doubles.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint32:
		return Int(int64(v)), nil
	case float32:
		return Double(float64(v)), nil
	case float64:
		return Double(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("stream: decoding number %q: %w", v, err)
		}
		return Double(f), nil
	}
	return Value{}, fmt.Errorf("stream: unsupported value type %T", x)
}
