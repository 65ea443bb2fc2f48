package repo

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the declared type of a field.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "string"
	}
}

// ParseKind maps a type name to a Kind. Unknown names map to KindString.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "int32", "int64", "long":
		return KindInt
	case "float", "double", "single", "float32", "float64":
		return KindFloat
	case "bool", "boolean":
		return KindBool
	default:
		return KindString
	}
}

// MarshalText lets Kind appear as a type name in JSON and YAML documents.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// Value is a field value tagged with its Kind.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func Text(s string) Value   { return Value{kind: KindString, s: s} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// Zero returns the zero value of kind k.
func Zero(k Kind) Value {
	return Value{kind: k}
}

// Str returns the text payload; ok is false if v is not a string value.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Int64 returns the integer payload; ok is false if v is not an int value.
func (v Value) Int64() (int64, bool) { return v.i, v.kind == KindInt }

// Float64 returns the numeric payload. Int values widen.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// Boolean returns the bool payload; ok is false if v is not a bool value.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the payload as a plain Go scalar.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return v.s
	}
}

// String renders the payload for display.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	default:
		return v.s == o.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Coerce converts a decoded scalar into a Value of the declared kind.
// It accepts the shapes produced by encoding/json (with or without UseNumber)
// and yaml.v3, plus Value itself.
func Coerce(raw any, kind Kind) (Value, error) {
	if v, ok := raw.(Value); ok {
		return convert(v, kind)
	}
	switch x := raw.(type) {
	case nil:
		return Zero(kind), nil
	case string:
		return fromString(x, kind)
	case json.Number:
		return fromString(x.String(), kind)
	case bool:
		return convert(Bool(x), kind)
	case int:
		return convert(Int(int64(x)), kind)
	case int32:
		return convert(Int(int64(x)), kind)
	case int64:
		return convert(Int(x), kind)
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrKindMismatch, x)
		}
		return convert(Int(int64(x)), kind)
	case float32:
		return convert(Float(float64(x)), kind)
	case float64:
		return convert(Float(x), kind)
	}
	return Value{}, fmt.Errorf("%w: unsupported %T for %s", ErrKindMismatch, raw, kind)
}

func fromString(s string, kind Kind) (Value, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrKindMismatch, s)
		}
		return Int(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrKindMismatch, s)
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a bool", ErrKindMismatch, s)
		}
		return Bool(b), nil
	default:
		return Text(s), nil
	}
}

func convert(v Value, kind Kind) (Value, error) {
	if v.kind == kind {
		return v, nil
	}
	switch kind {
	case KindString:
		return Text(v.String()), nil
	case KindFloat:
		if v.kind == KindInt {
			return Float(float64(v.i)), nil
		}
	case KindInt:
		// JSON numbers decoded as float64 arrive here; accept whole numbers in
		// the int64 range only.
		if v.kind == KindFloat && v.f == math.Trunc(v.f) && v.f >= -(1<<63) && v.f < 1<<63 {
			return Int(int64(v.f)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: cannot use %s value as %s", ErrKindMismatch, v.kind, kind)
}
