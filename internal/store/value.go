package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// ErrInvalidValue is returned for values that cannot be persisted.
var ErrInvalidValue = errors.New("invalid store value")

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindNumber
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a dynamically typed store value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	b    bool
	n    float64
	m    map[string]Value
}

func String(s string) Value  { return Value{kind: KindString, s: s} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(n int64) Value      { return Value{kind: KindNumber, n: float64(n)} }

// Map wraps m as a Value. The map is copied.
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: cloneMap(m)}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string held by v.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Bool returns the bool held by v.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the number held by v.
func (v Value) Number() (float64, bool) { return v.n, v.kind == KindNumber }

// Int returns the number held by v truncated to an integer.
func (v Value) Int() (int64, bool) { return int64(v.n), v.kind == KindNumber }

// Map returns a copy of the map held by v.
func (v Value) Map() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return cloneMap(v.m), true
}

// StringOr returns the string held by v, or def.
func (v Value) StringOr(def string) string {
	if s, ok := v.Str(); ok {
		return s
	}
	return def
}

// BoolOr returns the bool held by v, or def.
func (v Value) BoolOr(def bool) bool {
	if b, ok := v.Bool(); ok {
		return b
	}
	return def
}

// Field returns the value stored under key in a map Value.
func (v Value) Field(key string) Value {
	if v.kind != KindMap {
		return Value{}
	}
	return v.m[key]
}

// Validate reports values JSON cannot encode: NaN and infinite numbers,
// at any depth.
func (v Value) Validate() error {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("%w: non-finite number %v", ErrInvalidValue, v.n)
		}
	case KindMap:
		for k, e := range v.m {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}
	return nil
}

// Equal reports whether v and o hold the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindMap:
		return maps.EqualFunc(v.m, o.m, Value.Equal)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindMap:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return "null"
	}
}

// MarshalJSON encodes v as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON scalar or object into v. Arrays are
// rejected since the store has no list kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '{':
		m := map[string]Value{}
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*v = Value{kind: KindMap, m: m}
		return nil
	case '[':
		return fmt.Errorf("unsupported value type: array")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
		return nil
	}
}

func cloneMap(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		if v.kind == KindMap {
			v = Value{kind: KindMap, m: cloneMap(v.m)}
		}
		out[k] = v
	}
	return out
}
