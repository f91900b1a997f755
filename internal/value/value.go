// Package value implements the engine's uniform tagged value: the single type that
// flows through the expression compiler, the VM's accumulator, and every adapter
// response.
package value

import (
	"fmt"
	"sort"
)

// Tag identifies the concrete shape held by a Value.
type Tag int

const (
	TagNull Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagSequence
	TagMapping
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagString:
		return "string"
	case TagSequence:
		return "sequence"
	case TagMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is the tagged union: Null | Bool | Int | Float | String | Sequence | Mapping.
// Only the field matching Tag is meaningful.
type Value struct {
	tag   Tag
	b     bool
	i     int64
	f     float64
	s     string
	seq   []Value
	mp    map[string]Value
	mKeys []string // preserves insertion order for Mapping iteration/serialization
}

func Null() Value                { return Value{tag: TagNull} }
func Bool(b bool) Value          { return Value{tag: TagBool, b: b} }
func Int(i int64) Value          { return Value{tag: TagInt, i: i} }
func Float(f float64) Value      { return Value{tag: TagFloat, f: f} }
func String(s string) Value      { return Value{tag: TagString, s: s} }
func Sequence(vs ...Value) Value { return Value{tag: TagSequence, seq: vs} }

// Mapping builds a Value from an ordered set of keys; m must contain every key in keys.
func Mapping(keys []string, m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{tag: TagMapping, mp: cp, mKeys: append([]string(nil), keys...)}
}

// NewMapping builds an empty, growable Mapping.
func NewMapping() Value {
	return Value{tag: TagMapping, mp: map[string]Value{}}
}

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNull() bool { return v.tag == TagNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.tag == TagBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.tag == TagInt }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.tag == TagFloat }
func (v Value) AsString() (string, bool)   { return v.s, v.tag == TagString }
func (v Value) AsSequence() ([]Value, bool) { return v.seq, v.tag == TagSequence }

// AsMapping returns the backing map and its insertion-ordered key list.
func (v Value) AsMapping() (map[string]Value, []string, bool) {
	return v.mp, v.mKeys, v.tag == TagMapping
}

// Get looks up a key in a Mapping value; returns Null, false if v is not a mapping or
// the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.tag != TagMapping {
		return Null(), false
	}
	val, ok := v.mp[key]
	return val, ok
}

// With returns a copy of the mapping with key set to val, appending key to the order
// list if new. v must be a Mapping (or Null, treated as empty).
func (v Value) With(key string, val Value) Value {
	mp := map[string]Value{}
	var keys []string
	if v.tag == TagMapping {
		for k, vv := range v.mp {
			mp[k] = vv
		}
		keys = append(keys, v.mKeys...)
	}
	if _, exists := mp[key]; !exists {
		keys = append(keys, key)
	}
	mp[key] = val
	return Value{tag: TagMapping, mp: mp, mKeys: keys}
}

// Truthy implements spec.md §3: Null and Bool(false) are false; zero/empty scalars and
// empty collections are false; everything else is true.
func (v Value) Truthy() bool {
	switch v.tag {
	case TagNull:
		return false
	case TagBool:
		return v.b
	case TagInt:
		return v.i != 0
	case TagFloat:
		return v.f != 0
	case TagString:
		return v.s != ""
	case TagSequence:
		return len(v.seq) > 0
	case TagMapping:
		return len(v.mp) > 0
	default:
		return false
	}
}

// Equal implements cross-tag equality: different tags are never equal (except the
// Int/Float numeric-promotion case, which Equal honors since == is explicitly excluded
// from the "cross-tag compare fails" rule in spec.md §3).
func (v Value) Equal(o Value) bool {
	if v.tag == TagInt && o.tag == TagFloat {
		return float64(v.i) == o.f
	}
	if v.tag == TagFloat && o.tag == TagInt {
		return v.f == float64(o.i)
	}
	if v.tag != o.tag {
		return false
	}
	switch v.tag {
	case TagNull:
		return true
	case TagBool:
		return v.b == o.b
	case TagInt:
		return v.i == o.i
	case TagFloat:
		return v.f == o.f
	case TagString:
		return v.s == o.s
	case TagSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case TagMapping:
		if len(v.mp) != len(o.mp) {
			return false
		}
		for k, vv := range v.mp {
			ov, ok := o.mp[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ErrTypeMismatch is returned by Compare when the two values cannot be ordered.
type ErrTypeMismatch struct {
	Left, Right Tag
}

func (e ErrTypeMismatch) Error() string {
	return fmt.Sprintf("cannot compare %s with %s", e.Left, e.Right)
}

// Compare orders numbers, strings, and equal tags; returns ErrTypeMismatch otherwise.
// Result is -1, 0, or 1.
func (v Value) Compare(o Value) (int, error) {
	if isNumeric(v.tag) && isNumeric(o.tag) {
		a, b := v.numeric(), o.numeric()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if v.tag == TagString && o.tag == TagString {
		switch {
		case v.s < o.s:
			return -1, nil
		case v.s > o.s:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, ErrTypeMismatch{Left: v.tag, Right: o.tag}
}

func isNumeric(t Tag) bool { return t == TagInt || t == TagFloat }

func (v Value) numeric() float64 {
	if v.tag == TagInt {
		return float64(v.i)
	}
	return v.f
}

// ToFloat promotes Int to Float for arithmetic; ok is false for non-numeric values.
func (v Value) ToFloat() (float64, bool) {
	if !isNumeric(v.tag) {
		return 0, false
	}
	return v.numeric(), true
}

// FromGo converts a plain Go value (as produced by json/yaml unmarshal into any) into a
// Value, recursively.
func FromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromGo(e)
		}
		return Sequence(out...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		mp := make(map[string]Value, len(t))
		for k, vv := range t {
			mp[k] = FromGo(vv)
		}
		return Mapping(keys, mp)
	default:
		return Null()
	}
}

// ToGo converts a Value back into a plain Go value suitable for json.Marshal.
func (v Value) ToGo() any {
	switch v.tag {
	case TagNull:
		return nil
	case TagBool:
		return v.b
	case TagInt:
		return v.i
	case TagFloat:
		return v.f
	case TagString:
		return v.s
	case TagSequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.ToGo()
		}
		return out
	case TagMapping:
		out := make(map[string]any, len(v.mp))
		for _, k := range v.mKeys {
			out[k] = v.mp[k].ToGo()
		}
		for k, vv := range v.mp {
			if _, seen := out[k]; !seen {
				out[k] = vv.ToGo()
			}
		}
		return out
	default:
		return nil
	}
}
