package hit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a dynamically typed field value. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	lit  string // exact decimal form of integer numbers
	b    bool
	list []Value
	m    Fields
}

// Fields maps field names to values.
type Fields map[string]Value

func Null() Value            { return Value{} }
func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Int(i int64) Value {
	return Value{kind: KindNumber, num: float64(i), lit: strconv.FormatInt(i, 10)}
}
func Uint(u uint64) Value {
	return Value{kind: KindNumber, num: float64(u), lit: strconv.FormatUint(u, 10)}
}
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }
func Map(f Fields) Value     { return Value{kind: KindMap, m: f} }
func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// IntVal returns integer numbers exactly; ok is false for fractional numbers
// and integers beyond int64.
func (v Value) IntVal() (int64, bool) {
	if v.kind != KindNumber || v.lit == "" {
		return 0, false
	}
	i, err := strconv.ParseInt(v.lit, 10, 64)
	return i, err == nil
}

func (v Value) BoolVal() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) ListVal() ([]Value, bool) { return v.list, v.kind == KindList }

func (v Value) MapVal() (Fields, bool) { return v.m, v.kind == KindMap }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, e := range v.list {
			out[i] = e.Clone()
		}
		return Value{kind: KindList, list: out}
	case KindMap:
		return Value{kind: KindMap, m: v.m.Clone()}
	default:
		return v
	}
}

// Interface converts v back into plain Go values.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.lit != "" {
			return json.Number(v.lit)
		}
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		return v.m.Interface()
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.lit != "" {
			return []byte(v.lit), nil
		}
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("hit: non-finite number %v", v.num)
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts host values into a Value.
func FromAny(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Fields:
		return Map(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return Uint(u), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("hit: number %q: %w", t, err)
		}
		return Number(f), nil
	case []string:
		out := make([]Value, len(t))
		for i, s := range t {
			out[i] = String(s)
		}
		return List(out...), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return List(out...), nil
	case []map[string]any:
		out := make([]Value, len(t))
		for i, e := range t {
			f, err := FieldsFrom(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = Map(f)
		}
		return List(out...), nil
	case map[string]any:
		f, err := FieldsFrom(t)
		if err != nil {
			return Value{}, err
		}
		return Map(f), nil
	default:
		return Value{}, fmt.Errorf("hit: unsupported value type %T", in)
	}
}

// FieldsFrom converts a plain map into Fields.
func FieldsFrom(in map[string]any) (Fields, error) {
	if in == nil {
		return nil, nil
	}
	out := make(Fields, len(in))
	for k, raw := range in {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.Clone()
	}
	return out
}

func (f Fields) Interface() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Interface()
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CloneAll deep-copies a record list.
func CloneAll(records []Fields) []Fields {
	if records == nil {
		return nil
	}
	out := make([]Fields, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// Records wraps a record list as a list Value of maps.
func Records(records []Fields) Value {
	out := make([]Value, len(records))
	for i, r := range records {
		out[i] = Map(r)
	}
	return List(out...)
}
