package schema

import (
	"bytes"
	"fmt"
	"slices"
)

// Value is a tagged variant over the NT4 kinds. The zero Value is absent.
type Value struct {
	kind    Kind
	present bool

	b   bool
	d   float64
	i   int64
	f   float32
	s   string
	raw []byte

	bools   []bool
	doubles []float64
	ints    []int64
	floats  []float32
	strs    []string
}

func Boolean(v bool) Value   { return Value{kind: KindBoolean, present: true, b: v} }
func Double(v float64) Value { return Value{kind: KindDouble, present: true, d: v} }
func Int(v int64) Value      { return Value{kind: KindInt, present: true, i: v} }
func Float(v float32) Value  { return Value{kind: KindFloat, present: true, f: v} }
func String(v string) Value  { return Value{kind: KindString, present: true, s: v} }
func Raw(v []byte) Value     { return Value{kind: KindRaw, present: true, raw: slices.Clone(nonNil(v))} }

func BooleanArray(v []bool) Value {
	return Value{kind: KindBooleanArray, present: true, bools: slices.Clone(nonNil(v))}
}
func DoubleArray(v []float64) Value {
	return Value{kind: KindDoubleArray, present: true, doubles: slices.Clone(nonNil(v))}
}
func IntArray(v []int64) Value {
	return Value{kind: KindIntArray, present: true, ints: slices.Clone(nonNil(v))}
}
func FloatArray(v []float32) Value {
	return Value{kind: KindFloatArray, present: true, floats: slices.Clone(nonNil(v))}
}
func StringArray(v []string) Value {
	return Value{kind: KindStringArray, present: true, strs: slices.Clone(nonNil(v))}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Kind returns the value's kind. It is meaningless when IsZero is true.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v holds no value.
func (v Value) IsZero() bool { return !v.present }

func (v Value) AsBoolean() (bool, bool)   { return v.b, v.present && v.kind == KindBoolean }
func (v Value) AsDouble() (float64, bool) { return v.d, v.present && v.kind == KindDouble }
func (v Value) AsInt() (int64, bool)      { return v.i, v.present && v.kind == KindInt }
func (v Value) AsFloat() (float32, bool)  { return v.f, v.present && v.kind == KindFloat }
func (v Value) AsString() (string, bool)  { return v.s, v.present && v.kind == KindString }

func (v Value) AsRaw() ([]byte, bool) {
	return slices.Clone(v.raw), v.present && v.kind == KindRaw
}

func (v Value) AsBooleanArray() ([]bool, bool) {
	return slices.Clone(v.bools), v.present && v.kind == KindBooleanArray
}

func (v Value) AsDoubleArray() ([]float64, bool) {
	return slices.Clone(v.doubles), v.present && v.kind == KindDoubleArray
}

func (v Value) AsIntArray() ([]int64, bool) {
	return slices.Clone(v.ints), v.present && v.kind == KindIntArray
}

func (v Value) AsFloatArray() ([]float32, bool) {
	return slices.Clone(v.floats), v.present && v.kind == KindFloatArray
}

func (v Value) AsStringArray() ([]string, bool) {
	return slices.Clone(v.strs), v.present && v.kind == KindStringArray
}

// Interface returns the held value as a plain Go value, nil when absent.
func (v Value) Interface() any {
	if !v.present {
		return nil
	}
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindDouble:
		return v.d
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindRaw:
		return slices.Clone(v.raw)
	case KindBooleanArray:
		return slices.Clone(v.bools)
	case KindDoubleArray:
		return slices.Clone(v.doubles)
	case KindIntArray:
		return slices.Clone(v.ints)
	case KindFloatArray:
		return slices.Clone(v.floats)
	case KindStringArray:
		return slices.Clone(v.strs)
	}
	return nil
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.present != o.present {
		return false
	}
	if !v.present {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == o.b
	case KindDouble:
		return v.d == o.d
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindRaw:
		return bytes.Equal(v.raw, o.raw)
	case KindBooleanArray:
		return slices.Equal(v.bools, o.bools)
	case KindDoubleArray:
		return slices.Equal(v.doubles, o.doubles)
	case KindIntArray:
		return slices.Equal(v.ints, o.ints)
	case KindFloatArray:
		return slices.Equal(v.floats, o.floats)
	case KindStringArray:
		return slices.Equal(v.strs, o.strs)
	}
	return false
}

func (v Value) String() string {
	if !v.present {
		return "<absent>"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Interface())
}
