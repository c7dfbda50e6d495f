// Package kvset implements the structured property set carried by control
// requests: an ordered key/value payload with a compact TLV wire form and a
// JSON text form.
//
// The TLV form round-trips every kind. The JSON form keeps order, nesting and
// floats (integral floats render as "2.0"), but two kind pairs collapse:
// a Uint that fits in int64 parses back as Int, and Bytes render as base64
// and parse back as String.
package kvset

import (
	"bytes"
	"slices"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindUint
	KindFloat
	KindBool
	KindBytes
	KindSet
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindSet:
		return "set"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is one property value. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Uint  uint64
	Float float64
	Bool  bool
	Bytes []byte
	Set   *Set
	List  []Value
}

func Null() Value               { return Value{Kind: KindNull} }
func String(v string) Value     { return Value{Kind: KindString, Str: v} }
func Int(v int64) Value         { return Value{Kind: KindInt, Int: v} }
func Uint(v uint64) Value       { return Value{Kind: KindUint, Uint: v} }
func Float(v float64) Value     { return Value{Kind: KindFloat, Float: v} }
func Bool(v bool) Value         { return Value{Kind: KindBool, Bool: v} }
func Bytes(v []byte) Value      { return Value{Kind: KindBytes, Bytes: slices.Clone(v)} }
func Nested(v *Set) Value       { return Value{Kind: KindSet, Set: v} }
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Equal reports whether two values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindUint:
		return v.Uint == o.Uint
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindSet:
		return v.Set.Equal(o.Set)
	case KindList:
		return slices.EqualFunc(v.List, o.List, Value.Equal)
	default:
		return false
	}
}

// Property is one key/value entry of a Set.
type Property struct {
	Key   string
	Value Value
}

// Set is an ordered property set. Keys are unique; Put on an existing key
// replaces the value in place and keeps its position.
type Set struct {
	props []Property
}

func New() *Set {
	return &Set{}
}

func (s *Set) Put(key string, v Value) *Set {
	for i := range s.props {
		if s.props[i].Key == key {
			s.props[i].Value = v
			return s
		}
	}
	s.props = append(s.props, Property{Key: key, Value: v})
	return s
}

func (s *Set) Get(key string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	for _, p := range s.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

func (s *Set) Delete(key string) bool {
	for i, p := range s.props {
		if p.Key == key {
			s.props = slices.Delete(s.props, i, i+1)
			return true
		}
	}
	return false
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.props)
}

// Properties returns a copy of the entries in insertion order.
func (s *Set) Properties() []Property {
	if s == nil {
		return nil
	}
	return slices.Clone(s.props)
}

// GetString returns the string stored under key.
func (s *Set) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// GetUint returns a non-negative integer stored under key, accepting both
// signed and unsigned encodings.
func (s *Set) GetUint(key string) (uint64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindUint:
		return v.Uint, true
	case KindInt:
		if v.Int < 0 {
			return 0, false
		}
		return uint64(v.Int), true
	default:
		return 0, false
	}
}

// Equal reports whether both sets hold the same properties in the same order.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i := 0; i < s.Len(); i++ {
		a, b := s.props[i], o.props[i]
		if a.Key != b.Key || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}
