package protocol

import "fmt"

// Value is a self-describing payload value: the tagged union the wire
// format serializes. It stands in for the reference implementation's
// untyped object graph (spec.md §6) while staying exhaustively matchable
// in Go (spec.md §9 "dynamic packet payload").
type Value struct {
	kind valueKind
	b    bool
	i    int64
	s    string
	list []Value
	m    map[string]Value
}

type valueKind byte

const (
	kindNil valueKind = iota
	kindBool
	kindInt
	kindString
	kindList
	kindMap
)

// Nil is the absent/null value.
var Nil = Value{kind: kindNil}

func Bool(b bool) Value { return Value{kind: kindBool, b: b} }
func Int(i int64) Value { return Value{kind: kindInt, i: i} }
func Str(s string) Value { return Value{kind: kindString, s: s} }
func List(items ...Value) Value { return Value{kind: kindList, list: items} }

// Map builds a string-keyed map value from alternating key/value pairs,
// e.g. Map("code", Int(1), "player", Str("alice")).
func Map(pairs ...any) Value {
	m := make(map[string]Value, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("protocol.Map: key %d is not a string: %v", i, pairs[i]))
		}
		val, ok := pairs[i+1].(Value)
		if !ok {
			panic(fmt.Sprintf("protocol.Map: value for key %q is not a Value", key))
		}
		m[key] = val
	}
	return Value{kind: kindMap, m: m}
}

// MapOf builds a map value directly from a map[string]Value.
func MapOf(m map[string]Value) Value {
	return Value{kind: kindMap, m: m}
}

func (v Value) IsNil() bool { return v.kind == kindNil }

func (v Value) AsBool() (bool, bool) {
	if v.kind != kindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != kindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != kindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != kindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != kindMap {
		return nil, false
	}
	return v.m, true
}

// Get looks up a key in a map value. Returns Nil, false if v is not a
// map or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Nil, false
	}
	val, ok := m[key]
	return val, ok
}

// GetString is a convenience for the common case of reading a string
// field out of a map value.
func (v Value) GetString(key string) (string, bool) {
	val, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return val.AsString()
}

// GetInt is a convenience for reading an integer field out of a map value.
func (v Value) GetInt(key string) (int64, bool) {
	val, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return val.AsInt()
}
