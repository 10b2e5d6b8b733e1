// Package heap implements ember's runtime value representation, the
// tracing mark-sweep garbage collector, and the open-addressed hash table
// shared by the globals table and the string-interning table.
package heap

import (
	"fmt"
)

// Kind identifies the tag of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// Value is ember's tagged union: nil, bool, number (float64) or a reference
// to a heap Obj. It is not NaN-boxed — a plain tagged struct is simpler to
// reason about and ember has no performance requirement that demands the
// boxing trick.
type Value struct {
	kind Kind
	num  float64
	obj  Obj
}

var Nil = Value{kind: KindNil}

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool, num: 0}
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func FromObj(o Obj) Value { return Value{kind: KindObj, obj: o} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNil() bool  { return v.kind == KindNil }
func (v Value) IsBool() bool { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObj() bool  { return v.kind == KindObj }

func (v Value) AsBool() bool     { return v.num != 0 }
func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsObj() Obj       { return v.obj }

// Truthy implements ember's truthiness rule: nil and false are falsy,
// everything else (including 0 and the empty string) is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.AsBool()
	default:
		return true
	}
}

// Equal implements the VM's EQU/NOT_EQU opcodes: nil equals only nil,
// booleans and numbers compare by value, objects compare by identity except
// strings, which compare by content (names are interned so identity
// equality and content equality coincide for strings that went through the
// intern table, but Equal does a content compare defensively).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.AsBool() == o.AsBool()
	case KindNumber:
		return v.num == o.num
	case KindObj:
		if vs, ok := v.obj.(*String); ok {
			if os, ok := o.obj.(*String); ok {
				return vs.Value == os.Value
			}
			return false
		}
		return v.obj == o.obj
	}
	return false
}

// String implements ember's print/println formatting rules: quoted
// recursive list printing, %.16g numbers, true/false, nil.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindNumber:
		return fmt.Sprintf("%.16g", v.num)
	case KindObj:
		return v.obj.display(false)
	}
	return "<invalid value>"
}

// GoString is used for debug/disassembly output.
func (v Value) GoString() string {
	return fmt.Sprintf("Value(%s)", v.String())
}
