package value

import (
	"fmt"
	"math"
)

// Ref is a non-owning reference to an object in guest memory. It is only
// meaningful to the session that produced it and only while that session
// is alive.
type Ref struct {
	Addr  uint32
	owner uint64
}

// NewRef tags addr with the identity of the owning session.
func NewRef(owner uint64, addr uint32) Ref {
	return Ref{Addr: addr, owner: owner}
}

// Owner returns the identity of the session the reference belongs to.
func (r Ref) Owner() uint64 {
	return r.owner
}

// IsNull reports whether the reference points nowhere.
func (r Ref) IsNull() bool {
	return r.Addr == 0
}

// Value is a kind-tagged value crossing the host/VM boundary. Scalars are
// kept in their core stack representation.
type Value struct {
	str  string
	bits uint64
	ref  Ref
	kind Kind
}

func Void() Value { return Value{kind: KindVoid} }

func Int32(v int32) Value { return Value{kind: KindInt32, bits: uint64(uint32(v))} }

func Int64(v int64) Value { return Value{kind: KindInt64, bits: uint64(v)} }

func Float32(v float32) Value {
	return Value{kind: KindFloat32, bits: uint64(math.Float32bits(v))}
}

func Float64(v float64) Value { return Value{kind: KindFloat64, bits: math.Float64bits(v)} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Object(r Ref) Value { return Value{kind: KindObject, bits: uint64(r.Addr), ref: r} }

// FromBits builds a scalar value from its core stack representation.
func FromBits(k Kind, bits uint64, owner uint64) Value {
	switch k {
	case KindInt32, KindFloat32:
		return Value{kind: k, bits: uint64(uint32(bits))}
	case KindBool:
		return Bool(uint32(bits) != 0)
	case KindObject:
		return Object(NewRef(owner, uint32(bits)))
	case KindVoid:
		return Void()
	default:
		return Value{kind: k, bits: bits}
	}
}

func (v Value) Kind() Kind       { return v.kind }
func (v Value) Int32() int32     { return int32(uint32(v.bits)) }
func (v Value) Int64() int64     { return int64(v.bits) }
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }
func (v Value) Bool() bool       { return v.bits != 0 }
func (v Value) Str() string      { return v.str }
func (v Value) Ref() Ref         { return v.ref }

// Bits returns the core stack representation of a scalar value.
func (v Value) Bits() uint64 { return v.bits }

// Interface returns the host-native Go value.
func (v Value) Interface() any {
	return FromVM(v)
}

// Equal compares kind and payload. Floats compare by bit pattern, so NaN
// equals an identical NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindObject:
		return v.ref == o.ref
	default:
		return v.bits == o.bits
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindObject:
		return fmt.Sprintf("ref(0x%x)", v.ref.Addr)
	default:
		return fmt.Sprint(FromVM(v))
	}
}
