package value

import "github.com/wippyai/wasm-hotswap/wasm"

// Kind tags a Value with the VM-side type it represents.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	KindString
	KindObject
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindBool:    "bool",
	KindString:  "string",
	KindObject:  "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Flat returns the core types a parameter of this kind lowers to.
func (k Kind) Flat() []wasm.ValType {
	switch k {
	case KindInt32, KindBool, KindObject:
		return []wasm.ValType{wasm.ValI32}
	case KindInt64:
		return []wasm.ValType{wasm.ValI64}
	case KindFloat32:
		return []wasm.ValType{wasm.ValF32}
	case KindFloat64:
		return []wasm.ValType{wasm.ValF64}
	case KindString:
		return []wasm.ValType{wasm.ValI32, wasm.ValI32}
	default:
		return nil
	}
}

// FlatResult returns the core result types of this kind. Strings come back
// through a single return pointer.
func (k Kind) FlatResult() []wasm.ValType {
	if k == KindString {
		return []wasm.ValType{wasm.ValI32}
	}
	return k.Flat()
}

// FromCore maps an undeclared core type to its natural kind.
func FromCore(t wasm.ValType) (Kind, bool) {
	switch t {
	case wasm.ValI32:
		return KindInt32, true
	case wasm.ValI64:
		return KindInt64, true
	case wasm.ValF32:
		return KindFloat32, true
	case wasm.ValF64:
		return KindFloat64, true
	default:
		return KindVoid, false
	}
}

// FlattenParams concatenates the lowered core types of params.
func FlattenParams(params []Kind) []wasm.ValType {
	var out []wasm.ValType
	for _, k := range params {
		out = append(out, k.Flat()...)
	}
	return out
}
