package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrNotConstant is returned by EvalConst for expressions that depend on
// imported state (global.get) or produce references.
var ErrNotConstant = errors.New("expression is not a numeric constant")

// EvalConst evaluates a numeric constant expression to its raw 64-bit stack
// representation. Floats are returned as their IEEE-754 bits.
func EvalConst(expr []byte) (uint64, ValType, error) {
	r := newReader(expr)
	type slot struct {
		bits uint64
		t    ValType
	}
	var stack []slot
	pop2 := func(t ValType) (uint64, uint64, error) {
		if len(stack) < 2 || stack[len(stack)-1].t != t || stack[len(stack)-2].t != t {
			return 0, 0, fmt.Errorf("constant expression: operand type mismatch")
		}
		a, b := stack[len(stack)-2].bits, stack[len(stack)-1].bits
		stack = stack[:len(stack)-2]
		return a, b, nil
	}

	for {
		op, err := r.byte()
		if err != nil {
			return 0, 0, err
		}
		switch op {
		case OpEnd:
			if len(stack) != 1 {
				return 0, 0, fmt.Errorf("constant expression leaves %d values", len(stack))
			}
			return stack[0].bits, stack[0].t, nil
		case OpI32Const:
			v, err := r.s64()
			if err != nil {
				return 0, 0, err
			}
			stack = append(stack, slot{uint64(uint32(int32(v))), ValI32})
		case OpI64Const:
			v, err := r.s64()
			if err != nil {
				return 0, 0, err
			}
			stack = append(stack, slot{uint64(v), ValI64})
		case OpF32Const:
			b, err := r.bytes(4)
			if err != nil {
				return 0, 0, err
			}
			stack = append(stack, slot{uint64(binary.LittleEndian.Uint32(b)), ValF32})
		case OpF64Const:
			b, err := r.bytes(8)
			if err != nil {
				return 0, 0, err
			}
			stack = append(stack, slot{binary.LittleEndian.Uint64(b), ValF64})
		case OpI32Add, OpI32Sub, OpI32Mul:
			a, b, err := pop2(ValI32)
			if err != nil {
				return 0, 0, err
			}
			x, y := uint32(a), uint32(b)
			var res uint32
			switch op {
			case OpI32Add:
				res = x + y
			case OpI32Sub:
				res = x - y
			default:
				res = x * y
			}
			stack = append(stack, slot{uint64(res), ValI32})
		case OpI64Add, OpI64Sub, OpI64Mul:
			a, b, err := pop2(ValI64)
			if err != nil {
				return 0, 0, err
			}
			var res uint64
			switch op {
			case OpI64Add:
				res = a + b
			case OpI64Sub:
				res = a - b
			default:
				res = a * b
			}
			stack = append(stack, slot{res, ValI64})
		default:
			return 0, 0, ErrNotConstant
		}
	}
}

// ConstExpr encodes a constant expression for a value of type t holding
// the raw stack bits.
func ConstExpr(t ValType, bits uint64) []byte {
	var out []byte
	switch t {
	case ValI32:
		out = AppendS64([]byte{OpI32Const}, int64(int32(uint32(bits))))
	case ValI64:
		out = AppendS64([]byte{OpI64Const}, int64(bits))
	case ValF32:
		out = binary.LittleEndian.AppendUint32([]byte{OpF32Const}, uint32(bits))
	case ValF64:
		out = binary.LittleEndian.AppendUint64([]byte{OpF64Const}, bits)
	default:
		panic(fmt.Sprintf("wasm: no constant encoding for %s", t))
	}
	return append(out, OpEnd)
}

// I32Expr encodes (i32.const v) end.
func I32Expr(v int32) []byte { return ConstExpr(ValI32, uint64(uint32(v))) }

// I64Expr encodes (i64.const v) end.
func I64Expr(v int64) []byte { return ConstExpr(ValI64, uint64(v)) }

// F32Expr encodes (f32.const v) end.
func F32Expr(v float32) []byte { return ConstExpr(ValF32, uint64(math.Float32bits(v))) }

// F64Expr encodes (f64.const v) end.
func F64Expr(v float64) []byte { return ConstExpr(ValF64, math.Float64bits(v)) }
