package value

import (
	"unicode/utf8"

	hotswap "github.com/wippyai/wasm-hotswap"
	"github.com/wippyai/wasm-hotswap/errors"
)

// Lowerer moves Values between their tagged form and the flat core stack
// of one call. Strings are allocated through Alloc when lowering and
// always copied out of Mem when lifting.
type Lowerer struct {
	Mem   hotswap.Memory
	Alloc hotswap.Allocator
	Owner uint64
}

// Lower appends the core representation of v to dst.
func (l *Lowerer) Lower(v Value, dst []uint64) ([]uint64, error) {
	switch v.kind {
	case KindVoid:
		return dst, nil
	case KindString:
		if len(v.str) == 0 {
			return append(dst, 0, 0), nil
		}
		if l.Alloc == nil || l.Mem == nil {
			return nil, errors.NotInitialized(errors.PhaseInvoke, "guest allocator")
		}
		size := uint32(len(v.str))
		ptr, err := l.Alloc.Alloc(size, 1)
		if err != nil {
			return nil, errors.AllocationFailed(errors.PhaseInvoke, size, 1, err)
		}
		if err := l.Mem.Write(ptr, []byte(v.str)); err != nil {
			return nil, err
		}
		return append(dst, uint64(ptr), uint64(size)), nil
	case KindObject:
		if !v.ref.IsNull() && v.ref.owner != l.Owner {
			return nil, errors.InvalidInput(errors.PhaseInvoke, "object reference belongs to another session")
		}
		return append(dst, uint64(v.ref.Addr)), nil
	default:
		return append(dst, v.bits), nil
	}
}

// Lift reads one value of kind k from the front of flat, with strings as a
// (ptr, len) pair. It returns the number of stack slots consumed.
func (l *Lowerer) Lift(k Kind, flat []uint64) (Value, int, error) {
	n := len(k.Flat())
	if len(flat) < n {
		return Value{}, 0, errors.InvalidData(errors.PhaseInvoke, nil, "core stack shorter than signature")
	}
	if k != KindString {
		return FromBits(k, firstOr(flat), l.Owner), n, nil
	}
	s, err := l.readString(uint32(flat[0]), uint32(flat[1]))
	if err != nil {
		return Value{}, 0, err
	}
	return String(s), n, nil
}

// LiftResult reads the result of kind k from a call's core results. A
// string result is a return pointer to a (ptr, len) pair.
func (l *Lowerer) LiftResult(k Kind, results []uint64) (Value, error) {
	if k == KindVoid {
		return Void(), nil
	}
	if len(results) == 0 {
		return Value{}, errors.InvalidData(errors.PhaseInvoke, nil, "missing call result")
	}
	if k != KindString {
		return FromBits(k, results[0], l.Owner), nil
	}
	if l.Mem == nil {
		return Value{}, errors.NotInitialized(errors.PhaseInvoke, "linear memory")
	}
	retptr := uint32(results[0])
	ptr, err := l.Mem.ReadU32(retptr)
	if err != nil {
		return Value{}, err
	}
	n, err := l.Mem.ReadU32(retptr + 4)
	if err != nil {
		return Value{}, err
	}
	s, err := l.readString(ptr, n)
	if err != nil {
		return Value{}, err
	}
	return String(s), nil
}

func (l *Lowerer) readString(ptr, n uint32) (string, error) {
	if n == 0 {
		return "", nil
	}
	if l.Mem == nil {
		return "", errors.NotInitialized(errors.PhaseInvoke, "linear memory")
	}
	b, err := l.Mem.Read(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidData(errors.PhaseInvoke, nil, "guest string is not valid UTF-8")
	}
	// string(b) copies; the host never keeps a view into guest memory
	return string(b), nil
}

func firstOr(flat []uint64) uint64 {
	if len(flat) == 0 {
		return 0
	}
	return flat[0]
}
