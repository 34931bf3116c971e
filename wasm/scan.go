package wasm

import "fmt"

// FuncRefs walks a function body and returns the function indices it can
// reach directly: call and return_call targets plus ref.func operands.
// indirect reports a call_indirect, return_call_indirect or call_ref, which
// may reach any function whose reference was taken.
func FuncRefs(code []byte) (refs []uint32, indirect bool, err error) {
	r := newReader(code)
	for !r.eof() {
		op, _ := r.byte()
		switch {
		case op == OpCall || op == OpReturnCall || op == OpRefFunc:
			idx, err := r.u32()
			if err != nil {
				return nil, false, err
			}
			refs = append(refs, idx)
		case op == OpCallIndirect || op == OpReturnCallIndirect:
			indirect = true
			err = skipU32s(r, 2)
		case op == OpCallRef || op == OpReturnCallRef:
			indirect = true
			err = r.skipLEB()
		default:
			err = skipImmediates(r, op)
		}
		if err != nil {
			return nil, false, fmt.Errorf("offset %d: %w", r.pos, err)
		}
	}
	return refs, indirect, nil
}

// skipImmediates advances past the immediates of every opcode FuncRefs
// does not handle itself.
func skipImmediates(r *reader, op byte) error {
	switch {
	case op <= OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect,
		op >= OpI32Eqz && op <= OpI64Extend32S,
		op == OpRefIsNull, op == OpRefAsNonNull, op == OpRefEq:
		return nil
	case op >= OpBlock && op <= OpIf, op == OpRefNull:
		return r.skipLEB()
	case op == OpBr, op == OpBrIf, op == OpBrOnNull, op == OpBrOnNonNull,
		op >= OpLocalGet && op <= OpTableSet,
		op == OpMemorySize, op == OpMemoryGrow,
		op == OpI32Const, op == OpI64Const:
		return r.skipLEB()
	case op == OpBrTable:
		n, err := r.u32()
		if err != nil {
			return err
		}
		return skipU32s(r, int(n)+1)
	case op == OpSelectType:
		n, err := r.u32()
		if err != nil {
			return err
		}
		for range n {
			t, err := r.byte()
			if err != nil {
				return err
			}
			// (ref null ht) and (ref ht) carry a heap type
			if t == 0x63 || t == 0x64 {
				if err := r.skipLEB(); err != nil {
					return err
				}
			}
		}
		return nil
	case op >= OpI32Load && op <= OpI64Store32:
		return skipMemarg(r)
	case op == OpF32Const:
		_, err := r.bytes(4)
		return err
	case op == OpF64Const:
		_, err := r.bytes(8)
		return err
	case op == OpPrefixMisc:
		return skipMisc(r)
	case op == OpPrefixSIMD:
		return skipSIMD(r)
	case op == OpPrefixAtomic:
		sub, err := r.u32()
		if err != nil {
			return err
		}
		if sub == 0x03 { // atomic.fence
			_, err = r.byte()
			return err
		}
		return skipMemarg(r)
	default:
		return fmt.Errorf("unknown opcode 0x%02x", op)
	}
}

func skipU32s(r *reader, n int) error {
	for range n {
		if err := r.skipLEB(); err != nil {
			return err
		}
	}
	return nil
}

// skipMemarg skips an alignment (with the multi-memory index flag) and an
// offset.
func skipMemarg(r *reader) error {
	align, err := r.u32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 {
		if err := r.skipLEB(); err != nil {
			return err
		}
	}
	return r.skipLEB()
}

func skipMisc(r *reader) error {
	sub, err := r.u32()
	if err != nil {
		return err
	}
	switch {
	case sub <= 7: // saturating truncations
		return nil
	case sub == MiscMemoryInit, sub == MiscMemoryCopy, sub == 12, sub == 14: // table.init, table.copy
		return skipU32s(r, 2)
	case sub <= 18:
		return r.skipLEB()
	default:
		return fmt.Errorf("unknown 0xFC sub-opcode %d", sub)
	}
}

func skipSIMD(r *reader) error {
	sub, err := r.u32()
	if err != nil {
		return err
	}
	switch {
	case sub <= 0x0B, sub == 0x5C, sub == 0x5D: // loads and stores
		return skipMemarg(r)
	case sub == 0x0C, sub == 0x0D: // v128.const, i8x16.shuffle
		_, err := r.bytes(16)
		return err
	case sub >= 0x15 && sub <= 0x22: // extract and replace lane
		_, err := r.byte()
		return err
	case sub >= 0x54 && sub <= 0x5B: // load and store lane
		if err := skipMemarg(r); err != nil {
			return err
		}
		_, err := r.byte()
		return err
	default:
		return nil
	}
}

// ElementFuncRefs returns every function index the element section puts
// into a table or declares referenceable.
func (m *Module) ElementFuncRefs() ([]uint32, error) {
	if m.ElementSection == nil {
		return nil, nil
	}
	var refs []uint32
	r := newReader(m.ElementSection)
	err := readVec(r, func(r *reader) error {
		flags, err := r.u32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}
		if flags == 2 || flags == 6 {
			if err := r.skipLEB(); err != nil { // table index
				return err
			}
		}
		if flags&0x01 == 0 { // active: offset expression
			if _, err := readInitExpr(r); err != nil {
				return err
			}
		}
		if flags&0x04 == 0 {
			if flags&0x03 != 0 { // elemkind
				if _, err := r.byte(); err != nil {
					return err
				}
			}
			return readEach(r, func(r *reader) error {
				idx, err := r.u32()
				refs = append(refs, idx)
				return err
			})
		}
		if flags&0x03 != 0 {
			t, err := r.byte()
			if err != nil {
				return err
			}
			if t == 0x63 || t == 0x64 {
				if err := r.skipLEB(); err != nil {
					return err
				}
			}
		}
		return readEach(r, func(r *reader) error {
			expr, err := readInitExpr(r)
			if err != nil {
				return err
			}
			if len(expr) > 1 && expr[0] == OpRefFunc {
				idx, err := newReader(expr[1:]).u32()
				if err != nil {
					return err
				}
				refs = append(refs, idx)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("element section: %w", err)
	}
	return refs, nil
}

// readEach is readVec for a vector nested inside a larger structure.
func readEach(r *reader, each func(*reader) error) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for range count {
		if err := each(r); err != nil {
			return err
		}
	}
	return nil
}
