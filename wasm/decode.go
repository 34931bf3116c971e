package wasm

import (
	"errors"
	"fmt"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module.
//
// Only the MVP type section form (0x60 function types) is accepted, along
// with bulk-memory data segments and mutable globals. GC types, tags and
// memory64 are rejected.
func ParseModule(data []byte) (*Module, error) {
	r := newReader(data)

	magic, err := r.u32le()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.u32le()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int
	for !r.eof() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastOrder = order
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		payload, err := r.bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d data: %w", id, err)
		}
		if err := parseSection(id, newReader(payload), m); err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(id), err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function count %d does not match code count %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func parseSection(id byte, r *reader, m *Module) error {
	switch id {
	case SectionCustom:
		name, err := r.name()
		if err != nil {
			return err
		}
		m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: r.rest()})
		return nil
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return readVec(r, func(r *reader) error {
			idx, err := r.u32()
			m.Funcs = append(m.Funcs, idx)
			return err
		})
	case SectionTable:
		return readVec(r, func(r *reader) error {
			t, err := readTableType(r)
			m.Tables = append(m.Tables, t)
			return err
		})
	case SectionMemory:
		return readVec(r, func(r *reader) error {
			l, err := readLimits(r)
			m.Memories = append(m.Memories, MemoryType{Limits: l})
			return err
		})
	case SectionGlobal:
		return readVec(r, func(r *reader) error {
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			init, err := readInitExpr(r)
			m.Globals = append(m.Globals, Global{Type: gt, Init: init})
			return err
		})
	case SectionExport:
		return readVec(r, func(r *reader) error {
			name, err := r.name()
			if err != nil {
				return err
			}
			kind, err := r.byte()
			if err != nil {
				return err
			}
			if kind > KindGlobal {
				return fmt.Errorf("invalid export kind: 0x%02x", kind)
			}
			idx, err := r.u32()
			m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
			return err
		})
	case SectionStart:
		idx, err := r.u32()
		if err != nil {
			return err
		}
		m.Start = &idx
		return nil
	case SectionElement:
		m.ElementSection = r.rest()
		return nil
	case SectionCode:
		return readVec(r, func(r *reader) error {
			body, err := readFuncBody(r)
			m.Code = append(m.Code, body)
			return err
		})
	case SectionData:
		return readVec(r, func(r *reader) error {
			seg, err := readDataSegment(r)
			m.Data = append(m.Data, seg)
			return err
		})
	case SectionDataCount:
		n, err := r.u32()
		if err != nil {
			return err
		}
		m.DataCount = &n
		return nil
	case SectionTag:
		return errors.New("exception handling tags are not supported")
	default:
		return fmt.Errorf("unknown section ID: 0x%02x", id)
	}
}

// sectionOrder returns the canonical ordering for a section ID.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 100
	}
}

func sectionName(id byte) string {
	names := [...]string{"custom", "type", "import", "function", "table", "memory",
		"global", "export", "start", "element", "code", "data", "data count", "tag"}
	if int(id) < len(names) {
		return names[id]
	}
	return fmt.Sprintf("0x%02x", id)
}

func readVec(r *reader, each func(*reader) error) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := each(r); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	if !r.eof() {
		return fmt.Errorf("%d trailing bytes", len(r.data)-r.pos)
	}
	return nil
}

func parseTypeSection(r *reader, m *Module) error {
	return readVec(r, func(r *reader) error {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
		return nil
	})
}

func readValTypes(r *reader) ([]ValType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	raw, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]ValType, n)
	for i, b := range raw {
		out[i] = ValType(b)
	}
	return out, nil
}

func parseImportSection(r *reader, m *Module) error {
	return readVec(r, func(r *reader) error {
		module, err := r.name()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.u32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var l Limits
			l, err = readLimits(r)
			imp.Desc.Memory = &MemoryType{Limits: l}
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, imp)
		return nil
	})
}

func readLimits(r *reader) (Limits, error) {
	flags, err := r.byte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsMemory64 != 0 {
		return Limits{}, errors.New("memory64 is not supported")
	}
	l := Limits{Shared: flags&LimitsShared != 0}
	if l.Min, err = r.u32(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.u32()
		if err != nil {
			return Limits{}, err
		}
		if l.Min > maxVal {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, maxVal)
		}
		l.Max = &maxVal
	}
	return l, nil
}

func readTableType(r *reader) (TableType, error) {
	elem, err := r.byte()
	if err != nil {
		return TableType{}, err
	}
	if elem != byte(ValFuncRef) && elem != byte(ValExtern) {
		return TableType{}, fmt.Errorf("unsupported table element type 0x%02x", elem)
	}
	l, err := readLimits(r)
	return TableType{ElemType: elem, Limits: l}, err
}

func readGlobalType(r *reader) (GlobalType, error) {
	vt, err := r.byte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.byte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: ValType(vt), Mutable: mut == 1}, nil
}

func readFuncBody(r *reader) (FuncBody, error) {
	size, err := r.u32()
	if err != nil {
		return FuncBody{}, err
	}
	raw, err := r.bytes(int(size))
	if err != nil {
		return FuncBody{}, err
	}
	br := newReader(raw)
	groups, err := br.u32()
	if err != nil {
		return FuncBody{}, err
	}
	var locals []LocalEntry
	for i := uint32(0); i < groups; i++ {
		n, err := br.u32()
		if err != nil {
			return FuncBody{}, err
		}
		t, err := br.byte()
		if err != nil {
			return FuncBody{}, err
		}
		locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
	}
	return FuncBody{Locals: locals, Code: br.rest()}, nil
}

func readDataSegment(r *reader) (DataSegment, error) {
	flags, err := r.u32()
	if err != nil {
		return DataSegment{}, err
	}
	if flags > DataActiveMemIdx {
		return DataSegment{}, fmt.Errorf("invalid data segment flags: %d", flags)
	}
	seg := DataSegment{Flags: flags}
	if flags == DataActiveMemIdx {
		if seg.MemIdx, err = r.u32(); err != nil {
			return DataSegment{}, err
		}
	}
	if flags != DataPassive {
		if seg.Offset, err = readInitExpr(r); err != nil {
			return DataSegment{}, err
		}
	}
	n, err := r.u32()
	if err != nil {
		return DataSegment{}, err
	}
	seg.Init, err = r.bytes(int(n))
	return seg, err
}

// readInitExpr returns the raw bytes of a constant expression up to and
// including its end opcode.
func readInitExpr(r *reader) ([]byte, error) {
	start := r.pos
	for {
		op, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return r.data[start:r.pos], nil
		case OpI32Const, OpI64Const, OpGlobalGet, OpRefFunc, OpRefNull:
			err = r.skipLEB()
		case OpF32Const:
			_, err = r.bytes(4)
		case OpF64Const:
			_, err = r.bytes(8)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}
