package wasm

import "encoding/binary"

// Encode encodes the module to WebAssembly binary format. Custom sections
// are written after all known sections, in their original order.
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.Types) > 0 {
		sec := AppendU32(nil, uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec = append(sec, FuncTypeByte)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := AppendU32(nil, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec = AppendName(sec, imp.Module)
			sec = AppendName(sec, imp.Name)
			sec = append(sec, imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec = AppendU32(sec, imp.Desc.TypeIdx)
			case KindTable:
				sec = appendTableType(sec, *imp.Desc.Table)
			case KindMemory:
				sec = appendLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				sec = appendGlobalType(sec, *imp.Desc.Global)
			}
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := AppendU32(nil, uint32(len(m.Funcs)))
		for _, idx := range m.Funcs {
			sec = AppendU32(sec, idx)
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if len(m.Tables) > 0 {
		sec := AppendU32(nil, uint32(len(m.Tables)))
		for _, t := range m.Tables {
			sec = appendTableType(sec, t)
		}
		out = appendSection(out, SectionTable, sec)
	}

	if len(m.Memories) > 0 {
		sec := AppendU32(nil, uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			sec = appendLimits(sec, mem.Limits)
		}
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := AppendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = appendGlobalType(sec, g.Type)
			sec = append(sec, g.Init...)
		}
		out = appendSection(out, SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := AppendU32(nil, uint32(len(m.Exports)))
		for _, e := range m.Exports {
			sec = AppendName(sec, e.Name)
			sec = append(sec, e.Kind)
			sec = AppendU32(sec, e.Idx)
		}
		out = appendSection(out, SectionExport, sec)
	}

	if m.Start != nil {
		out = appendSection(out, SectionStart, AppendU32(nil, *m.Start))
	}

	if m.ElementSection != nil {
		out = appendSection(out, SectionElement, m.ElementSection)
	}

	if m.DataCount != nil {
		out = appendSection(out, SectionDataCount, AppendU32(nil, *m.DataCount))
	}

	if len(m.Code) > 0 {
		sec := AppendU32(nil, uint32(len(m.Code)))
		for _, body := range m.Code {
			b := AppendU32(nil, uint32(len(body.Locals)))
			for _, l := range body.Locals {
				b = AppendU32(b, l.Count)
				b = append(b, byte(l.ValType))
			}
			b = append(b, body.Code...)
			sec = AppendU32(sec, uint32(len(b)))
			sec = append(sec, b...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := AppendU32(nil, uint32(len(m.Data)))
		for _, seg := range m.Data {
			sec = AppendU32(sec, seg.Flags)
			if seg.Flags == DataActiveMemIdx {
				sec = AppendU32(sec, seg.MemIdx)
			}
			if seg.Flags != DataPassive {
				sec = append(sec, seg.Offset...)
			}
			sec = AppendU32(sec, uint32(len(seg.Init)))
			sec = append(sec, seg.Init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	for _, cs := range m.CustomSections {
		out = appendSection(out, SectionCustom, append(AppendName(nil, cs.Name), cs.Data...))
	}

	return out
}

func appendSection(dst []byte, id byte, payload []byte) []byte {
	dst = append(dst, id)
	dst = AppendU32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func appendValTypes(dst []byte, types []ValType) []byte {
	dst = AppendU32(dst, uint32(len(types)))
	for _, t := range types {
		dst = append(dst, byte(t))
	}
	return dst
}

func appendLimits(dst []byte, l Limits) []byte {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	dst = append(dst, flags)
	dst = AppendU32(dst, l.Min)
	if l.Max != nil {
		dst = AppendU32(dst, *l.Max)
	}
	return dst
}

func appendTableType(dst []byte, t TableType) []byte {
	dst = append(dst, t.ElemType)
	return appendLimits(dst, t.Limits)
}

func appendGlobalType(dst []byte, g GlobalType) []byte {
	dst = append(dst, byte(g.ValType))
	if g.Mutable {
		return append(dst, 1)
	}
	return append(dst, 0)
}
