package wasm

import "fmt"

// Module represents a parsed core WebAssembly module.
//
// The element section is carried as raw bytes: the bridge never rewrites
// table initialization, it only relocates globals, memory and data.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Code     []FuncBody
	Data     []DataSegment

	// ElementSection is the raw payload of section 9, or nil.
	ElementSection []byte

	// DataCount holds the count from the DataCount section (ID 12).
	DataCount *uint32

	CustomSections []CustomSection
}

// ValType represents a WebAssembly value type.
type ValType byte

// String returns the text format name of the value type.
func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// FuncType represents a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether both signatures have identical params and results.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// String renders the signature as (params) -> (results).
func (f FuncType) String() string {
	return fmt.Sprintf("%v -> %v", f.Params, f.Results)
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max    *uint32
	Min    uint32
	Shared bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including the end opcode
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// Active reports whether the segment is copied into memory at instantiation.
func (d DataSegment) Active() bool {
	return d.Flags != DataPassive
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs counts function imports, which precede defined functions
// in the function index space.
func (m *Module) NumImportedFuncs() uint32 {
	return m.countImports(KindFunc)
}

// NumImportedGlobals counts global imports, which precede defined globals
// in the global index space.
func (m *Module) NumImportedGlobals() uint32 {
	return m.countImports(KindGlobal)
}

// NumImportedMemories counts memory imports.
func (m *Module) NumImportedMemories() uint32 {
	return m.countImports(KindMemory)
}

func (m *Module) countImports(kind byte) uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// FuncTypeOf returns the signature of the function at funcIdx in the
// function index space.
func (m *Module) FuncTypeOf(funcIdx uint32) (FuncType, bool) {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if n == funcIdx {
			return m.typeAt(imp.Desc.TypeIdx)
		}
		n++
	}
	local := funcIdx - n
	if funcIdx < n || int(local) >= len(m.Funcs) {
		return FuncType{}, false
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(idx uint32) (FuncType, bool) {
	if int(idx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[idx], true
}

// Body returns the code of a defined function given its function index.
func (m *Module) Body(funcIdx uint32) (*FuncBody, bool) {
	n := m.NumImportedFuncs()
	if funcIdx < n || int(funcIdx-n) >= len(m.Code) {
		return nil, false
	}
	return &m.Code[funcIdx-n], true
}

// GlobalTypeOf returns the type of the global at globalIdx.
func (m *Module) GlobalTypeOf(globalIdx uint32) (GlobalType, bool) {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if n == globalIdx {
			return *imp.Desc.Global, true
		}
		n++
	}
	local := globalIdx - n
	if globalIdx < n || int(local) >= len(m.Globals) {
		return GlobalType{}, false
	}
	return m.Globals[local].Type, true
}

// Custom returns the first custom section with the given name.
func (m *Module) Custom(name string) ([]byte, bool) {
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			return cs.Data, true
		}
	}
	return nil, false
}

// AddType adds a function type and returns its index, reusing existing if equal.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// Clone returns a copy whose section slices can be modified without
// affecting the receiver. Byte payloads are shared.
func (m *Module) Clone() *Module {
	c := *m
	c.Types = append([]FuncType(nil), m.Types...)
	c.Imports = append([]Import(nil), m.Imports...)
	c.Funcs = append([]uint32(nil), m.Funcs...)
	c.Tables = append([]TableType(nil), m.Tables...)
	c.Memories = append([]MemoryType(nil), m.Memories...)
	c.Globals = append([]Global(nil), m.Globals...)
	c.Exports = append([]Export(nil), m.Exports...)
	c.Code = append([]FuncBody(nil), m.Code...)
	c.Data = append([]DataSegment(nil), m.Data...)
	c.CustomSections = append([]CustomSection(nil), m.CustomSections...)
	if m.Start != nil {
		s := *m.Start
		c.Start = &s
	}
	if m.DataCount != nil {
		d := *m.DataCount
		c.DataCount = &d
	}
	return &c
}
