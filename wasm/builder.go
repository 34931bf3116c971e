package wasm

import "fmt"

// Code assembles a function body one instruction at a time.
type Code struct {
	buf []byte
}

// NewCode returns an empty instruction sequence.
func NewCode() *Code {
	return &Code{}
}

// Op appends a bare opcode.
func (c *Code) Op(op byte) *Code {
	c.buf = append(c.buf, op)
	return c
}

func (c *Code) opU32(op byte, v uint32) *Code {
	c.buf = AppendU32(append(c.buf, op), v)
	return c
}

func (c *Code) memarg(op byte, align, offset uint32) *Code {
	c.buf = AppendU32(AppendU32(append(c.buf, op), align), offset)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.buf = AppendS64(append(c.buf, OpI32Const), int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf = AppendS64(append(c.buf, OpI64Const), v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.buf = AppendF32(append(c.buf, OpF32Const), v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.buf = AppendF64(append(c.buf, OpF64Const), v)
	return c
}

func (c *Code) LocalGet(i uint32) *Code  { return c.opU32(OpLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.opU32(OpLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.opU32(OpLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.opU32(OpGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.opU32(OpGlobalSet, i) }
func (c *Code) Call(funcIdx uint32) *Code {
	return c.opU32(OpCall, funcIdx)
}

// CallIndirect calls through table 0 with the type at typeIdx.
func (c *Code) CallIndirect(typeIdx uint32) *Code {
	c.opU32(OpCallIndirect, typeIdx)
	c.buf = append(c.buf, 0)
	return c
}

func (c *Code) I32Load(offset uint32) *Code   { return c.memarg(OpI32Load, 2, offset) }
func (c *Code) I32Load8U(offset uint32) *Code { return c.memarg(OpI32Load8U, 0, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.memarg(OpI32Store, 2, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.memarg(OpI32Store8, 0, offset) }

// MemoryGrow appends memory.grow on memory 0.
func (c *Code) MemoryGrow() *Code {
	c.buf = append(c.buf, OpMemoryGrow, 0x00)
	return c
}

// MemorySize appends memory.size on memory 0.
func (c *Code) MemorySize() *Code {
	c.buf = append(c.buf, OpMemorySize, 0x00)
	return c
}

// MemoryCopy appends memory.copy between memory 0 and itself.
func (c *Code) MemoryCopy() *Code {
	c.buf = AppendU32(append(c.buf, OpPrefixMisc), MiscMemoryCopy)
	c.buf = append(c.buf, 0x00, 0x00)
	return c
}

// If opens an if block producing the given result type, or none when
// result is zero.
func (c *Code) If(result ValType) *Code {
	if result == 0 {
		c.buf = append(c.buf, OpIf, 0x40)
	} else {
		c.buf = append(c.buf, OpIf, byte(result))
	}
	return c
}

func (c *Code) Else() *Code        { return c.Op(OpElse) }
func (c *Code) End() *Code         { return c.Op(OpEnd) }
func (c *Code) Drop() *Code        { return c.Op(OpDrop) }
func (c *Code) Return() *Code      { return c.Op(OpReturn) }
func (c *Code) Unreachable() *Code { return c.Op(OpUnreachable) }
func (c *Code) I32Add() *Code      { return c.Op(OpI32Add) }
func (c *Code) I32Sub() *Code      { return c.Op(OpI32Sub) }
func (c *Code) I32Mul() *Code      { return c.Op(OpI32Mul) }
func (c *Code) I32DivS() *Code     { return c.Op(OpI32DivS) }
func (c *Code) I32Eqz() *Code      { return c.Op(OpI32Eqz) }
func (c *Code) I32GtS() *Code      { return c.Op(OpI32GtS) }
func (c *Code) I64Add() *Code      { return c.Op(OpI64Add) }
func (c *Code) I64Mul() *Code      { return c.Op(OpI64Mul) }
func (c *Code) F64Add() *Code      { return c.Op(OpF64Add) }
func (c *Code) F64Mul() *Code      { return c.Op(OpF64Mul) }

// Bytes returns the instructions without a trailing end opcode.
func (c *Code) Bytes() []byte {
	return c.buf
}

// Builder assembles a module from exported functions, globals, memory and
// data. Function imports must be declared before any defined function so
// that returned indices stay valid.
type Builder struct {
	m           Module
	defined     bool
	name        string
	globalNames map[uint32]string
}

// NewBuilder starts a module. A non-empty name is written to the name section.
func NewBuilder(name string) *Builder {
	b := &Builder{name: name}
	if name != "" {
		b.m.SetModuleName(name)
	}
	return b
}

// ImportFunc declares a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, ft FuncType) uint32 {
	if b.defined {
		panic("wasm: ImportFunc after Func")
	}
	b.m.Imports = append(b.m.Imports, Import{
		Module: module,
		Name:   name,
		Desc:   ImportDesc{Kind: KindFunc, TypeIdx: b.m.AddType(ft)},
	})
	return b.m.NumImportedFuncs() - 1
}

// Func defines a function and returns its function index. An empty name
// keeps it private. The trailing end opcode is appended automatically.
func (b *Builder) Func(name string, ft FuncType, locals []ValType, code *Code) uint32 {
	b.defined = true
	idx := b.m.NumImportedFuncs() + uint32(len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.m.AddType(ft))

	var entries []LocalEntry
	for _, l := range locals {
		if n := len(entries); n > 0 && entries[n-1].ValType == l {
			entries[n-1].Count++
			continue
		}
		entries = append(entries, LocalEntry{Count: 1, ValType: l})
	}
	body := append(append([]byte(nil), code.Bytes()...), OpEnd)
	b.m.Code = append(b.m.Code, FuncBody{Locals: entries, Code: body})

	if name != "" {
		b.m.Exports = append(b.m.Exports, Export{Name: name, Kind: KindFunc, Idx: idx})
	}
	return idx
}

// Global defines a global and returns its global index. An empty name
// keeps it private.
func (b *Builder) Global(name string, t ValType, mutable bool, init []byte) uint32 {
	idx := b.m.NumImportedGlobals() + uint32(len(b.m.Globals))
	b.m.Globals = append(b.m.Globals, Global{Type: GlobalType{ValType: t, Mutable: mutable}, Init: init})
	if name != "" {
		b.m.Exports = append(b.m.Exports, Export{Name: name, Kind: KindGlobal, Idx: idx})
	}
	return idx
}

// NamedGlobal defines a private global that carries a debug name in the
// name section.
func (b *Builder) NamedGlobal(name string, t ValType, mutable bool, init []byte) uint32 {
	idx := b.Global("", t, mutable, init)
	if b.globalNames == nil {
		b.globalNames = make(map[uint32]string)
	}
	b.globalNames[idx] = name
	b.m.SetNames(b.name, b.globalNames)
	return idx
}

// TypeIndex returns the type index of ft, adding the type if needed.
func (b *Builder) TypeIndex(ft FuncType) uint32 {
	return b.m.AddType(ft)
}

// FuncTable defines table 0 holding funcs at slots 0, 1, ... in order.
func (b *Builder) FuncTable(funcs ...uint32) *Builder {
	n := uint32(len(funcs))
	b.m.Tables = []TableType{{ElemType: byte(ValFuncRef), Limits: Limits{Min: n, Max: &n}}}
	seg := AppendU32(nil, 1)
	seg = AppendU32(seg, 0) // active, table 0, function indices
	seg = append(seg, I32Expr(0)...)
	seg = AppendU32(seg, n)
	for _, f := range funcs {
		seg = AppendU32(seg, f)
	}
	b.m.ElementSection = seg
	return b
}

// Memory defines memory 0 with the given limits and exports it as "memory".
func (b *Builder) Memory(minPages uint32, maxPages *uint32) *Builder {
	b.m.Memories = []MemoryType{{Limits: Limits{Min: minPages, Max: maxPages}}}
	b.m.Exports = append(b.m.Exports, Export{Name: "memory", Kind: KindMemory, Idx: 0})
	return b
}

// Data adds an active data segment at a constant offset in memory 0.
func (b *Builder) Data(offset uint32, init []byte) *Builder {
	b.m.Data = append(b.m.Data, DataSegment{Flags: DataActive, Offset: I32Expr(int32(offset)), Init: init})
	return b
}

// Start sets the start function.
func (b *Builder) Start(funcIdx uint32) *Builder {
	b.m.Start = &funcIdx
	return b
}

// Custom appends a custom section.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.m.CustomSections = append(b.m.CustomSections, CustomSection{Name: name, Data: data})
	return b
}

// Module returns the assembled module.
func (b *Builder) Module() *Module {
	return b.m.Clone()
}

// Bytes encodes the assembled module.
func (b *Builder) Bytes() []byte {
	return b.m.Encode()
}

// BumpAllocator defines an exported "cabi_realloc" backed by a bump pointer
// global starting at heapBase. It never frees. Memory must already be
// defined; the allocator grows it on demand.
func (b *Builder) BumpAllocator(heapBase uint32) uint32 {
	if len(b.m.Memories) == 0 {
		panic("wasm: BumpAllocator requires memory")
	}
	heap := b.NamedGlobal("hotswap.heap", ValI32, true, I32Expr(int32(heapBase)))

	// params: old_ptr, old_size, align, new_size; locals: 4 = result, 5 = end
	code := NewCode().
		// result = (heap + align - 1) & -align
		GlobalGet(heap).LocalGet(2).I32Add().I32Const(1).I32Sub().
		I32Const(0).LocalGet(2).I32Sub().Op(OpI32And).LocalTee(4).
		// end = result + new_size
		LocalGet(3).I32Add().LocalTee(5).
		// grow while end > memory.size * 65536
		MemorySize().I32Const(16).Op(0x74). // i32.shl
		I32GtS().
		If(0).
		LocalGet(5).I32Const(16).Op(0x76). // i32.shr_u
		I32Const(1).I32Add().MemorySize().I32Sub().MemoryGrow().
		I32Const(-1).Op(OpI32Eq).If(0).Unreachable().End().
		End().
		LocalGet(5).GlobalSet(heap).
		LocalGet(4)

	ft := FuncType{Params: []ValType{ValI32, ValI32, ValI32, ValI32}, Results: []ValType{ValI32}}
	return b.Func("cabi_realloc", ft, []ValType{ValI32, ValI32}, code)
}

// Signature formats a "name: func(...)" declaration line for the
// hotswap.signatures custom section.
func Signature(name string, params []string, result string) string {
	s := name + ": func("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("p%d: %s", i, p)
	}
	s += ")"
	if result != "" {
		s += " -> " + result
	}
	return s
}
