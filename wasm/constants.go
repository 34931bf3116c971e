package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs define the binary identifiers for each module section.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import/Export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Value type encodings.
const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F
)

// FuncTypeByte prefixes every function type in the type section.
const FuncTypeByte byte = 0x60

// Limits flags
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// Data segment modes
const (
	DataActive       uint32 = 0
	DataPassive      uint32 = 1
	DataActiveMemIdx uint32 = 2
)

// Opcodes used by constant expressions, the code builder and the body scanner.
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpLocalGet           byte = 0x20
	OpLocalSet           byte = 0x21
	OpLocalTee           byte = 0x22
	OpGlobalGet          byte = 0x23
	OpGlobalSet          byte = 0x24
	OpTableGet           byte = 0x25
	OpTableSet           byte = 0x26
	OpI32Load            byte = 0x28
	OpI32Load8U          byte = 0x2D
	OpI32Store           byte = 0x36
	OpI32Store8          byte = 0x3A
	OpI64Store32         byte = 0x3E
	OpMemorySize         byte = 0x3F
	OpMemoryGrow         byte = 0x40
	OpI32Const           byte = 0x41
	OpI64Const           byte = 0x42
	OpF32Const           byte = 0x43
	OpF64Const           byte = 0x44
	OpI32Eqz             byte = 0x45
	OpI32Eq              byte = 0x46
	OpI32Ne              byte = 0x47
	OpI32LtS             byte = 0x48
	OpI32GtS             byte = 0x4A
	OpI32Add             byte = 0x6A
	OpI32Sub             byte = 0x6B
	OpI32Mul             byte = 0x6C
	OpI32DivS            byte = 0x6D
	OpI32And             byte = 0x71
	OpI32Or              byte = 0x72
	OpI32Xor             byte = 0x73
	OpI64Add             byte = 0x7C
	OpI64Sub             byte = 0x7D
	OpI64Mul             byte = 0x7E
	OpI64And             byte = 0x83
	OpI64Or              byte = 0x84
	OpI64Xor             byte = 0x85
	OpF64Add             byte = 0xA0
	OpF64Mul             byte = 0xA2
	OpI64ExtendI32       byte = 0xAC
	OpI64Extend32S       byte = 0xC4
	OpRefNull            byte = 0xD0
	OpRefIsNull          byte = 0xD1
	OpRefFunc            byte = 0xD2
	OpRefAsNonNull       byte = 0xD3
	OpBrOnNull           byte = 0xD4
	OpRefEq              byte = 0xD5
	OpBrOnNonNull        byte = 0xD6
	OpPrefixMisc         byte = 0xFC
	OpPrefixSIMD         byte = 0xFD
	OpPrefixAtomic       byte = 0xFE
)

// 0xFC-prefixed bulk memory sub-opcodes
const (
	MiscMemoryInit uint32 = 8
	MiscDataDrop   uint32 = 9
	MiscMemoryCopy uint32 = 10
	MiscMemoryFill uint32 = 11
)

// Name section subsection IDs
const (
	NameSubModule    byte = 0
	NameSubFunctions byte = 1
	NameSubLocals    byte = 2
	NameSubGlobals   byte = 7
)
