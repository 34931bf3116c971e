package hotswap

// Memory represents the linear memory shared by every generation of a module
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates memory in linear memory through the guest's allocator export
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
}
