package engine

import (
	"github.com/tetratelabs/wazero/api"

	hotswap "github.com/wippyai/wasm-hotswap"
	"github.com/wippyai/wasm-hotswap/errors"
)

// WazeroMemory wraps wazero memory to implement hotswap.Memory
type WazeroMemory struct {
	mem api.Memory
}

// NewMemory wraps mem. It returns nil for a nil memory.
func NewMemory(mem api.Memory) *WazeroMemory {
	if mem == nil {
		return nil
	}
	return &WazeroMemory{mem: mem}
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseInvoke, offset, uint32(len(data)))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseInvoke, offset, 4)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseInvoke, offset, 4)
	}
	return nil
}

// Size returns the memory size in bytes.
func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var _ hotswap.Memory = (*WazeroMemory)(nil)
var _ hotswap.MemorySizer = (*WazeroMemory)(nil)
var _ hotswap.Allocator = (*wazeroAllocator)(nil)
