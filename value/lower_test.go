package value

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-hotswap/errors"
)

type fakeMemory struct {
	data []byte
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return nil, errors.OutOfBounds(errors.PhaseInvoke, offset, length)
	}
	return m.data[offset : offset+length], nil
}

func (m *fakeMemory) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(m.data)) {
		return errors.OutOfBounds(errors.PhaseInvoke, offset, uint32(len(data)))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *fakeMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *fakeMemory) WriteU32(offset uint32, v uint32) error {
	return m.Write(offset, binary.LittleEndian.AppendUint32(nil, v))
}

type bumpAllocator struct {
	next  uint32
	calls int
}

func (a *bumpAllocator) Alloc(size, align uint32) (uint32, error) {
	a.calls++
	p := a.next
	a.next += size
	return p, nil
}

func newLowerer() (*Lowerer, *fakeMemory, *bumpAllocator) {
	mem := &fakeMemory{data: make([]byte, 256)}
	alloc := &bumpAllocator{next: 128}
	return &Lowerer{Mem: mem, Alloc: alloc, Owner: 5}, mem, alloc
}

func TestLowerLift_Scalars(t *testing.T) {
	l, _, alloc := newLowerer()

	values := []Value{Int32(-7), Int64(1 << 40), Float32(1.5), Float64(-2.25), Bool(true), Object(NewRef(5, 64))}
	var stack []uint64
	var err error
	for _, v := range values {
		stack, err = l.Lower(v, stack)
		require.NoError(t, err)
	}
	require.Len(t, stack, len(values))
	assert.Equal(t, uint64(0xFFFFFFF9), stack[0], "i32 is zero-extended on the stack")
	assert.Zero(t, alloc.calls)

	pos := 0
	for _, want := range values {
		got, n, err := l.Lift(want.Kind(), stack[pos:])
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "got %v, want %v", got, want)
		pos += n
	}
}

func TestLower_String(t *testing.T) {
	l, mem, alloc := newLowerer()

	stack, err := l.Lower(String("hi there"), nil)
	require.NoError(t, err)
	require.Len(t, stack, 2)
	assert.Equal(t, uint64(128), stack[0])
	assert.Equal(t, uint64(8), stack[1])
	assert.Equal(t, "hi there", string(mem.data[128:136]))
	assert.Equal(t, 1, alloc.calls)

	got, n, err := l.Lift(KindString, stack)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi there", got.Str())

	// the lifted string must not alias guest memory
	copy(mem.data[128:], "XXXXXXXX")
	assert.Equal(t, "hi there", got.Str())
}

func TestLower_EmptyStringSkipsAllocator(t *testing.T) {
	l := &Lowerer{}
	stack, err := l.Lower(String(""), nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0}, stack)
}

func TestLower_ForeignRef(t *testing.T) {
	l, _, _ := newLowerer()
	_, err := l.Lower(Object(NewRef(99, 16)), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	stack, err := l.Lower(Object(Ref{}), nil)
	require.NoError(t, err, "null refs are never foreign")
	assert.Equal(t, []uint64{0}, stack)
}

func TestLiftResult_StringRetptr(t *testing.T) {
	l, mem, _ := newLowerer()
	copy(mem.data[40:], "result")
	require.NoError(t, mem.WriteU32(8, 40))
	require.NoError(t, mem.WriteU32(12, 6))

	got, err := l.LiftResult(KindString, []uint64{8})
	require.NoError(t, err)
	assert.Equal(t, "result", got.Str())

	v, err := l.LiftResult(KindVoid, nil)
	require.NoError(t, err)
	assert.Equal(t, KindVoid, v.Kind())

	_, err = l.LiftResult(KindInt32, nil)
	assert.Error(t, err)
}

func TestLift_Errors(t *testing.T) {
	l, mem, _ := newLowerer()

	_, _, err := l.Lift(KindString, []uint64{250, 10})
	assert.Error(t, err, "out of bounds string")

	mem.data[0], mem.data[1] = 0xff, 0xfe
	_, _, err = l.Lift(KindString, []uint64{0, 2})
	assert.Error(t, err, "invalid UTF-8")

	_, _, err = l.Lift(KindInt64, nil)
	assert.Error(t, err, "short stack")
}
