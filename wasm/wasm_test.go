package wasm

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func gameModule() *Builder {
	b := NewBuilder("Game")
	b.Memory(1, nil)
	score := b.Global("Game.score", ValI32, true, I32Expr(7))
	b.Global("", ValF64, false, F64Expr(1.5))
	i32 := FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}}
	b.Func("Game.add", i32, nil, NewCode().LocalGet(0).LocalGet(1).I32Add())
	b.Func("Game.getScore", FuncType{Results: []ValType{ValI32}}, nil, NewCode().GlobalGet(score))
	b.Data(16, []byte("hello"))
	b.Custom("hotswap.signatures", []byte("Game.add: func(a: s32, b: s32) -> s32\n"))
	return b
}

func TestParseModule_RoundTrip(t *testing.T) {
	bin := gameModule().Bytes()

	m, err := ParseModule(bin)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if name, ok := m.ModuleName(); !ok || name != "Game" {
		t.Errorf("ModuleName = %q, %v", name, ok)
	}
	if len(m.Types) != 2 {
		t.Errorf("Types = %d, want 2", len(m.Types))
	}
	if len(m.Funcs) != 2 || len(m.Code) != 2 {
		t.Errorf("Funcs=%d Code=%d", len(m.Funcs), len(m.Code))
	}
	if len(m.Globals) != 2 || !m.Globals[0].Type.Mutable || m.Globals[1].Type.Mutable {
		t.Errorf("Globals = %+v", m.Globals)
	}
	if len(m.Memories) != 1 || m.Memories[0].Limits.Min != 1 {
		t.Errorf("Memories = %+v", m.Memories)
	}
	if len(m.Data) != 1 || string(m.Data[0].Init) != "hello" || !m.Data[0].Active() {
		t.Errorf("Data = %+v", m.Data)
	}
	if sig, ok := m.Custom("hotswap.signatures"); !ok || !bytes.Contains(sig, []byte("Game.add")) {
		t.Errorf("signatures section = %q, %v", sig, ok)
	}

	if again := m.Encode(); !bytes.Equal(again, bin) {
		t.Error("re-encoding a parsed module should be byte-identical")
	}
}

func TestModule_IndexSpaces(t *testing.T) {
	b := NewBuilder("")
	logIdx := b.ImportFunc("env", "log", FuncType{Params: []ValType{ValI32}})
	fn := b.Func("run", FuncType{Results: []ValType{ValI64}}, []ValType{ValI32, ValI32, ValI64},
		NewCode().I32Const(1).Call(logIdx).I64Const(-5))
	m := b.Module()

	if logIdx != 0 || fn != 1 {
		t.Fatalf("indices = %d, %d", logIdx, fn)
	}
	if got := m.NumImportedFuncs(); got != 1 {
		t.Errorf("NumImportedFuncs = %d", got)
	}
	ft, ok := m.FuncTypeOf(fn)
	if !ok || len(ft.Results) != 1 || ft.Results[0] != ValI64 {
		t.Errorf("FuncTypeOf(run) = %v, %v", ft, ok)
	}
	if _, ok := m.Body(logIdx); ok {
		t.Error("imported function should have no body")
	}
	body, ok := m.Body(fn)
	if !ok {
		t.Fatal("Body(run) missing")
	}
	if len(body.Locals) != 2 || body.Locals[0].Count != 2 || body.Locals[1].ValType != ValI64 {
		t.Errorf("locals = %+v", body.Locals)
	}
	if body.Code[len(body.Code)-1] != OpEnd {
		t.Error("body should end with end opcode")
	}
}

func TestParseModule_Errors(t *testing.T) {
	valid := gameModule().Bytes()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, nil},
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0, 0, 0}, ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0, 0, 0}, ErrInvalidVersion},
		{"truncated", valid[:len(valid)-3], nil},
		{"out of order", append(append([]byte{}, valid[:8]...), 0x03, 0x01, 0x00, 0x01, 0x01, 0x00), nil},
		{"tag section", append(append([]byte{}, valid[:8]...), 0x0D, 0x01, 0x00), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModule(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEvalConst(t *testing.T) {
	tests := []struct {
		name string
		expr []byte
		bits uint64
		typ  ValType
	}{
		{"i32 negative", I32Expr(-1), 0xFFFFFFFF, ValI32},
		{"i32 large", I32Expr(math.MaxInt32), math.MaxInt32, ValI32},
		{"i64", I64Expr(math.MinInt64), 1 << 63, ValI64},
		{"f32", F32Expr(2.5), uint64(math.Float32bits(2.5)), ValF32},
		{"f64", F64Expr(-0.125), math.Float64bits(-0.125), ValF64},
		{"extended const", []byte{OpI32Const, 40, OpI32Const, 2, OpI32Add, OpEnd}, 42, ValI32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bits, typ, err := EvalConst(tt.expr)
			if err != nil {
				t.Fatalf("EvalConst: %v", err)
			}
			if bits != tt.bits || typ != tt.typ {
				t.Errorf("got (%#x, %s), want (%#x, %s)", bits, typ, tt.bits, tt.typ)
			}
		})
	}

	t.Run("global.get is not constant", func(t *testing.T) {
		_, _, err := EvalConst([]byte{OpGlobalGet, 0, OpEnd})
		if !errors.Is(err, ErrNotConstant) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestLEB128(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, 64, -64, -65, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64} {
		r := newReader(AppendS64(nil, v))
		got, err := r.s64()
		if err != nil || got != v || !r.eof() {
			t.Errorf("s64 round trip %d: got %d, %v", v, got, err)
		}
	}
	for _, v := range []uint32{0, 127, 128, 16384, math.MaxUint32} {
		r := newReader(AppendU32(nil, v))
		got, err := r.u32()
		if err != nil || got != v {
			t.Errorf("u32 round trip %d: got %d, %v", v, got, err)
		}
	}
	if _, err := newReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}).u32(); !errors.Is(err, ErrOverflow) {
		t.Errorf("overlong u32 err = %v", err)
	}
}

func TestSetModuleName_Replaces(t *testing.T) {
	m := gameModule().Module()
	m.SetModuleName("Other")
	m2, err := ParseModule(m.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := m2.ModuleName(); name != "Other" {
		t.Errorf("ModuleName = %q", name)
	}
	count := 0
	for _, cs := range m2.CustomSections {
		if cs.Name == NameSectionName {
			count++
		}
	}
	if count != 1 {
		t.Errorf("name sections = %d, want 1", count)
	}
}

func TestFuncRefs(t *testing.T) {
	b := NewBuilder("Refs")
	ft := FuncType{Results: []ValType{ValI32}}
	leaf := b.Func("", ft, nil, NewCode().I32Const(1))
	other := b.Func("", ft, nil, NewCode().I32Const(2))
	b.FuncTable(other, leaf)
	code := NewCode().
		Op(OpBlock).Op(0x40).I32Const(0).Op(OpBrIf).Op(0).End().
		Call(leaf).Drop().
		F64Const(2.5).Drop().
		I32Const(0).I32Load(4).Drop().
		Op(OpRefFunc).Op(byte(other)).Drop().
		I32Const(1).CallIndirect(b.TypeIndex(ft))
	b.Func("Refs.main", ft, nil, code)

	m := b.Module()
	refs, indirect, err := FuncRefs(m.Code[2].Code)
	if err != nil {
		t.Fatalf("FuncRefs: %v", err)
	}
	if len(refs) != 2 || refs[0] != leaf || refs[1] != other || !indirect {
		t.Errorf("refs = %v, indirect = %v", refs, indirect)
	}
	if refs, indirect, err := FuncRefs(m.Code[0].Code); err != nil || len(refs) != 0 || indirect {
		t.Errorf("leaf: %v %v %v", refs, indirect, err)
	}

	if _, _, err := FuncRefs([]byte{0xFF, OpEnd}); err == nil {
		t.Error("expected error for unknown opcode")
	}

	elems, err := m.ElementFuncRefs()
	if err != nil {
		t.Fatalf("ElementFuncRefs: %v", err)
	}
	if len(elems) != 2 || elems[0] != other || elems[1] != leaf {
		t.Errorf("element refs = %v", elems)
	}
}

func TestGlobalNames(t *testing.T) {
	b := NewBuilder("Game")
	b.Global("", ValI32, true, I32Expr(0))
	heap := b.NamedGlobal("heap", ValI32, true, I32Expr(0))
	seed := b.NamedGlobal("seed", ValI64, true, I64Expr(0))

	m, err := ParseModule(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := m.ModuleName(); name != "Game" {
		t.Errorf("ModuleName = %q", name)
	}
	names, err := m.GlobalNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[heap] != "heap" || names[seed] != "seed" {
		t.Errorf("GlobalNames = %v", names)
	}

	// renaming the module keeps global names
	m.SetNames("Other", names)
	if got, _ := m.GlobalNames(); got[heap] != "heap" {
		t.Errorf("after SetNames = %v", got)
	}
}
