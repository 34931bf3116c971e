package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/wasm"
)

var (
	i32      = []wasm.ValType{wasm.ValI32}
	getter   = wasm.FuncType{Results: i32}
	setter   = wasm.FuncType{Params: i32}
	unaryOp  = wasm.FuncType{Params: i32, Results: i32}
	binaryOp = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: i32}
)

const gameDecls = `
Game.length: func(s: string) -> s32
Game.greet: func() -> string
Game.make: func() -> own<node>
Game.touch: func(h: borrow<node>) -> s32
Game.enabled: static bool
`

type gameOpts struct {
	name     string
	getValue int32
	version  int32
	bonus    bool
	feature  bool
	scoreI64 bool
	addArity int
	greeting string
	tag      string
}

// gameWasm builds the game fixture, named "Game" unless o.name is set.
// tag adds a custom section so two builds can differ in bytes without
// differing in code.
func gameWasm(o gameOpts) []byte {
	if o.name == "" {
		o.name = "Game"
	}
	if o.greeting == "" {
		o.greeting = "hello"
	}
	b := wasm.NewBuilder(o.name)
	b.Memory(1, nil)
	b.BumpAllocator(4096)

	scoreType := wasm.ValI32
	if o.scoreI64 {
		scoreType = wasm.ValI64
	}
	score := b.Global("Game.score", scoreType, true, wasm.ConstExpr(scoreType, 0))
	version := b.Global("Game.version", wasm.ValI32, false, wasm.I32Expr(o.version))
	b.Global("Game.enabled", wasm.ValI32, true, wasm.I32Expr(1))

	if o.addArity == 3 {
		b.Func("Game.add", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}, Results: i32}, nil,
			wasm.NewCode().LocalGet(0).LocalGet(1).I32Add().LocalGet(2).I32Add())
	} else {
		b.Func("Game.add", binaryOp, nil, wasm.NewCode().LocalGet(0).LocalGet(1).I32Add())
	}
	b.Func("Game.getValue", getter, nil, wasm.NewCode().I32Const(o.getValue))
	b.Func("Game.getVersion", getter, nil, wasm.NewCode().GlobalGet(version))
	if !o.scoreI64 {
		b.Func("Game.setScore", setter, nil, wasm.NewCode().LocalGet(0).GlobalSet(score))
		b.Func("Game.getScore", getter, nil, wasm.NewCode().GlobalGet(score))
	}
	b.Func("Game.crash", getter, nil, wasm.NewCode().Unreachable())
	b.Func("Game.length", binaryOp, nil, wasm.NewCode().LocalGet(1))
	b.Func("Game.greet", getter, nil, wasm.NewCode().I32Const(32))
	b.Func("Game.make", getter, nil, wasm.NewCode().I32Const(8))
	b.Func("Game.touch", unaryOp, nil, wasm.NewCode().LocalGet(0))
	if o.bonus {
		b.Func("Game.bonus", getter, nil, wasm.NewCode().I32Const(7))
	}
	if o.feature {
		b.Func("Game.newFeature", getter, nil, wasm.NewCode().I32Const(1))
	}

	// Game.greet returns a pointer to (64, len), the location of the greeting
	b.Data(32, []byte{64, 0, 0, 0, byte(len(o.greeting)), 0, 0, 0})
	b.Data(64, []byte(o.greeting))

	b.Custom(image.SignaturesSection, []byte(strings.TrimSpace(gameDecls)))
	if o.tag != "" {
		b.Custom("fixture.tag", []byte(o.tag))
	}
	return b.Bytes()
}

func gameV1() []byte { return gameWasm(gameOpts{getValue: 100, version: 1, bonus: true}) }
func gameV2() []byte { return gameWasm(gameOpts{getValue: 200, version: 2, feature: true}) }

// helperWasm builds "Helper", whose exported getValue returns what a
// private function computes.
func helperWasm(value int32) []byte {
	b := wasm.NewBuilder("Helper")
	helper := b.Func("", getter, nil, wasm.NewCode().I32Const(value))
	b.Func("Helper.getValue", getter, nil, wasm.NewCode().Call(helper))
	b.Func("Helper.getOne", getter, nil, wasm.NewCode().I32Const(1))
	return b.Bytes()
}

// storeWasm builds "Store" with private globals a (unless dropA) and b.
// named attaches debug names to them.
func storeWasm(named, dropA bool) []byte {
	b := wasm.NewBuilder("Store")
	global := func(name string) uint32 {
		if named {
			return b.NamedGlobal(name, wasm.ValI32, true, wasm.I32Expr(0))
		}
		return b.Global("", wasm.ValI32, true, wasm.I32Expr(0))
	}
	if !dropA {
		a := global("a")
		b.Func("Store.setA", setter, nil, wasm.NewCode().LocalGet(0).GlobalSet(a))
	}
	gb := global("b")
	b.Func("Store.setB", setter, nil, wasm.NewCode().LocalGet(0).GlobalSet(gb))
	b.Func("Store.getB", getter, nil, wasm.NewCode().GlobalGet(gb))
	return b.Bytes()
}

func newSession(t *testing.T, opts ...Option) (*Session, context.Context) {
	t.Helper()
	ctx := context.Background()
	s, err := Create(ctx, opts...)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() {
		if s.State() != StateDestroyed {
			_ = s.Destroy(ctx)
		}
	})
	return s, ctx
}

func loadGame(t *testing.T, opts ...Option) (*Session, context.Context) {
	t.Helper()
	s, ctx := newSession(t, opts...)
	name, err := s.LoadModule(ctx, gameV1())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if name != "Game" {
		t.Fatalf("module name = %q, want Game", name)
	}
	return s, ctx
}

func mustCall(t *testing.T, ctx context.Context, s *Session, name string, args ...any) int32 {
	t.Helper()
	v, err := s.Call(ctx, "Game", name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v.Int32()
}
