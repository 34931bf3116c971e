package runtime

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/value"
)

func TestInvoke_GameAdd(t *testing.T) {
	s, ctx := loadGame(t)
	add, err := s.ResolveFunction("Game", "Game.add", 2)
	if err != nil {
		t.Fatal(err)
	}

	v, err := s.Invoke(ctx, add, 42, 13)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != value.KindInt32 || v.Int32() != 55 {
		t.Errorf("Game.add(42, 13) = %v", v)
	}

	_, err = s.Invoke(ctx, add, 42, "x")
	if !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("string argument: %v", err)
	}
	var he *errors.Error
	if errors.As(err, &he) && (len(he.Path) != 2 || he.Path[0] != "Game.add") {
		t.Errorf("error path = %v", he.Path)
	}
}

func TestInvoke_MarshalFailureMakesNoCall(t *testing.T) {
	s, ctx := loadGame(t)
	if _, err := s.Call(ctx, "Game", "Game.setScore", 3); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		arg  any
		want error
	}{
		{"string", "7", errors.ErrTypeMismatch},
		{"float", 7.0, errors.ErrTypeMismatch},
		{"too large", int64(math.MaxInt32) + 1, errors.ErrOutOfRange},
		{"negative overflow", int64(math.MinInt32) - 1, errors.ErrOutOfRange},
		{"unsigned", uint32(math.MaxUint32), errors.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Call(ctx, "Game", "Game.setScore", tt.arg); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if v := mustCall(t, ctx, s, "Game.getScore"); v != 3 {
				t.Errorf("score changed to %d", v)
			}
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	s, _ := loadGame(t)

	tests := []struct {
		name   string
		module string
		symbol string
		arity  int
		want   error
	}{
		{"unknown function", "Game", "Game.nope", 0, errors.ErrNotFound},
		{"unknown module", "Nope", "Game.add", 2, errors.ErrNotFound},
		{"arity too high", "Game", "Game.add", 3, errors.ErrArityMismatch},
		{"arity too low", "Game", "Game.add", 1, errors.ErrArityMismatch},
		{"abi export hidden", "Game", "cabi_realloc", 4, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ResolveFunction(tt.module, tt.symbol, tt.arity); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := s.ResolveStaticField("Game", "Game.missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown static: %v", err)
	}
}

func TestInvoke_ArgumentCount(t *testing.T) {
	s, ctx := loadGame(t)
	add, _ := s.ResolveFunction("Game", "Game.add", 2)
	if _, err := s.Invoke(ctx, add, 1); !errors.Is(err, errors.ErrArityMismatch) {
		t.Errorf("one argument: %v", err)
	}
	if _, err := s.Invoke(ctx, add, 1, 2, 3); !errors.Is(err, errors.ErrArityMismatch) {
		t.Errorf("three arguments: %v", err)
	}
}

func TestInvoke_FaultIsolation(t *testing.T) {
	s, ctx := loadGame(t)
	if s.LastFault() != nil {
		t.Fatal("fresh session has a fault")
	}

	_, err := s.Call(ctx, "Game", "Game.crash")
	if !errors.Is(err, errors.ErrVMFault) {
		t.Fatalf("expected vm fault, got %v", err)
	}
	if f := s.LastFault(); f == nil || f.Kind != errors.KindVMFault {
		t.Errorf("last fault = %v", f)
	}
	if s.State() != StateLoaded {
		t.Errorf("state after fault = %v", s.State())
	}
	if v := mustCall(t, ctx, s, "Game.add", 2, 3); v != 5 {
		t.Errorf("call after fault = %d", v)
	}
	if _, err := s.Reload(ctx, gameV2()); err != nil {
		t.Errorf("reload after fault: %v", err)
	}
}

func TestInvoke_Strings(t *testing.T) {
	s, ctx := loadGame(t)

	n := mustCall(t, ctx, s, "Game.length", "héllo wörld")
	if n != int32(len("héllo wörld")) {
		t.Errorf("length = %d", n)
	}
	if n := mustCall(t, ctx, s, "Game.length", ""); n != 0 {
		t.Errorf("empty length = %d", n)
	}

	v, err := s.Call(ctx, "Game", "Game.greet")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != value.KindString || v.Str() != "hello" {
		t.Errorf("greet = %v", v)
	}

	if _, err := s.Call(ctx, "Game", "Game.length", 5); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("int for string: %v", err)
	}
}

func TestInvoke_ObjectReferences(t *testing.T) {
	s, ctx := loadGame(t)
	obj, err := s.Call(ctx, "Game", "Game.make")
	if err != nil {
		t.Fatal(err)
	}
	if obj.Kind() != value.KindObject || obj.Ref().Addr != 8 {
		t.Fatalf("make = %v", obj)
	}
	if v := mustCall(t, ctx, s, "Game.touch", obj); v != 8 {
		t.Errorf("touch = %d", v)
	}
	if v := mustCall(t, ctx, s, "Game.touch", nil); v != 0 {
		t.Errorf("touch(nil) = %d", v)
	}

	other, octx := loadGame(t)
	if _, err := other.Call(octx, "Game", "Game.touch", obj); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("foreign reference: %v", err)
	}
}

func TestStaticFields(t *testing.T) {
	s, ctx := loadGame(t)

	score, err := s.ResolveStaticField("Game", "Game.score")
	if err != nil {
		t.Fatal(err)
	}
	if score.Kind() != value.KindInt32 || !score.Mutable() {
		t.Errorf("score field = %v mutable=%v", score.Kind(), score.Mutable())
	}
	if err := s.SetStaticField(score, 7); err != nil {
		t.Fatal(err)
	}
	if v := mustCall(t, ctx, s, "Game.getScore"); v != 7 {
		t.Errorf("guest sees %d", v)
	}
	if _, err := s.Call(ctx, "Game", "Game.setScore", 11); err != nil {
		t.Fatal(err)
	}
	v, err := s.GetStaticField(score)
	if err != nil || v.Int32() != 11 {
		t.Errorf("host sees %v, %v", v, err)
	}

	if err := s.SetStaticField(score, "x"); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("string into int32: %v", err)
	}
	if err := s.SetStaticField(score, int64(1)<<40); !errors.Is(err, errors.ErrOutOfRange) {
		t.Errorf("wide value: %v", err)
	}

	version, err := s.ResolveStaticField("Game", "Game.version")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetStaticField(version, 9); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("immutable write: %v", err)
	}

	enabled, err := s.ResolveStaticField("Game", "Game.enabled")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetStaticField(enabled)
	if err != nil || b.Kind() != value.KindBool || !b.Bool() {
		t.Errorf("enabled = %v, %v", b, err)
	}
	if err := s.SetStaticField(enabled, false); err != nil {
		t.Fatal(err)
	}

	// fields survive a reload and keep reading the arena
	if _, err := s.Reload(ctx, gameV2()); err != nil {
		t.Fatal(err)
	}
	v, _ = s.GetStaticField(score)
	b, _ = s.GetStaticField(enabled)
	if v.Int32() != 11 || b.Bool() {
		t.Errorf("after reload score=%v enabled=%v", v, b)
	}
}

func TestSession_Introspection(t *testing.T) {
	s, _ := loadGame(t)
	fns, err := s.Functions("Game")
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, f := range fns {
		names[f.Name] = true
	}
	for _, want := range []string{"Game.add", "Game.getValue", "Game.bonus", "Game.greet"} {
		if !names[want] {
			t.Errorf("missing function %s", want)
		}
	}
	if names["cabi_realloc"] {
		t.Error("abi export listed as a function")
	}

	statics, err := s.Statics("Game")
	if err != nil {
		t.Fatal(err)
	}
	if len(statics) != 3 {
		t.Errorf("exported statics = %d, want 3", len(statics))
	}
	if _, err := s.Functions("Nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown module: %v", err)
	}
}
