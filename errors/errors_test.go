package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseMarshal,
				Kind:   KindTypeMismatch,
				Path:   []string{"Game.add", "arg1"},
				GoType: "string",
				VMKind: "int32",
				Detail: "cannot convert",
			},
			contains: []string{"[marshal]", "type_mismatch", "Game.add.arg1", "string", "int32", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseSession,
				Kind:  KindInvalidState,
			},
			contains: []string{"[session]", "invalid_state"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInvoke,
				Kind:   KindVMFault,
				Detail: "unreachable",
				Cause:  errors.New("wasm error: unreachable"),
			},
			contains: []string{"[invoke]", "vm_fault", "unreachable", "caused by", "wasm error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseRuntime,
		Kind:  KindInstantiation,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseMarshal,
		Kind:  KindTypeMismatch,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseMarshal, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseStatic, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseMarshal, Kind: KindOutOfRange}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Error("errors.Is should match phaseless sentinel")
	}
	if errors.Is(err, ErrOutOfRange) {
		t.Error("errors.Is should not match other sentinel")
	}
}

func TestSentinelsThroughWrapping(t *testing.T) {
	fault := Fault("Game.boom", "unreachable", nil)
	wrapped := Wrap(PhaseSession, KindInvalidData, fault, "call failed")

	if !errors.Is(wrapped, ErrVMFault) {
		t.Error("sentinel should match through cause chain")
	}

	var target *Error
	if !errors.As(wrapped, &target) || target.Kind != KindInvalidData {
		t.Errorf("errors.As = %v", target)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMarshal, KindOutOfRange).
		Path("Game.add", "arg0").
		GoType("int64").
		VMKind("int32").
		Value(int64(1) << 40).
		Cause(cause).
		Detail("expected %s, got %s", "int32", "int64").
		Build()

	if err.Phase != PhaseMarshal {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMarshal)
	}
	if err.Kind != KindOutOfRange {
		t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfRange)
	}
	if len(err.Path) != 2 || err.Path[0] != "Game.add" || err.Path[1] != "arg0" {
		t.Errorf("Path = %v, want [Game.add arg0]", err.Path)
	}
	if err.GoType != "int64" || err.VMKind != "int32" {
		t.Errorf("GoType=%v VMKind=%v", err.GoType, err.VMKind)
	}
	if err.Value != int64(1)<<40 {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected int32, got int64" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		kind   Kind
		detail string
	}{
		{"Parse", Parse("bad magic", nil), KindParse, "bad magic"},
		{"Parsef", Parsef("section %d truncated", 10), KindParse, "section 10"},
		{"NotFound", NotFound(PhaseResolve, "function", "Game.nope"), KindNotFound, `"Game.nope"`},
		{"ArityMismatch", ArityMismatch(PhaseResolve, "Game.add", 2, 3), KindArityMismatch, "declared 2"},
		{"OutOfRange", OutOfRange(PhaseMarshal, nil, 300, "int32"), KindOutOfRange, "300"},
		{"Fault", Fault("Game.boom", "unreachable", nil), KindVMFault, "unreachable"},
		{"StaleBinding", StaleBinding("Game.old", 4), KindStaleBinding, "generation 4"},
		{"InvalidState", InvalidState("reload", "destroyed"), KindInvalidState, "destroyed"},
		{"Inconsistent", Inconsistent("Game.x", "no target"), KindInconsistent, "no target"},
		{"Incompatible", Incompatible("Game.score", "type changed"), KindIncompatible, "type changed"},
		{"AllocationFailed", AllocationFailed(PhaseInvoke, 1024, 1, nil), KindAllocation, "1024"},
		{"OutOfBounds", OutOfBounds(PhaseInvoke, 65530, 16), KindOutOfBounds, "65530"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if !strings.Contains(tt.err.Error(), tt.detail) {
				t.Errorf("Error() = %q, want substring %q", tt.err.Error(), tt.detail)
			}
		})
	}
}

func TestMissingImportsError(t *testing.T) {
	t.Run("grouped by namespace", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"env#log_score",
			"game#rand",
			"env#now",
		})
		if len(err.Imports) != 3 {
			t.Fatalf("expected 3 imports, got %d", len(err.Imports))
		}
		if err.Imports[0].Namespace != "env" || err.Imports[0].Function != "log_score" {
			t.Errorf("first import = %+v", err.Imports[0])
		}

		msg := err.Error()
		for _, s := range []string{"missing 3", "env:", "game:", "- now"} {
			if !strings.Contains(msg, s) {
				t.Errorf("message %q does not contain %q", msg, s)
			}
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		msg := NewMissingImportsError(nil).Error()
		if !strings.Contains(msg, "no imports specified") {
			t.Errorf("unexpected message: %s", msg)
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingImportsError([]string{"ns#fn"})
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
	})
}
