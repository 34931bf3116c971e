// Package errors provides structured error types for the hot-reload bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the symbol or argument path, the Go type and VM kind
// involved in a conversion, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("Game.add", "arg1").
//		GoType("string").
//		VMKind("int32").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfRange(errors.PhaseMarshal, path, int64(1)<<40, "int32")
//	err := errors.StaleBinding("Game.legacy", 3)
//
// Callers match categories with the kind sentinels, independent of phase:
//
//	if errors.Is(err, hserrors.ErrStaleBinding) {
//		b, err = sess.ResolveFunction(ctx, "Game", "Game.legacy", 0)
//	}
package errors
