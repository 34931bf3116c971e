// Package image parses a module binary into the view a reload works with:
// named functions with signatures and body fingerprints, named statics,
// and the memory the module declares.
//
// Signatures come from two places. Core wasm types give every function a
// signature of int32, int64, float32 and float64 kinds. A custom section
// named by SignaturesSection may refine them with higher level kinds:
//
//	Game.greet: func() -> string
//	Game.touch: func(h: borrow<node>) -> s32
//	Game.enabled: static bool
//
// Declarations use WIT type syntax and must agree with the core types they
// lower to; a mismatch fails the parse.
package image
