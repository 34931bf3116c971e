// Package wasm parses and encodes core WebAssembly binary modules.
//
// The package covers the subset of the format the hot-reload bridge needs
// to inspect and rewrite a module between generations: function types,
// imports, function bodies, globals with constant initializers, a single
// linear memory, data segments (including bulk-memory passive segments)
// and custom sections. Element segments are preserved verbatim.
//
// # Parsing
//
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    return err
//	}
//	name, _ := m.ModuleName()
//
// # Building
//
// Builder assembles small modules directly, which the tests and the demo
// command use instead of checked-in binaries:
//
//	b := wasm.NewBuilder("Game")
//	score := b.Global("Game.score", wasm.ValI32, true, wasm.I32Expr(0))
//	b.Func("Game.getScore", wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, nil,
//	    wasm.NewCode().GlobalGet(score))
//	bin := b.Bytes()
package wasm
