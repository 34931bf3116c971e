// Package hotswap embeds a WebAssembly VM in a Go host and hot-swaps the
// function bodies of a running module while its static state survives.
//
// A session owns one wazero runtime. Modules are loaded as generation 0 and
// later replaced by newer builds of the same module: changed functions are
// detected by fingerprint, call slots are redirected, and every global plus
// the linear memory live in a statics arena that all generations import.
//
// # Architecture Overview
//
//	hotswap/             Root package with the Memory and Allocator interfaces
//	├── runtime/         Session lifecycle, resolve, invoke, reload, worker
//	├── engine/          wazero integration: arenas, generations, native calls
//	├── reload/          Diff engine and dispatch table patching
//	├── image/           Module image parsing, signatures and fingerprints
//	├── value/           Tagged values and host/VM marshalling
//	├── wasm/            Core wasm binary parsing, encoding and building
//	├── errors/          Structured error types
//	├── demo/            Counter module pair for the CLI, example and tests
//	├── testbed/         End-to-end reload tests
//	├── examples/        Runnable examples
//	└── cmd/hotswap/     CLI with watch mode and an interactive TUI
//
// # Quick Start
//
//	sess, err := runtime.Create(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Destroy(ctx)
//
//	if _, err := sess.LoadFile(ctx, "game.wasm"); err != nil {
//	    log.Fatal(err)
//	}
//	add, err := sess.ResolveFunction("Game", "Game.add", 2)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := sess.Invoke(ctx, add, 42, 13)
//	fmt.Println(v.Int32()) // 55
//
//	sess.OnReload(func(ev runtime.ReloadEvent) {
//	    log.Printf("%s: %d function(s) changed", ev.Module, ev.ChangedCount)
//	})
//	if _, err := sess.ReloadFile(ctx, "Game"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// A Session does no internal locking. Hosts that call into one session from
// several goroutines must serialize access, for example through
// runtime.Worker, which owns the session on a single goroutine.
package hotswap
