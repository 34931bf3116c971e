// Package runtime provides the embedding API: a Session that loads
// WebAssembly modules, calls into them and hot-reloads their code while
// their state stays in place.
//
// # Quick Start
//
//	ctx := context.Background()
//	s, err := runtime.Create(ctx, runtime.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer s.Destroy(ctx)
//
//	name, err := s.LoadFile(ctx, "game.wasm")
//	if err != nil {
//	    return err
//	}
//
//	add, err := s.ResolveFunction(name, "Game.add", 2)
//	if err != nil {
//	    return err
//	}
//	sum, err := s.Invoke(ctx, add, 42, 13) // int32 55
//
// # Lifecycle
//
//	Created ──LoadModule──▶ Loaded ──Reload──▶ Reloading ──▶ Loaded
//	   │                      │
//	   └────────Destroy───────┴──────▶ Destroyed
//
// Host functions are registered in Created. Calls, static access and
// reloads need Loaded. Everything fails with invalid_state after Destroy.
//
// # Reload
//
// Reload parses the new binary, picks the loaded module with the same
// name and diffs exported functions by code fingerprint. The new
// generation is instantiated against the module's statics arena, the
// dispatch table is patched and the old generation is closed. Any error
// before the patch leaves the previous generation installed.
//
// Bindings point at dispatch slots: a binding resolved before a reload
// calls the new code afterwards, and returns stale_binding once its
// function is removed. Globals and linear memory survive every reload.
//
//	s.OnReload(func(ev runtime.ReloadEvent) {
//	    log.Info("reloaded", zap.String("module", ev.Module), zap.Int("changed", ev.ChangedCount))
//	})
//
// # Concurrency
//
// A Session has no internal locking. Hosts that call it from several
// goroutines go through a Worker:
//
//	w := runtime.NewWorker(s)
//	defer w.Stop()
//	v, err := w.Do(ctx, func(s *runtime.Session) (any, error) {
//	    return s.Call(ctx, "Game", "Game.getValue")
//	})
package runtime
