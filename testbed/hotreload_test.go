package testbed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-hotswap/demo"
	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/reload"
	"github.com/wippyai/wasm-hotswap/runtime"
	"github.com/wippyai/wasm-hotswap/value"
)

type counterEnv struct {
	ctx    context.Context
	dir    string
	active string
	s      *runtime.Session
	events []runtime.ReloadEvent
}

func newCounterEnv(t *testing.T) *counterEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	active, err := demo.WriteFiles(dir)
	require.NoError(t, err)

	s, err := runtime.Create(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if s.State() != runtime.StateDestroyed {
			_ = s.Destroy(ctx)
		}
	})

	env := &counterEnv{ctx: ctx, dir: dir, active: active, s: s}
	s.OnReload(func(ev runtime.ReloadEvent) { env.events = append(env.events, ev) })

	name, err := s.LoadFile(ctx, active)
	require.NoError(t, err)
	require.Equal(t, demo.ModuleName, name)
	return env
}

func (e *counterEnv) call(t *testing.T, name string, args ...any) int32 {
	t.Helper()
	v, err := e.s.Call(e.ctx, demo.ModuleName, name, args...)
	require.NoError(t, err, name)
	return v.Int32()
}

func (e *counterEnv) describe(t *testing.T) string {
	t.Helper()
	v, err := e.s.Call(e.ctx, demo.ModuleName, "Counter.describe")
	require.NoError(t, err)
	return v.Str()
}

// swap copies version 2 over the active file and moves its modification
// time forward so the change is seen even on coarse file systems.
func (e *counterEnv) swap(t *testing.T) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, demo.V2File))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.active, data, 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(e.active, later, later))
}

func TestCounter_FileReload(t *testing.T) {
	env := newCounterEnv(t)

	increment, err := env.s.ResolveFunction(demo.ModuleName, "Counter.increment", 0)
	require.NoError(t, err)
	legacy, err := env.s.ResolveFunction(demo.ModuleName, "Counter.legacy", 0)
	require.NoError(t, err)

	for range 3 {
		_, err := env.s.Invoke(env.ctx, increment)
		require.NoError(t, err)
	}
	assert.Equal(t, "counter v1, step 1", env.describe(t))
	assert.Equal(t, int32(-1), env.call(t, "Counter.legacy"))

	reloaded, err := env.s.CheckReload(env.ctx)
	require.NoError(t, err)
	assert.False(t, reloaded, "untouched file reloaded")

	env.swap(t)
	reloaded, err = env.s.CheckReload(env.ctx)
	require.NoError(t, err)
	require.True(t, reloaded)

	gen, err := env.s.Generation(demo.ModuleName)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	// old binding runs new code against the old count
	v, err := env.s.Invoke(env.ctx, increment)
	require.NoError(t, err)
	assert.Equal(t, int32(13), v.Int32())
	assert.Equal(t, "counter v2, step 10", env.describe(t))
	assert.Equal(t, int32(1), env.call(t, "Counter.getVersion"), "immutable static was re-initialized")
	assert.Equal(t, int32(7), env.call(t, "Counter.add", 3, 4))

	_, err = env.s.Invoke(env.ctx, legacy)
	assert.True(t, errors.Is(err, errors.ErrStaleBinding), "removed function: %v", err)

	require.Len(t, env.events, 1)
	ev := env.events[0]
	assert.True(t, ev.Changed)
	assert.Equal(t, 4, ev.ChangedCount)
	kinds := make(map[string]reload.ChangeKind)
	for _, c := range ev.Changes {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, reload.Added, kinds["Counter.reset"])
	assert.Equal(t, reload.Removed, kinds["Counter.legacy"])

	// a second check sees nothing new
	reloaded, err = env.s.CheckReload(env.ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestCounter_BrokenFileKeepsRunning(t *testing.T) {
	env := newCounterEnv(t)
	env.call(t, "Counter.increment")

	require.NoError(t, os.WriteFile(env.active, []byte("\x00asm broken"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(env.active, later, later))

	reloaded, err := env.s.CheckReload(env.ctx)
	assert.False(t, reloaded)
	assert.True(t, errors.Is(err, errors.ErrParse), "broken file: %v", err)
	assert.Equal(t, runtime.StateLoaded, env.s.State())
	assert.Empty(t, env.events)

	// the old code still runs and the count is intact
	assert.Equal(t, int32(2), env.call(t, "Counter.increment"))
	assert.Equal(t, "counter v1, step 1", env.describe(t))

	// not retried until the file changes again
	_, err = env.s.CheckReload(env.ctx)
	assert.NoError(t, err)

	env.swap(t)
	reloaded, err = env.s.CheckReload(env.ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, int32(12), env.call(t, "Counter.increment"))
}

func TestCounter_SnapshotAcrossSessions(t *testing.T) {
	env := newCounterEnv(t)
	for range 5 {
		env.call(t, "Counter.increment")
	}
	snap, err := env.s.Snapshot()
	require.NoError(t, err)
	data, err := runtime.MarshalSnapshot(snap)
	require.NoError(t, err)
	require.NoError(t, env.s.Destroy(env.ctx))

	// a fresh session running version 2 picks the count up
	s, err := runtime.Create(env.ctx)
	require.NoError(t, err)
	defer s.Destroy(env.ctx)
	_, err = s.LoadFile(env.ctx, filepath.Join(env.dir, demo.V2File))
	require.NoError(t, err)

	restored, err := runtime.UnmarshalSnapshot(data)
	require.NoError(t, err)
	n, err := s.Restore(restored)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := s.Call(env.ctx, demo.ModuleName, "Counter.increment")
	require.NoError(t, err)
	assert.Equal(t, int32(15), v.Int32())
}

func TestCounter_WorkerSharedAcrossGoroutines(t *testing.T) {
	env := newCounterEnv(t)
	w := runtime.NewWorker(env.s)
	defer w.Stop()

	const callers = 8
	const perCaller = 25
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perCaller {
				_, err := w.Do(env.ctx, func(s *runtime.Session) (any, error) {
					return s.Call(env.ctx, demo.ModuleName, "Counter.increment")
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	// reload in the middle of the traffic; calls never overlap a reload
	env.swap(t)
	_, err := w.Do(env.ctx, func(s *runtime.Session) (any, error) {
		return s.CheckReload(env.ctx)
	})
	require.NoError(t, err)

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	v, err := w.Do(env.ctx, func(s *runtime.Session) (any, error) {
		f, err := s.ResolveStaticField(demo.ModuleName, "Counter.count")
		if err != nil {
			return nil, err
		}
		return s.GetStaticField(f)
	})
	require.NoError(t, err)
	count := v.(value.Value).Int32()
	// every call added 1 or 10 depending on which side of the reload it ran
	assert.GreaterOrEqual(t, count, int32(callers*perCaller))
	assert.LessOrEqual(t, count, int32(callers*perCaller*10))
	assert.Equal(t, int32(0), (count-callers*perCaller)%9)
}
