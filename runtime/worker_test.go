package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/value"
)

func TestWorker_SerializesCalls(t *testing.T) {
	s, ctx := loadGame(t)
	w := NewWorker(s)
	defer w.Stop()

	var wg sync.WaitGroup
	results := make([]int32, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := w.Do(ctx, func(s *Session) (any, error) {
				out, err := s.Call(ctx, "Game", "Game.add", i, i)
				return out.Int32(), err
			})
			errs[i] = err
			if err == nil {
				results[i] = v.(int32)
			}
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if errs[i] != nil {
			t.Errorf("call %d: %v", i, errs[i])
			continue
		}
		if got != int32(2*i) {
			t.Errorf("call %d = %d", i, got)
		}
	}

	if _, err := w.Do(ctx, func(s *Session) (any, error) { return s.Reload(ctx, gameV2()) }); err != nil {
		t.Fatal(err)
	}
	v, err := w.Do(ctx, func(s *Session) (any, error) { return s.Call(ctx, "Game", "Game.getValue") })
	if err != nil || v == nil {
		t.Fatalf("getValue through worker: %v, %v", v, err)
	}
}

func TestWorker_RecoversPanics(t *testing.T) {
	s, ctx := loadGame(t)
	w := NewWorker(s)
	defer w.Stop()

	_, err := w.Do(ctx, func(*Session) (any, error) { panic("boom") })
	if err == nil {
		t.Fatal("panic not reported")
	}
	if _, err := w.Do(ctx, func(s *Session) (any, error) { return s.State(), nil }); err != nil {
		t.Errorf("worker unusable after panic: %v", err)
	}
}

func TestWorker_Stop(t *testing.T) {
	s, ctx := loadGame(t)
	w := NewWorker(s)
	w.Stop()
	w.Stop()

	_, err := w.Do(ctx, func(*Session) (any, error) { return nil, nil })
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("do after stop: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	w2 := NewWorker(s)
	defer w2.Stop()
	started := make(chan struct{})
	block := make(chan struct{})
	go func() {
		_, _ = w2.Do(ctx, func(*Session) (any, error) {
			close(started)
			<-block
			return nil, nil
		})
	}()
	<-started
	_, err = w2.Do(cancelled, func(*Session) (any, error) { return nil, nil })
	close(block)
	if err != context.Canceled {
		t.Errorf("cancelled do: %v", err)
	}
}

func TestWorker_CancelledWaitLeavesCallRunning(t *testing.T) {
	s, ctx := loadGame(t)
	w := NewWorker(s)
	defer w.Stop()

	waiting, cancel := context.WithCancel(ctx)
	started := make(chan struct{})
	release := make(chan struct{})
	finished := false
	errc := make(chan error, 1)
	go func() {
		_, err := w.Do(waiting, func(s *Session) (any, error) {
			close(started)
			<-release
			_, err := s.Call(ctx, "Game", "Game.setScore", 42)
			finished = true
			return nil, err
		})
		errc <- err
	}()
	<-started
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("cancelled wait: %v", err)
	}
	close(release)

	v, err := w.Do(ctx, func(s *Session) (any, error) {
		if !finished {
			t.Error("next request ran before the abandoned one finished")
		}
		return s.Call(ctx, "Game", "Game.getScore")
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(value.Value).Int32(); got != 42 {
		t.Errorf("score = %d, want 42", got)
	}
}
