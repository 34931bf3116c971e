package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/wasm-hotswap/errors"
)

type workRequest struct {
	fn   func(*Session) (any, error)
	done chan workResult
}

type workResult struct {
	value any
	err   error
}

// Worker serializes all access to one session through a single goroutine.
// Sessions are single-threaded; goroutines that share one must go through
// a worker.
type Worker struct {
	session  *Session
	requests chan workRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker starts a worker goroutine owning s.
func NewWorker(s *Session) *Worker {
	w := &Worker{
		session:  s,
		requests: make(chan workRequest),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the session, recovering from panics.
func (w *Worker) execute(fn func(*Session) (any, error)) (result workResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("worker: panic: %v", r)
		}
	}()
	result.value, result.err = fn(w.session)
	return result
}

// Do runs fn on the worker goroutine and waits for its result.
//
// Cancelling ctx only stops the wait. If ctx is done after fn was handed
// to the worker, Do returns ctx.Err() while fn keeps running on the
// session until it finishes, and its result is discarded. The next
// request starts only after that. Do returns an InvalidState error if
// the worker has stopped before accepting fn.
func (w *Worker) Do(ctx context.Context, fn func(*Session) (any, error)) (any, error) {
	select {
	case <-w.quit:
		return nil, errors.InvalidState("worker request", "stopped")
	default:
	}
	req := workRequest{fn: fn, done: make(chan workResult, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errors.InvalidState("worker request", "stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the worker down. A request already running completes.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
