package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	hotswap "github.com/wippyai/wasm-hotswap"
	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/value"
)

// Target is one exported function of one generation, ready to call.
type Target struct {
	Gen  *Generation
	Decl *image.Function
	fn   api.Function
	post api.Function
}

// Target resolves decl in g. It is the resolver handed to reload.Apply.
func (g *Generation) Target(decl *image.Function) (*Target, error) {
	if g.instance == nil {
		return nil, errors.InvalidState("resolve "+decl.Name, "closed")
	}
	fn := g.instance.ExportedFunction(decl.Name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseResolve, "function", decl.Name)
	}
	return &Target{
		Gen:  g,
		Decl: decl,
		fn:   fn,
		post: g.instance.ExportedFunction(postPrefix + decl.Name),
	}, nil
}

// Call lowers args, calls the function and lifts its result. Arguments must
// already have the declared kinds. Traps, exits and host panics come back as
// vm_fault errors; the generation stays usable afterwards.
func (t *Target) Call(ctx context.Context, owner uint64, args []value.Value) (value.Value, error) {
	g := t.Gen
	if g.instance == nil {
		return value.Value{}, errors.InvalidState("invoke "+t.Decl.Name, "closed")
	}
	sig := t.Decl.Signature
	if sig.Unsupported != "" {
		return value.Value{}, errors.Unsupported(errors.PhaseInvoke, t.Decl.Name+": "+sig.Unsupported)
	}
	if len(args) != sig.Arity() {
		return value.Value{}, errors.ArityMismatch(errors.PhaseInvoke, t.Decl.Name, sig.Arity(), len(args))
	}

	low := value.Lowerer{Owner: owner}
	if g.memory != nil {
		low.Mem = g.memory
	}
	if g.alloc != nil && g.alloc.allocFn != nil {
		g.alloc.ctx = ctx
		low.Alloc = g.alloc
	}

	ft := t.Decl.Type
	stack := make([]uint64, 0, max(len(ft.Params), len(ft.Results)))
	for i, a := range args {
		var err error
		if stack, err = low.Lower(a, stack); err != nil {
			return value.Value{}, errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
				Path(t.Decl.Name, fmt.Sprintf("arg%d", i)).Cause(err).Build()
		}
	}
	stack = stack[:cap(stack)]

	if err := t.invoke(ctx, t.fn, stack); err != nil {
		return value.Value{}, err
	}

	results := stack[:len(ft.Results)]
	out, err := low.LiftResult(sig.Result, results)
	if err != nil {
		return value.Value{}, err
	}

	if t.post != nil {
		post := append([]uint64(nil), results...)
		if len(post) == 0 {
			post = make([]uint64, 1)
		}
		if err := t.invoke(ctx, t.post, post); err != nil {
			return value.Value{}, err
		}
	}
	return out, nil
}

func (t *Target) invoke(ctx context.Context, fn api.Function, stack []uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Fault(t.Decl.Name, fmt.Sprint(r), nil)
		}
	}()
	if cerr := fn.CallWithStack(ctx, stack); cerr != nil {
		msg := faultMessage(cerr)
		Logger().Debug("guest fault", zap.String("function", t.Decl.Name), zap.String("message", msg))
		return errors.Fault(t.Decl.Name, msg, cerr)
	}
	return nil
}

func faultMessage(err error) string {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return fmt.Sprintf("guest exited with code %d", exit.ExitCode())
	}
	return err.Error()
}

// GuestAllocator returns an allocator bound to the calling module of a host
// function, or nil if it exports none.
func GuestAllocator(ctx context.Context, mod api.Module) hotswap.Allocator {
	a := newAllocator(mod)
	if a.allocFn == nil {
		return nil
	}
	a.ctx = ctx
	return a
}
