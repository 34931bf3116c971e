package runtime

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-hotswap/engine"
	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/value"
	"github.com/wippyai/wasm-hotswap/wasm"
)

// HostFunc implements a function guest code imports. args carry the
// declared parameter kinds; the returned value is marshalled against the
// declared result kind. A returned error traps the guest, which the
// caller of Invoke sees as a vm_fault.
type HostFunc func(ctx context.Context, args []value.Value) (any, error)

// RegisterHostFunc makes fn importable as namespace.name. It must be
// called before the first module is loaded. A string result is written
// through a return pointer passed as the last core parameter.
func (s *Session) RegisterHostFunc(namespace, name string, params []value.Kind, result value.Kind, fn HostFunc) error {
	if err := s.require("register host function", StateCreated); err != nil {
		return err
	}
	if fn == nil {
		return errors.Registration(namespace, name, fmt.Errorf("nil function"))
	}
	for i, k := range params {
		if k == value.KindVoid {
			return errors.Registration(namespace, name, fmt.Errorf("parameter %d has kind void", i))
		}
	}

	core := value.FlattenParams(params)
	var results []wasm.ValType
	if result == value.KindString {
		core = append(core, wasm.ValI32)
	} else {
		results = result.Flat()
	}

	kinds := append([]value.Kind(nil), params...)
	qualified := namespace + "#" + name
	owner := s.id

	return s.engine.DefineHostFunc(engine.HostFunc{
		Namespace: namespace,
		Name:      name,
		Params:    core,
		Results:   results,
		Fn: func(ctx context.Context, mod api.Module, stack []uint64) {
			low := value.Lowerer{Owner: owner}
			if mem := engine.NewMemory(mod.Memory()); mem != nil {
				low.Mem = mem
			}
			if alloc := engine.GuestAllocator(ctx, mod); alloc != nil {
				low.Alloc = alloc
			}

			args := make([]value.Value, len(kinds))
			pos := 0
			for i, k := range kinds {
				v, n, err := low.Lift(k, stack[pos:])
				if err != nil {
					panic(err)
				}
				args[i] = v
				pos += n
			}

			out, err := fn(ctx, args)
			if err != nil {
				panic(errors.Wrap(errors.PhaseHost, errors.KindVMFault, err, qualified))
			}
			if result == value.KindVoid {
				return
			}
			v, err := value.ToVMPath(out, result, []string{qualified, "result"})
			if err != nil {
				panic(err)
			}
			if result != value.KindString {
				flat, err := low.Lower(v, nil)
				if err != nil {
					panic(err)
				}
				stack[0] = flat[0]
				return
			}

			retptr := uint32(stack[pos])
			flat, err := low.Lower(v, nil)
			if err != nil {
				panic(err)
			}
			if low.Mem == nil {
				panic(errors.NotInitialized(errors.PhaseHost, "linear memory"))
			}
			if err := low.Mem.WriteU32(retptr, uint32(flat[0])); err != nil {
				panic(err)
			}
			if err := low.Mem.WriteU32(retptr+4, uint32(flat[1])); err != nil {
				panic(err)
			}
		},
	})
}
