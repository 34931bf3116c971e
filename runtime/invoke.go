package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/value"
)

// Binding is a resolved function. It refers to a dispatch slot, so it
// follows every reload that modifies the function and goes stale only
// when a reload removes it.
type Binding struct {
	session *Session
	module  string
	name    string
	slot    int
	arity   int
}

func (b *Binding) Module() string { return b.module }
func (b *Binding) Name() string   { return b.name }

// Arity is the parameter count the binding was resolved with.
func (b *Binding) Arity() int { return b.arity }

// StaticField is a resolved module-level variable.
type StaticField struct {
	session *Session
	module  string
	key     string
	kind    value.Kind
	mutable bool
}

func (f *StaticField) Module() string   { return f.module }
func (f *StaticField) Name() string     { return f.key }
func (f *StaticField) Kind() value.Kind { return f.kind }
func (f *StaticField) Mutable() bool    { return f.mutable }

// ResolveFunction looks name up in the module's installed generation and
// checks its declared parameter count against arity.
func (s *Session) ResolveFunction(moduleName, name string, arity int) (*Binding, error) {
	if err := s.require("resolve", StateLoaded); err != nil {
		return nil, err
	}
	m, err := s.module(moduleName)
	if err != nil {
		return nil, err
	}
	idx, ok := m.table.Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseResolve, "function", name)
	}
	slot, _ := m.table.Slot(idx)
	if got := slot.Decl.Arity(); got != arity {
		return nil, errors.ArityMismatch(errors.PhaseResolve, name, got, arity)
	}
	return &Binding{session: s, module: moduleName, name: name, slot: idx, arity: arity}, nil
}

// ResolveStaticField looks up an exported static of the module.
func (s *Session) ResolveStaticField(moduleName, name string) (*StaticField, error) {
	if err := s.require("resolve", StateLoaded); err != nil {
		return nil, err
	}
	m, err := s.module(moduleName)
	if err != nil {
		return nil, err
	}
	st, ok := m.current().Static(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseResolve, "static", name)
	}
	return &StaticField{
		session: s,
		module:  moduleName,
		key:     st.Key,
		kind:    st.Kind,
		mutable: st.Type.Mutable,
	}, nil
}

// Invoke marshals args against the function's declared parameter kinds
// and calls its current target. A marshalling error means no call was
// made. A guest trap is returned as a vm_fault error and leaves the
// module usable.
func (s *Session) Invoke(ctx context.Context, b *Binding, args ...any) (value.Value, error) {
	if err := s.require("invoke", StateLoaded); err != nil {
		return value.Value{}, err
	}
	if b == nil || b.session != s {
		return value.Value{}, errors.InvalidInput(errors.PhaseInvoke, "binding does not belong to this session")
	}
	m, err := s.module(b.module)
	if err != nil {
		return value.Value{}, err
	}
	slot, ok := m.table.Slot(b.slot)
	if !ok {
		return value.Value{}, errors.InvalidInput(errors.PhaseInvoke, "unknown dispatch slot")
	}
	if slot.Tombstoned {
		return value.Value{}, errors.StaleBinding(b.name, m.gen)
	}
	sig := slot.Decl.Signature
	if sig.Unsupported != "" {
		return value.Value{}, errors.Unsupported(errors.PhaseInvoke, b.name+": "+sig.Unsupported)
	}
	if sig.Arity() != b.arity {
		return value.Value{}, errors.ArityMismatch(errors.PhaseInvoke, b.name, sig.Arity(), b.arity)
	}
	if len(args) != sig.Arity() {
		return value.Value{}, errors.ArityMismatch(errors.PhaseInvoke, b.name, sig.Arity(), len(args))
	}

	vals := make([]value.Value, len(args))
	for i, a := range args {
		v, err := value.ToVMPath(a, sig.Params[i], []string{b.name, argName(sig, i)})
		if err != nil {
			return value.Value{}, err
		}
		vals[i] = v
	}

	s.calls++
	out, err := slot.Target.Call(ctx, s.id, vals)
	s.calls--
	if err != nil {
		var he *errors.Error
		if errors.As(err, &he) && he.Kind == errors.KindVMFault {
			s.lastFault = he
			s.log.Debug("invoke faulted", zap.String("function", b.name), zap.Error(err))
		}
		return value.Value{}, err
	}
	return out, nil
}

func argName(sig image.Signature, i int) string {
	if i < len(sig.Names) && sig.Names[i] != "" {
		return sig.Names[i]
	}
	return fmt.Sprintf("arg%d", i)
}

// Call resolves name with the arity of args and invokes it.
func (s *Session) Call(ctx context.Context, moduleName, name string, args ...any) (value.Value, error) {
	b, err := s.ResolveFunction(moduleName, name, len(args))
	if err != nil {
		return value.Value{}, err
	}
	return s.Invoke(ctx, b, args...)
}

// LastFault returns the most recent vm_fault raised by Invoke, or nil.
func (s *Session) LastFault() *errors.Error {
	return s.lastFault
}

// GetStaticField reads the current value of f.
func (s *Session) GetStaticField(f *StaticField) (value.Value, error) {
	if err := s.require("get static", StateLoaded); err != nil {
		return value.Value{}, err
	}
	slot, err := s.staticSlot(f)
	if err != nil {
		return value.Value{}, err
	}
	return value.FromBits(f.kind, slot.Get(), s.id), nil
}

// SetStaticField marshals v against the field's kind and stores it.
// Immutable statics reject writes.
func (s *Session) SetStaticField(f *StaticField, v any) error {
	if err := s.require("set static", StateLoaded); err != nil {
		return err
	}
	slot, err := s.staticSlot(f)
	if err != nil {
		return err
	}
	val, err := value.ToVMPath(v, f.kind, []string{f.key})
	if err != nil {
		return err
	}
	if val.Kind() == value.KindObject && !val.Ref().IsNull() && val.Ref().Owner() != s.id {
		return errors.InvalidInput(errors.PhaseStatic, "object reference belongs to another session")
	}
	return slot.Set(val.Bits())
}

type bitSlot interface {
	Get() uint64
	Set(bits uint64) error
}

func (s *Session) staticSlot(f *StaticField) (bitSlot, error) {
	if f == nil || f.session != s {
		return nil, errors.InvalidInput(errors.PhaseStatic, "static field does not belong to this session")
	}
	m, err := s.module(f.module)
	if err != nil {
		return nil, err
	}
	slot, ok := m.rt.Arena().Slot(f.key)
	if !ok {
		return nil, errors.NotFound(errors.PhaseStatic, "static", f.key)
	}
	return slot, nil
}

// Functions returns the functions of a module's installed generation in
// declaration order.
func (s *Session) Functions(moduleName string) ([]*image.Function, error) {
	m, err := s.module(moduleName)
	if err != nil {
		return nil, err
	}
	return append([]*image.Function(nil), m.current().Functions...), nil
}

// Statics returns the exported statics of a module's installed generation.
func (s *Session) Statics(moduleName string) ([]*image.Static, error) {
	m, err := s.module(moduleName)
	if err != nil {
		return nil, err
	}
	return m.current().ExportedStatics(), nil
}
