package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/wasm"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// HostFunc is a Go function guest code can import.
type HostFunc struct {
	Namespace string
	Name      string
	Params    []wasm.ValType
	Results   []wasm.ValType
	Fn        api.GoModuleFunc
}

// Engine owns one wazero runtime and everything instantiated in it:
// host modules, statics arenas and module generations.
type Engine struct {
	runtime   wazero.Runtime
	hostFuncs map[string]map[string]HostFunc
	hostReady bool
	log       *zap.Logger
}

// New creates an engine with its own wazero runtime.
func New(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Engine{
		runtime:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		hostFuncs: make(map[string]map[string]HostFunc),
		log:       Logger(),
	}
}

// WithLogger sets the logger used by this engine and the arenas it creates.
func (e *Engine) WithLogger(l *zap.Logger) *Engine {
	if l != nil {
		e.log = l
	}
	return e
}

// Runtime exposes the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Close closes the runtime and every module in it.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.runtime.Close(ctx); err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindInvalidState, err, "close runtime")
	}
	return nil
}

// DefineHostFunc registers fn. Host modules are instantiated on the first
// Instantiate, so registration after that fails.
func (e *Engine) DefineHostFunc(fn HostFunc) error {
	if e.hostReady {
		return errors.Registration(fn.Namespace, fn.Name, fmt.Errorf("host modules already instantiated"))
	}
	if fn.Namespace == "" || fn.Name == "" || fn.Fn == nil {
		return errors.Registration(fn.Namespace, fn.Name, fmt.Errorf("namespace, name and function are required"))
	}
	if isArenaNamespace(fn.Namespace) {
		return errors.Registration(fn.Namespace, fn.Name, fmt.Errorf("namespace is reserved"))
	}
	ns := e.hostFuncs[fn.Namespace]
	if ns == nil {
		ns = make(map[string]HostFunc)
		e.hostFuncs[fn.Namespace] = ns
	}
	if _, dup := ns[fn.Name]; dup {
		return errors.Registration(fn.Namespace, fn.Name, fmt.Errorf("already registered"))
	}
	ns[fn.Name] = fn
	return nil
}

func (e *Engine) initHostModules(ctx context.Context) error {
	if e.hostReady {
		return nil
	}

	namespaces := make([]string, 0, len(e.hostFuncs))
	for ns := range e.hostFuncs {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		builder := e.runtime.NewHostModuleBuilder(ns)
		for name, fn := range e.hostFuncs[ns] {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(fn.Fn, valueTypes(fn.Params), valueTypes(fn.Results)).
				WithName(name).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Wrap(errors.PhaseHost, errors.KindInstantiation, err, "host module "+ns)
		}
		e.log.Debug("host module instantiated", zap.String("namespace", ns), zap.Int("functions", len(e.hostFuncs[ns])))
	}
	e.hostReady = true
	return nil
}

// checkImports reports every import the engine cannot satisfy. Only host
// functions with a matching core signature count as satisfied.
func (e *Engine) checkImports(m *wasm.Module) error {
	var missing []string
	for _, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindFunc {
			if fn, ok := e.hostFuncs[imp.Module][imp.Name]; ok {
				if int(imp.Desc.TypeIdx) < len(m.Types) && m.Types[imp.Desc.TypeIdx].Equal(wasm.FuncType{Params: fn.Params, Results: fn.Results}) {
					continue
				}
			}
		}
		missing = append(missing, imp.Module+"#"+imp.Name)
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func valueTypes(types []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = api.ValueType(t)
	}
	return out
}
