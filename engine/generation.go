package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
)

// Allocator export names, tried in order
const (
	CabiRealloc   = "cabi_realloc"
	legacyRealloc = "canonical_abi_realloc"
	simpleAlloc   = "alloc"
	postPrefix    = "cabi_post_"
)

// Module is one logical module: its arena plus the generation currently
// installed. Older generations are closed once a newer one commits.
type Module struct {
	Name    string
	engine  *Engine
	arena   *Arena
	current *Generation
}

// Arena returns the module's statics arena.
func (m *Module) Arena() *Arena {
	return m.arena
}

// Current returns the installed generation.
func (m *Module) Current() *Generation {
	return m.current
}

// Generation is one instantiated image of a module.
type Generation struct {
	Image    *image.Image
	Number   uint64
	instance api.Module
	compiled wazero.CompiledModule
	memory   *WazeroMemory
	alloc    *wazeroAllocator
}

// InstanceName returns the wazero module name, "<module>@<generation>".
func (g *Generation) InstanceName() string {
	return fmt.Sprintf("%s@%d", g.Image.Name, g.Number)
}

// Memory returns the generation's view of linear memory, or nil.
func (g *Generation) Memory() *WazeroMemory {
	return g.memory
}

// Close closes the instance. Arena state is unaffected.
func (g *Generation) Close(ctx context.Context) error {
	if g.instance == nil {
		return nil
	}
	err := g.instance.Close(ctx)
	g.instance = nil
	if g.compiled != nil {
		_ = g.compiled.Close(ctx)
		g.compiled = nil
	}
	return err
}

// Pending is an instantiated generation whose arena changes are not yet
// committed. Exactly one of Commit or Abort must be called.
type Pending struct {
	module *Module
	gen    *Generation
	plan   *ArenaPlan
}

// Generation returns the new generation.
func (p *Pending) Generation() *Generation {
	return p.gen
}

// DataChanged returns how many bytes of initialized data Commit will
// rewrite because the new module changed them.
func (p *Pending) DataChanged() int {
	return p.plan.Edited()
}

// Commit installs the generation and closes the one it replaces.
func (p *Pending) Commit(ctx context.Context) {
	p.plan.Commit()
	prev := p.module.current
	p.module.current = p.gen
	if prev != nil {
		if err := prev.Close(ctx); err != nil {
			p.module.engine.log.Warn("close previous generation",
				zap.String("instance", prev.InstanceName()), zap.Error(err))
		}
	}
}

// Abort closes the new generation and discards its arena part.
func (p *Pending) Abort(ctx context.Context) {
	_ = p.gen.Close(ctx)
	p.plan.Abort(ctx)
}

// NewModule creates the arena for a logical module. No generation is
// installed until the first Instantiate commits.
func (e *Engine) NewModule(name string) *Module {
	return &Module{Name: name, engine: e, arena: newArena(e, name)}
}

// Instantiate prepares the arena for img, relinks it against the arena
// and instantiates it as generation gen. Start functions run only for
// generation 0.
func (e *Engine) Instantiate(ctx context.Context, m *Module, img *image.Image, gen uint64, startFuncs []string) (*Pending, error) {
	start := time.Now()
	if err := e.checkImports(img.Module); err != nil {
		return nil, err
	}
	if err := e.initHostModules(ctx); err != nil {
		return nil, err
	}

	plan, err := m.arena.Prepare(ctx, img, gen)
	if err != nil {
		return nil, err
	}

	g := &Generation{Image: img, Number: gen}
	bin, err := relink(img, plan, gen)
	if err != nil {
		plan.Abort(ctx)
		return nil, err
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		plan.Abort(ctx)
		return nil, errors.Instantiation(g.InstanceName(), err)
	}

	cfg := wazero.NewModuleConfig().WithName(g.InstanceName())
	if gen == 0 {
		if startFuncs != nil {
			cfg = cfg.WithStartFunctions(startFuncs...)
		}
	} else {
		cfg = cfg.WithStartFunctions()
	}

	inst, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = compiled.Close(ctx)
		plan.Abort(ctx)
		return nil, errors.Instantiation(g.InstanceName(), err)
	}
	g.instance = inst
	g.compiled = compiled
	if mem := inst.Memory(); mem != nil {
		g.memory = &WazeroMemory{mem: mem}
	}
	g.alloc = newAllocator(inst)

	e.log.Debug("generation instantiated",
		zap.String("instance", g.InstanceName()),
		zap.Int("functions", len(img.Functions)),
		zap.Int("statics", len(img.Statics)),
		zap.Duration("elapsed", time.Since(start)))

	return &Pending{module: m, gen: g, plan: plan}, nil
}

// Close closes every generation and arena part of the module.
func (m *Module) Close(ctx context.Context) {
	if m.current != nil {
		_ = m.current.Close(ctx)
		m.current = nil
	}
	m.arena.close(ctx)
}

// wazeroAllocator calls the guest allocator of one generation.
type wazeroAllocator struct {
	allocFn  api.Function
	ctx      context.Context
	stackBuf [4]uint64
	simple   bool
}

func newAllocator(inst api.Module) *wazeroAllocator {
	defs := inst.ExportedFunctionDefinitions()
	for _, name := range []string{CabiRealloc, legacyRealloc, simpleAlloc} {
		def, ok := defs[name]
		if !ok {
			continue
		}
		return &wazeroAllocator{
			allocFn: inst.ExportedFunction(name),
			simple:  len(def.ParamTypes()) < 4,
		}
	}
	return &wazeroAllocator{}
}

func (a *wazeroAllocator) Alloc(size, align uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, fmt.Errorf("no allocator available")
	}
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if a.simple {
		a.stackBuf[0] = uint64(size)
		if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
			return 0, err
		}
		return uint32(a.stackBuf[0]), nil
	}
	a.stackBuf[0] = 0
	a.stackBuf[1] = 0
	a.stackBuf[2] = uint64(align)
	a.stackBuf[3] = uint64(size)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:4]); err != nil {
		return 0, err
	}
	return uint32(a.stackBuf[0]), nil
}
