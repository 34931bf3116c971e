package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/wasm"
)

const (
	arenaPrefix = "hotswap.statics/"
	memoryName  = "memory"
	pageSize    = 65536
)

func isArenaNamespace(ns string) bool {
	return strings.HasPrefix(ns, arenaPrefix)
}

// ArenaSlot is one persistent global owned by an arena part.
type ArenaSlot struct {
	Key    string
	Type   wasm.GlobalType
	Part   string
	global api.Global
}

// Get returns the raw bits of the slot.
func (s *ArenaSlot) Get() uint64 {
	return s.global.Get()
}

// Set stores raw bits. Immutable slots reject writes.
func (s *ArenaSlot) Set(bits uint64) error {
	mg, ok := s.global.(api.MutableGlobal)
	if !ok || !s.Type.Mutable {
		return errors.InvalidInput(errors.PhaseStatic, "static "+s.Key+" is immutable")
	}
	mg.Set(bits)
	return nil
}

// Arena owns the globals and linear memory of one logical module. Every
// generation of the module imports them, so their values survive reloads.
// Parts are append-only: a reload that introduces new globals adds a part.
type Arena struct {
	module string
	engine *Engine
	parts  []api.Module
	slots  map[string]*ArenaSlot

	memPart   string
	memLimits wasm.Limits
	memory    api.Memory

	seeded     ranges
	image      []seed
	positional []wasm.GlobalType
	log        *zap.Logger
}

func newArena(e *Engine, module string) *Arena {
	return &Arena{
		module: module,
		engine: e,
		slots:  make(map[string]*ArenaSlot),
		log:    e.log.With(zap.String("module", module)),
	}
}

// Slot returns the slot for key.
func (a *Arena) Slot(key string) (*ArenaSlot, bool) {
	s, ok := a.slots[key]
	return s, ok
}

// Memory returns the arena's linear memory, or nil.
func (a *Arena) Memory() api.Memory {
	return a.memory
}

func (a *Arena) partName(n int) string {
	return fmt.Sprintf("%s%s/%d", arenaPrefix, a.module, n)
}

// ArenaPlan is a prepared arena extension for one generation. It must be
// either committed or aborted.
type ArenaPlan struct {
	arena   *Arena
	gen     uint64
	part    api.Module
	partKey string
	added   []*ArenaSlot
	imports map[string]string // static key -> part name
	memPart string
	memNew  bool
	limits  wasm.Limits
	grow    uint32
	seeds   []seed
	edited  int
	image   []seed
	module  *wasm.Module
	done    bool

	positional []wasm.GlobalType
}

type seed struct {
	offset uint32
	data   []byte
}

// Prepare validates img against the arena and instantiates a new part
// for globals (and memory) the arena does not own yet.
func (a *Arena) Prepare(ctx context.Context, img *image.Image, gen uint64) (*ArenaPlan, error) {
	p := &ArenaPlan{
		arena:   a,
		gen:     gen,
		imports: make(map[string]string, len(img.Statics)),
		memPart: a.memPart,
		limits:  a.memLimits,
		module:  img.Module,
	}

	for _, s := range img.Statics {
		if s.Positional {
			p.positional = append(p.positional, s.Type)
		}
	}
	if gen > 0 && !sameTypes(a.positional, p.positional) {
		return nil, errors.Incompatible(img.Name, fmt.Sprintf(
			"unnamed private globals were %s, now %s; add a name section to reorder them",
			describeAll(a.positional), describeAll(p.positional)))
	}

	partKey := a.partName(len(a.parts))
	b := wasm.NewBuilder("")
	var fresh []*image.Static

	for _, s := range img.Statics {
		if existing, ok := a.slots[s.Key]; ok {
			if existing.Type != s.Type {
				return nil, errors.Incompatible(s.Key, fmt.Sprintf("static was %s, now %s", describe(existing.Type), describe(s.Type)))
			}
			p.imports[s.Key] = existing.Part
			continue
		}
		b.Global(s.Key, s.Type.ValType, s.Type.Mutable, wasm.ConstExpr(s.Type.ValType, s.Init))
		p.imports[s.Key] = partKey
		fresh = append(fresh, s)
	}

	if img.Memory != nil {
		if a.memory == nil {
			p.memNew = true
			p.memPart = partKey
			p.limits = img.Memory.Limits
			b.Memory(p.limits.Min, p.limits.Max)
		} else if cur := a.memory.Size() / pageSize; img.Memory.Limits.Min > cur {
			p.grow = img.Memory.Limits.Min - cur
		}
	}

	if len(fresh) > 0 || p.memNew {
		part, err := a.instantiatePart(ctx, partKey, b.Bytes())
		if err != nil {
			return nil, err
		}
		p.part = part
		p.partKey = partKey
		for _, s := range fresh {
			g := part.ExportedGlobal(s.Key)
			if g == nil {
				p.Abort(ctx)
				return nil, errors.Inconsistent(s.Key, "arena part does not export static")
			}
			p.added = append(p.added, &ArenaSlot{Key: s.Key, Type: s.Type, Part: partKey, global: g})
		}
	}

	p.image = activeSegments(img.Module, a.log)
	if gen > 0 {
		p.seeds = a.unseeded(p.image)
		edits := a.edited(p.image)
		for _, s := range edits {
			p.edited += len(s.data)
		}
		p.seeds = append(p.seeds, edits...)
	}
	return p, nil
}

func (a *Arena) instantiatePart(ctx context.Context, name string, bin []byte) (api.Module, error) {
	rt := a.engine.runtime
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Instantiation(name, err)
	}
	part, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(name, err)
	}
	return part, nil
}

// Abort discards the plan's part. Values already seeded are not rolled back
// because nothing is seeded before Commit.
func (p *ArenaPlan) Abort(ctx context.Context) {
	if p.done {
		return
	}
	p.done = true
	if p.part != nil {
		if err := p.part.Close(ctx); err != nil {
			p.arena.log.Warn("close aborted arena part", zap.String("part", p.partKey), zap.Error(err))
		}
	}
}

// Edited returns the number of data bytes whose initial value differs
// from the previous generation and will be rewritten on Commit.
func (p *ArenaPlan) Edited() int {
	return p.edited
}

// Commit adopts the plan's slots and memory and grows memory to the new
// minimum. It seeds byte ranges no earlier generation initialized and
// rewrites bytes whose initial value changed since the last generation.
func (p *ArenaPlan) Commit() {
	if p.done {
		return
	}
	p.done = true
	a := p.arena

	if p.part != nil {
		a.parts = append(a.parts, p.part)
	}
	for _, s := range p.added {
		a.slots[s.Key] = s
	}
	if p.memNew {
		a.memPart = p.memPart
		a.memLimits = p.limits
		a.memory = p.part.ExportedMemory(memoryName)
	}
	if p.grow > 0 && a.memory != nil {
		if _, ok := a.memory.Grow(p.grow); !ok {
			a.log.Warn("memory growth refused", zap.Uint32("pages", p.grow))
		}
	}

	if p.gen == 0 {
		a.markSeeded(p.image)
		a.positional = p.positional
	}
	a.image = p.image
	for _, s := range p.seeds {
		if a.memory == nil || !a.memory.Write(s.offset, s.data) {
			a.log.Warn("data seed out of bounds",
				zap.Uint32("offset", s.offset), zap.Int("length", len(s.data)))
			continue
		}
		a.seeded.add(s.offset, s.offset+uint32(len(s.data)))
	}
	a.log.Debug("arena committed",
		zap.Uint64("generation", p.gen),
		zap.Int("new_slots", len(p.added)),
		zap.Int("seeded_segments", len(p.seeds)),
		zap.Int("edited_bytes", p.edited))
}

// activeSegments returns the constant-offset active data of m.
func activeSegments(m *wasm.Module, log *zap.Logger) []seed {
	var out []seed
	for i, d := range m.Data {
		if !d.Active() || len(d.Init) == 0 {
			continue
		}
		off, ok := segmentOffset(d)
		if !ok {
			log.Warn("data segment offset is not constant, skipped", zap.Int("segment", i))
			continue
		}
		out = append(out, seed{offset: off, data: d.Init})
	}
	return out
}

// markSeeded records the active data of a generation 0 module.
func (a *Arena) markSeeded(segs []seed) {
	for _, s := range segs {
		a.seeded.add(s.offset, s.end())
	}
}

// unseeded returns the parts of segs that fall outside every range
// seeded so far.
func (a *Arena) unseeded(segs []seed) []seed {
	var out []seed
	for _, s := range segs {
		for _, gap := range a.seeded.gaps(s.offset, s.end()) {
			out = append(out, seed{offset: gap.lo, data: s.data[gap.lo-s.offset : gap.hi-s.offset]})
		}
	}
	return out
}

// edited returns the runs of segs whose bytes differ from the previous
// generation's data at the same address. Bytes the previous generation
// did not initialize are left to unseeded.
func (a *Arena) edited(segs []seed) []seed {
	var out []seed
	for _, s := range segs {
		for _, old := range a.image {
			lo, hi := max(s.offset, old.offset), min(s.end(), old.end())
			for i := lo; i < hi; {
				if s.data[i-s.offset] == old.data[i-old.offset] {
					i++
					continue
				}
				j := i + 1
				for j < hi && s.data[j-s.offset] != old.data[j-old.offset] {
					j++
				}
				out = append(out, seed{offset: i, data: s.data[i-s.offset : j-s.offset]})
				i = j
			}
		}
	}
	return out
}

func (s seed) end() uint32 {
	return s.offset + uint32(len(s.data))
}

func segmentOffset(d wasm.DataSegment) (uint32, bool) {
	bits, vt, err := wasm.EvalConst(d.Offset)
	if err != nil || vt != wasm.ValI32 {
		return 0, false
	}
	return uint32(bits), true
}

func (a *Arena) close(ctx context.Context) {
	for i := len(a.parts) - 1; i >= 0; i-- {
		_ = a.parts[i].Close(ctx)
	}
	a.parts = nil
	a.slots = map[string]*ArenaSlot{}
	a.memory = nil
}

func describe(t wasm.GlobalType) string {
	if t.Mutable {
		return "mut " + t.ValType.String()
	}
	return t.ValType.String()
}

func sameTypes(a, b []wasm.GlobalType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func describeAll(ts []wasm.GlobalType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = describe(t)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

type span struct{ lo, hi uint32 }

// ranges is a sorted set of disjoint half-open byte ranges.
type ranges []span

func (r *ranges) add(lo, hi uint32) {
	if hi <= lo {
		return
	}
	var out ranges
	inserted := false
	for _, s := range *r {
		switch {
		case s.hi < lo:
			out = append(out, s)
		case hi < s.lo:
			if !inserted {
				out = append(out, span{lo, hi})
				inserted = true
			}
			out = append(out, s)
		default:
			lo, hi = min(lo, s.lo), max(hi, s.hi)
		}
	}
	if !inserted {
		out = append(out, span{lo, hi})
	}
	*r = out
}

func (r ranges) gaps(lo, hi uint32) []span {
	var out []span
	cur := lo
	for _, s := range r {
		if s.hi <= cur {
			continue
		}
		if s.lo >= hi {
			break
		}
		if s.lo > cur {
			out = append(out, span{cur, s.lo})
		}
		cur = max(cur, s.hi)
		if cur >= hi {
			return out
		}
	}
	if cur < hi {
		out = append(out, span{cur, hi})
	}
	return out
}
