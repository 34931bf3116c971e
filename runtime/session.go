package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/engine"
	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/reload"
)

// State is a session lifecycle state.
type State uint8

const (
	StateCreated State = iota
	StateLoaded
	StateReloading
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoaded:
		return "loaded"
	case StateReloading:
		return "reloading"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ReloadEvent describes one completed reload. ChangedCount counts
// patched exported functions; DataChanged counts bytes of initialized
// data that were rewritten because their value in the module changed.
type ReloadEvent struct {
	Module       string
	Generation   uint64
	Changed      bool
	ChangedCount int
	DataChanged  int
	Changes      []reload.Change
	Duration     time.Duration
}

// sessionIDs tags object references with the session that produced them.
var sessionIDs atomic.Uint64

// Session is one embedded VM with hot reload. A session is not safe for
// concurrent use; wrap it in a Worker when several goroutines share it.
type Session struct {
	id       uint64
	cfg      Config
	log      *zap.Logger
	engine   *engine.Engine
	state    State
	modules  map[string]*module
	order    []string
	onReload func(ReloadEvent)

	// calls counts Invoke frames on the stack; host functions may
	// re-enter the session.
	calls     int
	lastFault *errors.Error
}

type module struct {
	name    string
	rt      *engine.Module
	table   *reload.Table[*engine.Target]
	history []*image.Image
	gen     uint64
	file    fileStamp
}

func (m *module) current() *image.Image {
	return m.history[len(m.history)-1]
}

func (m *module) push(img *image.Image, depth int) {
	m.history = append(m.history, img)
	if over := len(m.history) - depth; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

// Create returns a session in the Created state.
func Create(ctx context.Context, opts ...Option) (*Session, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	o.cfg.normalize()
	if o.cfg.MemoryLimitPages > 65536 {
		return nil, errors.InvalidInput(errors.PhaseSession,
			fmt.Sprintf("memory limit %d pages exceeds 65536", o.cfg.MemoryLimitPages))
	}
	if o.log == nil {
		o.log = Logger()
	}

	s := &Session{
		id:      sessionIDs.Add(1),
		cfg:     o.cfg,
		log:     o.log,
		modules: make(map[string]*module),
	}
	s.engine = engine.New(ctx, &engine.Config{MemoryLimitPages: o.cfg.MemoryLimitPages}).WithLogger(o.log)
	return s, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// OnReload sets the callback run after every successful reload, once the
// session is back in the Loaded state. A later call replaces it.
func (s *Session) OnReload(fn func(ReloadEvent)) {
	s.onReload = fn
}

func (s *Session) require(op string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return errors.InvalidState(op, s.state.String())
}

func (s *Session) module(name string) (*module, error) {
	m, ok := s.modules[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseResolve, "module", name)
	}
	return m, nil
}

func (s *Session) parse(data []byte) (*image.Image, error) {
	return image.Parse(data, image.Options{DefaultName: s.cfg.DefaultModuleName})
}

// LoadModule installs generation 0 of the module in data and returns its
// name. Several modules may be loaded side by side.
func (s *Session) LoadModule(ctx context.Context, data []byte) (string, error) {
	if err := s.require("load", StateCreated, StateLoaded); err != nil {
		return "", err
	}
	img, err := s.parse(data)
	if err != nil {
		return "", err
	}
	if _, exists := s.modules[img.Name]; exists {
		return "", errors.New(errors.PhaseLoad, errors.KindInvalidState).
			Path(img.Name).Detail("module already loaded").Build()
	}

	rt := s.engine.NewModule(img.Name)
	pending, err := s.engine.Instantiate(ctx, rt, img, 0, s.cfg.StartFunctions)
	if err != nil {
		rt.Close(ctx)
		return "", err
	}

	g := pending.Generation()
	targets := make([]*engine.Target, len(img.Functions))
	for i, fn := range img.Functions {
		if targets[i], err = g.Target(fn); err != nil {
			pending.Abort(ctx)
			rt.Close(ctx)
			return "", err
		}
	}
	pending.Commit(ctx)

	m := &module{name: img.Name, rt: rt, table: reload.NewTable[*engine.Target]()}
	for i, fn := range img.Functions {
		m.table.Install(fn.Name, fn, 0, targets[i])
	}
	m.push(img, s.cfg.HistoryDepth)
	s.modules[img.Name] = m
	s.order = append(s.order, img.Name)
	s.state = StateLoaded

	s.log.Info("module loaded",
		zap.String("module", img.Name),
		zap.Int("functions", len(img.Functions)),
		zap.Int("statics", len(img.Statics)),
		zap.Int("bytes", img.Size))
	return img.Name, nil
}

// Reload replaces the code of an already loaded module with data. The
// module is chosen by the image name. On error the previous generation
// stays installed and nothing is observable from the attempt.
func (s *Session) Reload(ctx context.Context, data []byte) (*ReloadEvent, error) {
	if err := s.require("reload", StateLoaded); err != nil {
		return nil, err
	}
	if !s.cfg.HotReload {
		return nil, errors.New(errors.PhaseReload, errors.KindInvalidState).
			Detail("hot reload is disabled").Build()
	}
	if s.calls > 0 {
		return nil, errors.InvalidState("reload during invoke", s.state.String())
	}

	start := time.Now()
	img, err := s.parse(data)
	if err != nil {
		return nil, err
	}
	m, ok := s.modules[img.Name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseReload, "module", img.Name)
	}

	s.state = StateReloading
	ev, err := s.reload(ctx, m, img)
	s.state = StateLoaded
	if err != nil {
		s.log.Warn("reload failed", zap.String("module", m.name), zap.Error(err))
		return nil, err
	}
	ev.Duration = time.Since(start)

	s.log.Info("module reloaded",
		zap.String("module", ev.Module),
		zap.Uint64("generation", ev.Generation),
		zap.Int("changed", ev.ChangedCount),
		zap.Int("data_changed", ev.DataChanged),
		zap.Duration("duration", ev.Duration))

	if s.onReload != nil {
		s.onReload(*ev)
	}
	return ev, nil
}

func (s *Session) reload(ctx context.Context, m *module, img *image.Image) (*ReloadEvent, error) {
	prev := m.current()
	if img.Digest == prev.Digest {
		return &ReloadEvent{Module: m.name, Generation: m.gen}, nil
	}

	gen := m.gen + 1
	img.Generation = gen
	diff := reload.Diff(prev, img)

	pending, err := s.engine.Instantiate(ctx, m.rt, img, gen, nil)
	if err != nil {
		return nil, err
	}
	applied, err := reload.Apply(m.table, diff, img, pending.Generation().Target)
	if err != nil {
		pending.Abort(ctx)
		return nil, err
	}
	edited := pending.DataChanged()
	pending.Commit(ctx)

	m.gen = gen
	m.push(img, s.cfg.HistoryDepth)

	if edited > 0 {
		s.log.Warn("initialized data changed, rewriting memory",
			zap.String("module", m.name),
			zap.Uint64("generation", gen),
			zap.Int("bytes", edited))
	}
	for _, c := range diff.Changes {
		s.log.Debug("symbol patched", zap.String("module", m.name), zap.Stringer("change", c))
	}
	return &ReloadEvent{
		Module:       m.name,
		Generation:   gen,
		Changed:      applied > 0 || edited > 0,
		ChangedCount: applied,
		DataChanged:  edited,
		Changes:      diff.Changes,
	}, nil
}

// Destroy closes every module and the underlying runtime. All bindings
// and static fields obtained from the session become invalid.
func (s *Session) Destroy(ctx context.Context) error {
	if err := s.require("destroy", StateCreated, StateLoaded); err != nil {
		return err
	}
	if s.calls > 0 {
		return errors.InvalidState("destroy during invoke", s.state.String())
	}
	for _, name := range s.order {
		s.modules[name].rt.Close(ctx)
	}
	s.modules = nil
	s.order = nil
	s.state = StateDestroyed
	return s.engine.Close(ctx)
}

// Modules returns the loaded module names in load order.
func (s *Session) Modules() []string {
	return append([]string(nil), s.order...)
}

// Generation returns the installed generation number of a module.
func (s *Session) Generation(name string) (uint64, error) {
	m, err := s.module(name)
	if err != nil {
		return 0, err
	}
	return m.gen, nil
}

// Image returns the installed image of a module.
func (s *Session) Image(name string) (*image.Image, error) {
	m, err := s.module(name)
	if err != nil {
		return nil, err
	}
	return m.current(), nil
}

// History returns the retained images of a module, oldest first.
func (s *Session) History(name string) ([]*image.Image, error) {
	m, err := s.module(name)
	if err != nil {
		return nil, err
	}
	return append([]*image.Image(nil), m.history...), nil
}
