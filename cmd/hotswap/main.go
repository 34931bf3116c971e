package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-hotswap/demo"
	"github.com/wippyai/wasm-hotswap/runtime"
)

func main() {
	var (
		wasmFile     = flag.String("wasm", "", "Path to module wasm file")
		configFile   = flag.String("config", "", "Path to TOML config")
		funcName     = flag.String("call", "", "Function to call, e.g. Counter.add")
		list         = flag.Bool("list", false, "List exported functions and statics")
		watch        = flag.Bool("watch", false, "Poll module files and hot reload them on change")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		demoDir      = flag.String("demo", "", "Write the Counter demo modules into this directory")
		snapshotFile = flag.String("snapshot", "", "Restore statics from this file on start, save them on exit")
		verbose      = flag.Bool("v", false, "Verbose logging to stderr")
		args         stringList
	)
	flag.Var(&args, "arg", "Argument for -call (repeatable)")
	flag.Parse()

	if *demoDir != "" {
		path, err := demo.WriteFiles(*demoDir)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote demo modules to %s\n", *demoDir)
		fmt.Printf("  hotswap -wasm %s -i\n", path)
		fmt.Printf("then copy %s over %s to hot reload it.\n", demo.V2File, demo.ActiveFile)
		if *wasmFile == "" {
			return
		}
	}

	cfg := runtime.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = runtime.LoadConfig(*configFile); err != nil {
			fatal(err)
		}
	}
	files := cfg.Modules
	if *wasmFile != "" {
		files = append([]string{*wasmFile}, files...)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: hotswap -wasm <file.wasm> [-call name] [-arg value]...")
		fmt.Fprintln(os.Stderr, "       hotswap -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       hotswap -wasm <file.wasm> -watch")
		fmt.Fprintln(os.Stderr, "       hotswap -wasm <file.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       hotswap -demo <dir>")
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fatal(err)
		}
		log = l
		defer func() { _ = log.Sync() }()
	}

	opts := options{
		cfg:      cfg,
		log:      log,
		files:    files,
		funcName: *funcName,
		args:     args,
		list:     *list,
		watch:    *watch,
		snapshot: *snapshotFile,
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fatal(fmt.Errorf("interactive mode needs a terminal"))
		}
		if err := runInteractive(opts); err != nil {
			fatal(err)
		}
		return
	}

	if err := run(opts); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

type options struct {
	cfg      runtime.Config
	log      *zap.Logger
	files    []string
	funcName string
	args     []string
	list     bool
	watch    bool
	snapshot string
}

// openSession creates a session, loads every file and restores the
// snapshot if one exists.
func openSession(ctx context.Context, o options) (*runtime.Session, error) {
	s, err := runtime.Create(ctx, runtime.WithConfig(o.cfg), runtime.WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	for _, path := range o.files {
		if _, err := s.LoadFile(ctx, path); err != nil {
			_ = s.Destroy(ctx)
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if o.snapshot != "" {
		n, err := restoreSnapshot(s, o.snapshot)
		if err != nil {
			_ = s.Destroy(ctx)
			return nil, err
		}
		if n > 0 {
			o.log.Info("statics restored", zap.String("file", o.snapshot), zap.Int("count", n))
		}
	}
	return s, nil
}

func restoreSnapshot(s *runtime.Session, path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := runtime.UnmarshalSnapshot(data)
	if err != nil {
		return 0, err
	}
	return s.Restore(snap)
}

func saveSnapshot(s *runtime.Session, path string) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	data, err := runtime.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func run(o options) error {
	ctx := context.Background()
	s, err := openSession(ctx, o)
	if err != nil {
		return err
	}
	defer s.Destroy(ctx)

	if o.list || (o.funcName == "" && !o.watch) {
		if err := printModules(s); err != nil {
			return err
		}
	}

	if o.funcName != "" {
		if err := callAndPrint(ctx, s, o.funcName, o.args); err != nil {
			return err
		}
	}

	if o.watch {
		s.OnReload(func(ev runtime.ReloadEvent) {
			fmt.Printf("reloaded %s generation %d: %s\n", ev.Module, ev.Generation, describeChanges(ev))
		})
		fmt.Printf("Watching %s (every %v, ctrl+c to stop)\n", strings.Join(o.files, ", "), o.cfg.PollInterval)
		watchLoop(ctx, s, o.cfg.PollInterval)
	}

	if o.snapshot != "" {
		if err := saveSnapshot(s, o.snapshot); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}

func watchLoop(ctx context.Context, s *runtime.Session, every time.Duration) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			return
		case <-ticker.C:
			if _, err := s.CheckReload(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			}
		}
	}
}

func printModules(s *runtime.Session) error {
	for _, mod := range s.Modules() {
		gen, _ := s.Generation(mod)
		fmt.Printf("Module: %s (generation %d)\n", mod, gen)

		fns, err := s.Functions(mod)
		if err != nil {
			return err
		}
		fmt.Printf("\nExported functions:\n")
		for _, fn := range fns {
			fmt.Printf("  %s%s\n", fn.Name, strings.TrimPrefix(fn.Signature.String(), "func"))
		}

		statics, err := s.Statics(mod)
		if err != nil {
			return err
		}
		if len(statics) > 0 {
			fmt.Printf("\nStatics:\n")
		}
		for _, st := range statics {
			f, err := s.ResolveStaticField(mod, st.Key)
			if err != nil {
				return err
			}
			v, err := s.GetStaticField(f)
			if err != nil {
				return err
			}
			mut := ""
			if !st.Type.Mutable {
				mut = " (immutable)"
			}
			fmt.Printf("  %s: %s = %s%s\n", st.Key, st.Kind, formatValue(v), mut)
		}
		fmt.Println()
	}
	return nil
}

func callAndPrint(ctx context.Context, s *runtime.Session, name string, texts []string) error {
	mod, fn, err := findFunction(s, name)
	if err != nil {
		return err
	}
	args, err := convertArgs(fn, texts)
	if err != nil {
		return err
	}
	fmt.Printf("Calling %s(%s)...\n", fn.Name, strings.Join(texts, ", "))
	result, err := s.Call(ctx, mod, fn.Name, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", fn.Name, err)
	}
	fmt.Printf("Result: %s\n", formatValue(result))
	return nil
}

func describeChanges(ev runtime.ReloadEvent) string {
	if !ev.Changed {
		return "no function changes"
	}
	parts := make([]string, 0, len(ev.Changes)+1)
	for _, c := range ev.Changes {
		parts = append(parts, c.String())
	}
	if ev.DataChanged > 0 {
		parts = append(parts, fmt.Sprintf("%d data bytes rewritten", ev.DataChanged))
	}
	return fmt.Sprintf("%d changed (%s)", ev.ChangedCount, strings.Join(parts, ", "))
}
