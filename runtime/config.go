package runtime

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/image"
)

const (
	minHistoryDepth     = 2
	defaultPollInterval = 500 * time.Millisecond
)

// Config holds session settings. The zero value is not usable directly;
// start from DefaultConfig or LoadConfig.
type Config struct {
	// MemoryLimitPages caps linear memory per module in 64KiB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`

	// DefaultModuleName names binaries that carry no name section.
	DefaultModuleName string `toml:"default_module_name"`

	// HistoryDepth is the number of images retained per module.
	HistoryDepth int `toml:"history_depth"`

	// HotReload enables Reload. When false every reload fails.
	HotReload bool `toml:"hot_reload"`

	// StartFunctions run after generation 0 is instantiated. nil runs
	// wazero's default ("_start"), an empty list runs nothing.
	StartFunctions []string `toml:"start_functions"`

	// Modules are loaded by the CLI at startup.
	Modules []string `toml:"modules"`

	// PollInterval is how often the CLI checks module files for changes.
	PollInterval time.Duration `toml:"poll_interval"`
}

// DefaultConfig returns the settings used when no config is given.
func DefaultConfig() Config {
	return Config{
		DefaultModuleName: image.DefaultModuleName,
		HistoryDepth:      minHistoryDepth,
		HotReload:         true,
		PollInterval:      defaultPollInterval,
	}
}

// LoadConfig reads a TOML config file. Keys absent from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		Logger().Warn("unknown config keys", zap.String("path", path), zap.Stringers("keys", undecoded))
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.DefaultModuleName == "" {
		c.DefaultModuleName = image.DefaultModuleName
	}
	if c.HistoryDepth < minHistoryDepth {
		c.HistoryDepth = minHistoryDepth
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Option configures a session at creation.
type Option func(*options)

type options struct {
	cfg Config
	log *zap.Logger
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMemoryLimitPages caps linear memory per module.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) { o.cfg.MemoryLimitPages = pages }
}

// WithHotReload enables or disables Reload.
func WithHotReload(enabled bool) Option {
	return func(o *options) { o.cfg.HotReload = enabled }
}

// WithStartFunctions sets the functions run after generation 0.
func WithStartFunctions(names ...string) Option {
	if names == nil {
		names = []string{}
	}
	return func(o *options) { o.cfg.StartFunctions = names }
}
