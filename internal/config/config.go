package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/engine"
	"github.com/novinai/novin-bridge/engine/luavm"
	"github.com/novinai/novin-bridge/engine/pyproc"
	"github.com/novinai/novin-bridge/engine/wasmvm"
)

// EnvPrefix prefixes every environment override.
// NOVIN_BRIDGE_LOG__LEVEL=debug overrides log.level.
const EnvPrefix = "NOVIN_BRIDGE_"

// Config is the bridge host configuration. None of it is passed to the
// embedded interpreter's environment.
type Config struct {
	Engine           string        `koanf:"engine"`
	Home             string        `koanf:"home"`
	Path             string        `koanf:"path"` // colon-separated
	ClientID         string        `koanf:"client_id"`
	BrandConfig      string        `koanf:"brand_config"`
	MaxSearchPaths   int           `koanf:"max_search_paths"`
	MaxResponseBytes int           `koanf:"max_response_bytes"`
	Log              LogConfig     `koanf:"log"`
	Metrics          MetricsConfig `koanf:"metrics"`
	Lua              LuaConfig     `koanf:"lua"`
	Wasm             WasmConfig    `koanf:"wasm"`
	Python           PythonConfig  `koanf:"python"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Output string `koanf:"output"` // "stderr", "stdout" or a file path
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Listen    string `koanf:"listen"` // e.g. ":9464"; empty disables the endpoint
}

// LuaConfig configures the lua engine.
type LuaConfig struct {
	CallStackSize int `koanf:"call_stack_size"`
	RegistrySize  int `koanf:"registry_size"`
}

// WasmConfig configures the wasm engine.
type WasmConfig struct {
	MemoryLimitPages uint32 `koanf:"memory_limit_pages"`
}

// PythonConfig configures the python engine.
type PythonConfig struct {
	Executable      string `koanf:"executable"`
	StartTimeout    string `koanf:"start_timeout"`    // parsed as time.Duration
	ShutdownTimeout string `koanf:"shutdown_timeout"` // parsed as time.Duration
}

var defaults = map[string]any{
	"engine":                  engine.Lua,
	"home":                    "",
	"path":                    "",
	"client_id":               novinbridge.DefaultClientID,
	"brand_config":            "",
	"max_search_paths":        256,
	"max_response_bytes":      0,
	"log.level":               "info",
	"log.format":              "console",
	"log.output":              "stderr",
	"metrics.enabled":         false,
	"metrics.namespace":       "novin_bridge",
	"metrics.listen":          "",
	"lua.call_stack_size":     0,
	"lua.registry_size":       0,
	"wasm.memory_limit_pages": 0,
	"python.executable":       "",
	"python.start_timeout":    "30s",
	"python.shutdown_timeout": "5s",
}

// Load layers defaults, the optional YAML file at configPath and
// NOVIN_BRIDGE_ environment variables, in that order.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	// 2. File
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values Load cannot type-check.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.MaxSearchPaths < 0 {
		return fmt.Errorf("max_search_paths must not be negative")
	}
	if c.MaxResponseBytes < 0 {
		return fmt.Errorf("max_response_bytes must not be negative")
	}
	if _, err := parseDuration("python.start_timeout", c.Python.StartTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("python.shutdown_timeout", c.Python.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

// EngineConfig converts the engine section into engine.Config.
func (c *Config) EngineConfig() engine.Config {
	start, _ := parseDuration("python.start_timeout", c.Python.StartTimeout)
	stop, _ := parseDuration("python.shutdown_timeout", c.Python.ShutdownTimeout)

	return engine.Config{
		Name: c.Engine,
		Lua: luavm.Config{
			CallStackSize: c.Lua.CallStackSize,
			RegistrySize:  c.Lua.RegistrySize,
		},
		Wasm: wasmvm.Config{
			MemoryLimitPages: c.Wasm.MemoryLimitPages,
		},
		Python: pyproc.Config{
			Executable:      c.Python.Executable,
			StartTimeout:    start,
			ShutdownTimeout: stop,
		},
	}
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
