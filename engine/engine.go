// Package engine selects an embedded interpreter by name.
//
// The built-in engines are registered at init:
//
//	lua     gopher-lua state (engine/luavm)
//	wasm    wazero core module runtime (engine/wasmvm)
//	python  CPython child process (engine/pyproc)
//
// Additional engines can be added with Register.
package engine

import (
	"fmt"
	"sort"
	"sync"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/engine/luavm"
	"github.com/novinai/novin-bridge/engine/pyproc"
	"github.com/novinai/novin-bridge/engine/wasmvm"
	"github.com/novinai/novin-bridge/errors"
)

// Engine names.
const (
	Lua    = luavm.Name
	Wasm   = wasmvm.Name
	Python = pyproc.Name
)

// Config selects and configures an engine. Only the sub-config matching
// Name is used.
type Config struct {
	Name   string
	Lua    luavm.Config
	Wasm   wasmvm.Config
	Python pyproc.Config
}

// Constructor builds an interpreter from cfg.
type Constructor func(cfg Config) novinbridge.Interpreter

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		Lua:    func(cfg Config) novinbridge.Interpreter { return luavm.New(&cfg.Lua) },
		Wasm:   func(cfg Config) novinbridge.Interpreter { return wasmvm.New(&cfg.Wasm) },
		Python: func(cfg Config) novinbridge.Interpreter { return pyproc.New(&cfg.Python) },
	}
)

// Register adds or replaces an engine constructor.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New creates the interpreter named by cfg.Name.
func New(cfg Config) (novinbridge.Interpreter, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok || ctor == nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindUnsupported).
			Engine(cfg.Name).
			Detail("unknown engine %q, have %v", cfg.Name, Names()).
			Build()
	}
	return ctor(cfg), nil
}

// Names lists the registered engines in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustNew is like New but panics on an unknown engine.
func MustNew(cfg Config) novinbridge.Interpreter {
	interp, err := New(cfg)
	if err != nil {
		panic(fmt.Sprintf("engine: %v", err))
	}
	return interp
}
