package wasmvm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/errors"
)

// Name identifies this engine.
const Name = "wasm"

// Config holds configuration for the wasm engine.
type Config struct {
	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// Modules maps module names to wasm binaries. Registered modules take
	// precedence over files on the search path.
	Modules map[string][]byte
}

// Engine implements novinbridge.Interpreter on wazero.
// It is not safe for concurrent use.
type Engine struct {
	cfg Config

	runtime wazero.Runtime
	gen     uint64
	start   novinbridge.StartConfig
	diag    io.Writer
	log     *zap.Logger
	loaded  map[string]*guest
}

var _ novinbridge.Interpreter = (*Engine)(nil)

// New creates a wasm engine. cfg may be nil.
func New(cfg *Config) *Engine {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	return e
}

// Name implements novinbridge.Interpreter.
func (e *Engine) Name() string { return Name }

// Start creates a fresh wazero runtime with WASI and the host module.
func (e *Engine) Start(ctx context.Context, cfg novinbridge.StartConfig) error {
	if e.runtime != nil {
		return errors.New(errors.PhaseEngine, errors.KindEngineStart).
			Engine(Name).
			Detail("already started").
			Build()
	}

	diag := cfg.Diagnostics
	if diag == nil {
		diag = io.Discard
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if e.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := instantiateWASI(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return errors.EngineStart(Name, fmt.Errorf("instantiate WASI: %w", err))
	}
	if _, err := instantiateHost(ctx, rt, diag); err != nil {
		_ = rt.Close(ctx)
		return errors.EngineStart(Name, fmt.Errorf("instantiate host module: %w", err))
	}

	e.runtime = rt
	e.gen++
	e.start = cfg
	e.diag = diag
	e.log = log
	e.loaded = make(map[string]*guest)

	log.Debug("wasm runtime started", zap.Uint32("memory_limit_pages", e.cfg.MemoryLimitPages))
	return nil
}

// Construct loads module (once per runtime) and calls <class>.new with the
// JSON encoded config.
func (e *Engine) Construct(ctx context.Context, module, class string, config map[string]any) (novinbridge.Object, error) {
	if e.runtime == nil {
		return nil, errors.NotInitialized(errors.PhaseConstruct)
	}

	g, err := e.load(ctx, module)
	if err != nil {
		return nil, errors.ImportFailed(module, err)
	}

	ctor := g.mod.ExportedFunction(class + ".new")
	if ctor == nil {
		return nil, errors.ClassMissing(module, class)
	}
	if !sigNew.matches(ctor) {
		return nil, errors.New(errors.PhaseConstruct, errors.KindBridgeInitFailed).
			Engine(Name).
			Module(module).
			Detail("%s.new has wrong signature", class).
			Build()
	}

	var raw []byte
	if config != nil {
		if raw, err = json.Marshal(config); err != nil {
			return nil, errors.ConstructorFailed(module, class, err)
		}
	}

	ptr, err := g.write(ctx, raw)
	if err != nil {
		return nil, errors.ConstructorFailed(module, class, err)
	}
	defer g.release(ctx, ptr)

	results, err := ctor.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(uint32(len(raw))))
	if err != nil {
		e.report(err)
		return nil, errors.ConstructorFailed(module, class, err)
	}
	handle := api.DecodeU32(results[0])
	if handle == 0 {
		return nil, errors.ConstructorFailed(module, class, stderrors.New("constructor returned null handle"))
	}

	return &object{
		engine: e,
		gen:    e.gen,
		guest:  g,
		class:  class,
		handle: handle,
	}, nil
}

// Shutdown closes the runtime and every module instantiated in it.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	e.loaded = nil
	e.log.Debug("wasm runtime closed")
	return err
}

func (e *Engine) load(ctx context.Context, module string) (*guest, error) {
	if g, ok := e.loaded[module]; ok {
		return g, nil
	}

	bin, source, err := e.find(module)
	if err != nil {
		return nil, err
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", source, err)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, e.moduleConfig(module))
	if err != nil {
		e.report(err)
		return nil, fmt.Errorf("instantiate %s: %w", source, err)
	}

	g, err := newGuest(mod)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	e.loaded[module] = g
	e.log.Debug("wasm module loaded", zap.String("module", module), zap.String("source", source))
	return g, nil
}

// find returns the module binary and where it came from.
func (e *Engine) find(module string) ([]byte, string, error) {
	if bin, ok := e.cfg.Modules[module]; ok {
		return bin, "registered:" + module, nil
	}

	name := module + ".wasm"
	for _, dir := range e.searchDirs() {
		p := filepath.Join(dir, name)
		bin, err := os.ReadFile(p)
		if err == nil {
			return bin, p, nil
		}
		if !stderrors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("module %s not found", name)
}

func (e *Engine) searchDirs() []string {
	dirs := append([]string(nil), e.start.SearchPath...)
	if e.start.Home != "" {
		dirs = append(dirs, e.start.Home)
	}
	return dirs
}

// moduleConfig builds a hermetic module config: no inherited environment,
// read-only mounts of home and the search path only.
func (e *Engine) moduleConfig(module string) wazero.ModuleConfig {
	fsCfg := wazero.NewFSConfig()
	if isDir(e.start.Home) {
		fsCfg = fsCfg.WithReadOnlyDirMount(e.start.Home, "/home")
	}
	for i, dir := range e.start.SearchPath {
		if isDir(dir) {
			fsCfg = fsCfg.WithReadOnlyDirMount(dir, "/path/"+strconv.Itoa(i))
		}
	}

	return wazero.NewModuleConfig().
		WithName(module).
		WithArgs(module).
		WithEnv("NOVIN_HOME", e.start.Home).
		WithEnv("NOVIN_PATH", strings.Join(e.start.SearchPath, ":")).
		WithFSConfig(fsCfg).
		WithStdout(e.diag).
		WithStderr(e.diag).
		WithStartFunctions("_initialize")
}

func (e *Engine) report(err error) {
	fmt.Fprintf(e.diag, "wasm: %s\n", strings.TrimRight(err.Error(), "\n"))
}

func isDir(p string) bool {
	if p == "" {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

type object struct {
	engine *Engine
	gen    uint64
	guest  *guest
	class  string
	handle uint32
}

func (o *object) live() bool {
	return o.handle != 0 && o.engine.runtime != nil && o.engine.gen == o.gen
}

// Call invokes <class>.<method>(handle, args..., outPtr).
func (o *object) Call(ctx context.Context, method string, args ...string) (string, error) {
	if !o.live() {
		return "", errors.NotInitialized(errors.PhaseCall)
	}
	if err := ctx.Err(); err != nil {
		return "", errors.ProcessingFailed(method, err)
	}

	g := o.guest
	fn, err := export(g.mod, o.class+"."+method, methodSignature(len(args)))
	if err != nil {
		return "", errors.MethodMissing(method, err)
	}

	params := make([]uint64, 0, 2+2*len(args))
	params = append(params, api.EncodeU32(o.handle))
	for _, a := range args {
		ptr, err := g.write(ctx, []byte(a))
		if err != nil {
			return "", err
		}
		defer g.release(ctx, ptr)
		params = append(params, api.EncodeU32(ptr), api.EncodeU32(uint32(len(a))))
	}

	outPtr, err := g.alloc(ctx, 4)
	if err != nil {
		return "", err
	}
	defer g.release(ctx, outPtr)
	if !g.mod.Memory().WriteUint32Le(outPtr, 0) {
		return "", errors.OutOfMemory(errors.PhaseMarshal, 4)
	}
	params = append(params, api.EncodeU32(outPtr))

	results, err := fn.Call(ctx, params...)
	if err != nil {
		o.engine.report(err)
		return "", errors.ProcessingFailed(method, err)
	}

	n := api.DecodeI32(results[0])
	resPtr, err := g.readU32(outPtr)
	if err != nil {
		return "", errors.ProcessingFailed(method, err)
	}
	defer g.release(ctx, resPtr)

	if n < 0 {
		msg, err := g.read(resPtr, uint32(-int64(n)))
		if err != nil {
			return "", errors.ProcessingFailed(method, err)
		}
		fmt.Fprintf(o.engine.diag, "wasm: %s.%s: %s\n", o.class, method, msg)
		return "", errors.ProcessingFailed(method, stderrors.New(string(msg)))
	}

	out, err := g.read(resPtr, uint32(n))
	if err != nil {
		return "", errors.ProcessingFailed(method, err)
	}
	return string(out), nil
}

// Release calls <class>.drop when the guest exports it.
func (o *object) Release(ctx context.Context) error {
	if !o.live() {
		o.handle = 0
		return nil
	}
	handle := o.handle
	o.handle = 0

	drop := o.guest.mod.ExportedFunction(o.class + ".drop")
	if drop == nil || !sigDrop.matches(drop) {
		return nil
	}
	if _, err := drop.Call(ctx, api.EncodeU32(handle)); err != nil {
		o.engine.report(err)
		return err
	}
	return nil
}
