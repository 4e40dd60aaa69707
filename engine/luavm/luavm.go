package luavm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/errors"
)

// Name identifies this engine.
const Name = "lua"

// Config holds configuration for the Lua engine.
type Config struct {
	// CallStackSize bounds Lua call depth. 0 means the gopher-lua default.
	CallStackSize int

	// RegistrySize sets the initial registry size. 0 means the default.
	RegistrySize int

	// Preload maps module names to Lua source. Preloaded modules take
	// precedence over files on the search path.
	Preload map[string]string
}

// Engine implements novinbridge.Interpreter on gopher-lua.
// It is not safe for concurrent use.
type Engine struct {
	cfg Config

	state *lua.LState
	gen   uint64 // bumped on every Start; objects from older states are stale
	diag  io.Writer
	log   *zap.Logger
}

var _ novinbridge.Interpreter = (*Engine)(nil)

// New creates a Lua engine. cfg may be nil.
func New(cfg *Config) *Engine {
	e := &Engine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	return e
}

// Name implements novinbridge.Interpreter.
func (e *Engine) Name() string { return Name }

var stdlibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// Start creates a fresh Lua state.
func (e *Engine) Start(ctx context.Context, cfg novinbridge.StartConfig) error {
	if e.state != nil {
		return errors.New(errors.PhaseEngine, errors.KindEngineStart).
			Engine(Name).
			Detail("already started").
			Build()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: e.cfg.CallStackSize,
		RegistrySize:  e.cfg.RegistrySize,
	})

	for _, lib := range stdlibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return errors.EngineStart(Name, fmt.Errorf("open %s: %w", lib.name, err))
		}
	}

	diag := cfg.Diagnostics
	if diag == nil {
		diag = io.Discard
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		L.Close()
		return errors.EngineStart(Name, stderrors.New("package library missing"))
	}
	L.SetField(pkg, "path", lua.LString(searchPattern(cfg.SearchPath, cfg.Home)))
	L.SetField(pkg, "cpath", lua.LString(""))

	for name, src := range e.cfg.Preload {
		L.PreloadModule(name, sourceLoader(name, src))
	}

	L.SetGlobal("print", L.NewFunction(printTo(diag)))

	e.state = L
	e.gen++
	e.diag = diag
	e.log = log

	log.Debug("lua state started",
		zap.String("package_path", lua.LVAsString(L.GetField(pkg, "path"))),
		zap.Int("preloaded", len(e.cfg.Preload)))
	return nil
}

// Construct requires module, looks up class in the returned table and calls
// class.new(config). A class that is itself a function is called directly.
func (e *Engine) Construct(ctx context.Context, module, class string, config map[string]any) (novinbridge.Object, error) {
	L := e.state
	if L == nil {
		return nil, errors.NotInitialized(errors.PhaseConstruct)
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	mod, err := e.call(L, L.GetGlobal("require"), lua.LString(module))
	if err != nil {
		return nil, errors.ImportFailed(module, err)
	}

	modTable, ok := mod.(*lua.LTable)
	if !ok {
		return nil, errors.New(errors.PhaseConstruct, errors.KindBridgeInitFailed).
			Engine(Name).
			Module(module).
			Detail("module returned %s, want table", mod.Type()).
			Build()
	}

	ctor, self := e.resolveConstructor(L, modTable.RawGetString(class))
	if ctor == nil {
		return nil, errors.ClassMissing(module, class)
	}

	args := make([]lua.LValue, 0, 2)
	if self != nil {
		args = append(args, self)
	}
	if config != nil {
		args = append(args, toLua(L, config))
	}

	inst, err := e.call(L, ctor, args...)
	if err != nil {
		return nil, errors.ConstructorFailed(module, class, err)
	}

	obj, ok := inst.(*lua.LTable)
	if !ok {
		return nil, errors.New(errors.PhaseConstruct, errors.KindBridgeInitFailed).
			Engine(Name).
			Module(module).
			Detail("%s constructor returned %s, want table", class, inst.Type()).
			Build()
	}

	return &object{engine: e, gen: e.gen, table: obj}, nil
}

// resolveConstructor returns the function that builds an instance and,
// for class tables whose new is declared with a colon, the implicit self.
func (e *Engine) resolveConstructor(L *lua.LState, cls lua.LValue) (*lua.LFunction, lua.LValue) {
	switch c := cls.(type) {
	case *lua.LFunction:
		return c, nil
	case *lua.LTable:
		fn, ok := L.GetField(c, "new").(*lua.LFunction)
		if !ok {
			return nil, nil
		}
		if p := fn.Proto; p != nil && p.NumParameters > 0 && len(p.DbgLocals) > 0 && p.DbgLocals[0].Name == "self" {
			return fn, c
		}
		return fn, nil
	default:
		return nil, nil
	}
}

// Shutdown closes the Lua state. Objects created before become stale.
func (e *Engine) Shutdown(context.Context) error {
	if e.state == nil {
		return nil
	}
	e.state.Close()
	e.state = nil
	e.log.Debug("lua state closed")
	return nil
}

// call runs fn in protected mode and returns its first result. Lua errors
// and their stack traces are written to diagnostics.
func (e *Engine) call(L *lua.LState, fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	if fn.Type() != lua.LTFunction {
		return lua.LNil, fmt.Errorf("attempt to call a %s value", fn.Type())
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		e.report(err)
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

func (e *Engine) report(err error) {
	var apiErr *lua.ApiError
	if stderrors.As(err, &apiErr) {
		fmt.Fprintf(e.diag, "lua: %s\n", strings.TrimRight(apiErr.Error(), "\n"))
		return
	}
	fmt.Fprintf(e.diag, "lua: %v\n", err)
}

type object struct {
	engine *Engine
	gen    uint64
	table  *lua.LTable
}

func (o *object) live() bool {
	return o.table != nil && o.engine.state != nil && o.engine.gen == o.gen
}

// Call invokes table:method(args...).
func (o *object) Call(ctx context.Context, method string, args ...string) (string, error) {
	if !o.live() {
		return "", errors.NotInitialized(errors.PhaseCall)
	}
	L := o.engine.state

	fn, ok := L.GetField(o.table, method).(*lua.LFunction)
	if !ok {
		return "", errors.MethodMissing(method, nil)
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	params := make([]lua.LValue, 0, len(args)+1)
	params = append(params, o.table)
	for _, a := range args {
		params = append(params, lua.LString(a))
	}

	ret, err := o.engine.call(L, fn, params...)
	if err != nil {
		return "", errors.ProcessingFailed(method, err)
	}

	s, ok := ret.(lua.LString)
	if !ok {
		return "", errors.EncodingFailed(fmt.Sprintf("%s returned %s, want string", method, ret.Type()))
	}
	return string(s), nil
}

// Release drops the reference; the Lua GC reclaims the table.
func (o *object) Release(context.Context) error {
	o.table = nil
	return nil
}

func searchPattern(searchPath []string, home string) string {
	dirs := append([]string(nil), searchPath...)
	if home != "" {
		dirs = append(dirs, home)
	}

	patterns := make([]string, 0, len(dirs)*2)
	for _, dir := range dirs {
		patterns = append(patterns,
			filepath.Join(dir, "?.lua"),
			filepath.Join(dir, "?", "init.lua"))
	}
	return strings.Join(patterns, ";")
}

func sourceLoader(name, src string) lua.LGFunction {
	return func(L *lua.LState) int {
		fn, err := L.LoadString(src)
		if err != nil {
			L.RaiseError("preload %s: %s", name, err.Error())
			return 0
		}
		L.Push(fn)
		L.Call(0, 1)
		return 1
	}
}

func printTo(w io.Writer) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprintln(w, strings.Join(parts, "\t"))
		return 0
	}
}
