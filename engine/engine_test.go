package engine

import (
	"context"
	"testing"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/errors"
)

func TestNew(t *testing.T) {
	for _, name := range []string{Lua, Wasm, Python} {
		interp, err := New(Config{Name: name})
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if interp.Name() != name {
			t.Errorf("Name() = %q, want %q", interp.Name(), name)
		}
	}
}

func TestNew_Unsupported(t *testing.T) {
	interp, err := New(Config{Name: "ruby"})
	if interp != nil {
		t.Error("expected nil interpreter")
	}
	if errors.KindOf(err) != errors.KindUnsupported {
		t.Fatalf("err = %v, want unsupported", err)
	}
}

type nullInterp struct{}

func (nullInterp) Name() string { return "null" }

func (nullInterp) Start(context.Context, novinbridge.StartConfig) error { return nil }

func (nullInterp) Construct(context.Context, string, string, map[string]any) (novinbridge.Object, error) {
	return nil, nil
}

func (nullInterp) Shutdown(context.Context) error { return nil }

func TestRegister(t *testing.T) {
	Register("null", func(Config) novinbridge.Interpreter { return nullInterp{} })
	defer func() {
		registryMu.Lock()
		delete(registry, "null")
		registryMu.Unlock()
	}()

	interp, err := New(Config{Name: "null"})
	if err != nil {
		t.Fatal(err)
	}
	if interp.Name() != "null" {
		t.Errorf("Name() = %q", interp.Name())
	}

	found := false
	for _, n := range Names() {
		found = found || n == "null"
	}
	if !found {
		t.Errorf("Names() = %v", Names())
	}
}

func TestNew_PassesSubConfig(t *testing.T) {
	cfg := Config{Name: Lua}
	cfg.Lua.Preload = map[string]string{novinbridge.ModuleName: `return {NovinAIBridge = {new = function() return {process_request = function(self, r) return "lua:" .. r end} end}}`}

	interp := MustNew(cfg)
	ctx := context.Background()
	if err := interp.Start(ctx, novinbridge.StartConfig{}); err != nil {
		t.Fatal(err)
	}
	defer interp.Shutdown(ctx)

	obj, err := interp.Construct(ctx, novinbridge.ModuleName, novinbridge.ClassName, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := obj.Call(ctx, novinbridge.MethodName, "x", "c")
	if err != nil || got != "lua:x" {
		t.Errorf("Call = %q, %v", got, err)
	}
}
