package wasmvm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	novinbridge "github.com/novinai/novin-bridge"
	"github.com/novinai/novin-bridge/bridge"
	"github.com/novinai/novin-bridge/errors"
)

func startEngine(t *testing.T, cfg *Config, start novinbridge.StartConfig) *Engine {
	t.Helper()
	e := New(cfg)
	if err := e.Start(context.Background(), start); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func registered(bin []byte) *Config {
	return &Config{Modules: map[string][]byte{novinbridge.ModuleName: bin}}
}

func mustConstruct(t *testing.T, e *Engine, config map[string]any) *object {
	t.Helper()
	obj, err := e.Construct(context.Background(), novinbridge.ModuleName, novinbridge.ClassName, config)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	return obj.(*object)
}

func TestEngine_Echo(t *testing.T) {
	e := startEngine(t, registered(echoGuest()), novinbridge.StartConfig{})
	obj := mustConstruct(t, e, nil)
	ctx := context.Background()

	for _, payload := range []string{`{"ok":true}`, "héllo 🚀", "سلام", ""} {
		got, err := obj.Call(ctx, novinbridge.MethodName, payload, "ios-client")
		if err != nil {
			t.Fatalf("Call(%q): %v", payload, err)
		}
		if got != payload {
			t.Errorf("Call(%q) = %q", payload, got)
		}
	}

	got, err := obj.Call(ctx, "client_id", "x", "android")
	if err != nil {
		t.Fatal(err)
	}
	if got != "android" {
		t.Errorf("client_id = %q", got)
	}

	if got, err := obj.Call(ctx, "handle", "", ""); err != nil || got != "" {
		t.Errorf("handle not passed through: %q, %v", got, err)
	}
}

func TestEngine_ConstructorConfig(t *testing.T) {
	e := startEngine(t, registered(echoGuest()), novinbridge.StartConfig{})
	obj := mustConstruct(t, e, map[string]any{"brand": "acme", "tier": json.Number("2")})

	got, err := obj.Call(context.Background(), "config", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"brand":"acme","tier":2}` {
		t.Errorf("config = %q", got)
	}
}

func TestEngine_ConstructorNoConfig(t *testing.T) {
	e := startEngine(t, registered(echoGuest()), novinbridge.StartConfig{})
	obj := mustConstruct(t, e, nil)

	got, err := obj.Call(context.Background(), "config", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("config = %q, want empty", got)
	}
}

func TestEngine_SearchPath(t *testing.T) {
	empty, withModule, home := t.TempDir(), t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(withModule, novinbridge.ModuleName+".wasm"), echoGuest(), 0o644); err != nil {
		t.Fatal(err)
	}
	e := startEngine(t, nil, novinbridge.StartConfig{
		SearchPath: []string{empty, "/does/not/exist", withModule},
		Home:       home,
	})
	obj := mustConstruct(t, e, nil)
	if got, err := obj.Call(context.Background(), novinbridge.MethodName, "x", ""); err != nil || got != "x" {
		t.Errorf("Call = %q, %v", got, err)
	}
}

func TestEngine_ConstructErrors(t *testing.T) {
	withFuncs := func(funcs ...testFunc) []byte {
		return testModule{funcs: funcs, globals: guestGlobals()}.encode()
	}

	tests := []struct {
		name string
		bin  []byte
	}{
		{"module not found", nil},
		{"not wasm", []byte("not a wasm module")},
		{"no memory", testModule{funcs: []testFunc{bumpMalloc, noopFree, storingNew}, globals: guestGlobals(), noMemory: true}.encode()},
		{"no malloc", withFuncs(noopFree, storingNew)},
		{"class missing", withFuncs(bumpMalloc, noopFree)},
		{"constructor fails", withFuncs(bumpMalloc, noopFree, failingNew)},
		{"constructor wrong signature", withFuncs(bumpMalloc, noopFree, testFunc{export: "NovinAIBridge.new", params: 1, results: 1, body: i32Const(1)})},
		{"constructor traps", withFuncs(bumpMalloc, noopFree, testFunc{export: "NovinAIBridge.new", params: 2, results: 1, body: []byte{opUnreachable}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			if tt.bin != nil {
				cfg = registered(tt.bin)
			}
			var diag bytes.Buffer
			e := startEngine(t, cfg, novinbridge.StartConfig{Diagnostics: &diag})

			_, err := e.Construct(context.Background(), novinbridge.ModuleName, novinbridge.ClassName, nil)
			if !stderrors.Is(err, errors.ErrBridgeInitFailed) {
				t.Fatalf("err = %v, want bridge_init_failed", err)
			}
		})
	}
}

func TestEngine_ConstructOutOfMemory(t *testing.T) {
	bin := testModule{funcs: []testFunc{nullMalloc, noopFree, storingNew}, globals: guestGlobals()}.encode()
	e := startEngine(t, registered(bin), novinbridge.StartConfig{})

	_, err := e.Construct(context.Background(), novinbridge.ModuleName, novinbridge.ClassName, map[string]any{"a": "b"})
	if !stderrors.Is(err, errors.ErrBridgeInitFailed) {
		t.Fatalf("err = %v", err)
	}
	if !stderrors.Is(err, errors.ErrOutOfMemory) {
		t.Errorf("expected out_of_memory in cause chain: %v", err)
	}
}

func TestEngine_CallErrors(t *testing.T) {
	var diag bytes.Buffer
	e := startEngine(t, registered(echoGuest()), novinbridge.StartConfig{Diagnostics: &diag})
	obj := mustConstruct(t, e, nil)
	ctx := context.Background()

	tests := []struct {
		method string
		kind   errors.Kind
	}{
		{"raise", errors.KindProcessingFailed},
		{"trap", errors.KindProcessingFailed},
		{"missing", errors.KindMethodMissing},
		{"short", errors.KindMethodMissing},
	}
	for _, tt := range tests {
		_, err := obj.Call(ctx, tt.method, "guest said no", "c")
		if got := errors.KindOf(err); got != tt.kind {
			t.Errorf("%s: kind = %q, want %q (%v)", tt.method, got, tt.kind, err)
		}
	}

	if !strings.Contains(diag.String(), "guest said no") {
		t.Errorf("diagnostics missing guest error: %q", diag.String())
	}
	if !strings.Contains(diag.String(), "unreachable") {
		t.Errorf("diagnostics missing trap: %q", diag.String())
	}

	// still usable after errors
	if got, err := obj.Call(ctx, novinbridge.MethodName, "again", ""); err != nil || got != "again" {
		t.Errorf("after errors: %q, %v", got, err)
	}
}

func TestEngine_CallOutOfMemory(t *testing.T) {
	e := startEngine(t, registered(echoGuest()), novinbridge.StartConfig{})
	obj := mustConstruct(t, e, nil)

	// swap the allocator for one that always fails
	bin := testModule{funcs: []testFunc{nullMalloc, noopFree, storingNew, echoMethod}, globals: guestGlobals()}.encode()
	e2 := startEngine(t, registered(bin), novinbridge.StartConfig{})
	obj2 := mustConstruct(t, e2, nil)

	if _, err := obj.Call(context.Background(), novinbridge.MethodName, "x", ""); err != nil {
		t.Fatalf("control: %v", err)
	}
	_, err := obj2.Call(context.Background(), novinbridge.MethodName, "x", "")
	if errors.KindOf(err) != errors.KindOutOfMemory {
		t.Errorf("err = %v, want out_of_memory", err)
	}
}

func TestEngine_ContextCanceled(t *testing.T) {
	e := startEngine(t, registered(echoGuest()), novinbridge.StartConfig{})
	obj := mustConstruct(t, e, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := obj.Call(ctx, novinbridge.MethodName, "x", "")
	if errors.KindOf(err) != errors.KindProcessingFailed {
		t.Errorf("err = %v", err)
	}
}

func TestEngine_DiagnosticImport(t *testing.T) {
	var diag bytes.Buffer
	e := startEngine(t, registered(diagGuest()), novinbridge.StartConfig{Diagnostics: &diag})
	obj := mustConstruct(t, e, nil)

	if _, err := obj.Call(context.Background(), novinbridge.MethodName, "to diagnostics", ""); err != nil {
		t.Fatal(err)
	}
	if diag.String() != "to diagnostics" {
		t.Errorf("diagnostics = %q", diag.String())
	}
}

func TestEngine_ReleaseAndRestart(t *testing.T) {
	e := New(registered(echoGuest()))
	ctx := context.Background()

	if err := e.Start(ctx, novinbridge.StartConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx, novinbridge.StartConfig{}); errors.KindOf(err) != errors.KindEngineStart {
		t.Errorf("double Start: %v", err)
	}

	obj := mustConstruct(t, e, nil)
	mod := obj.guest.mod
	if err := obj.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := obj.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mod.ExportedGlobal("drops").Get(); got != 1 {
		t.Errorf("drops = %d, want 1", got)
	}
	if _, err := obj.Call(ctx, novinbridge.MethodName, "x", ""); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Call after Release: %v", err)
	}

	// the module is loaded once per runtime
	mustConstruct(t, e, nil)
	if got := mod.ExportedGlobal("handles").Get(); got != 2 {
		t.Errorf("handles = %d, want 2 from one instance", got)
	}

	stale := mustConstruct(t, e, nil)
	if err := e.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Construct(ctx, novinbridge.ModuleName, novinbridge.ClassName, nil); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Construct after Shutdown: %v", err)
	}

	if err := e.Start(ctx, novinbridge.StartConfig{}); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown(ctx)
	if _, err := stale.Call(ctx, novinbridge.MethodName, "x", ""); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("stale object: %v", err)
	}
	fresh := mustConstruct(t, e, nil)
	if got := fresh.guest.mod.ExportedGlobal("handles").Get(); got != 1 {
		t.Errorf("handles after restart = %d, want 1", got)
	}
}

func TestBridge_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, novinbridge.ModuleName+".wasm"), echoGuest(), 0o644); err != nil {
		t.Fatal(err)
	}

	b := bridge.New(New(&Config{MemoryLimitPages: 16}), bridge.WithDiagnostics(&bytes.Buffer{}))
	ctx := context.Background()
	if err := b.Initialize(ctx, "", dir); err != nil {
		t.Fatal(err)
	}
	defer b.Finalize(ctx)

	resp, err := b.ProcessRequest(ctx, bridge.Request{Payload: `{"ok":true}`, BrandConfig: `{"brand":"x"}`})
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	defer resp.Release()
	if resp.String() != `{"ok":true}` {
		t.Errorf("got %q", resp.String())
	}
}
