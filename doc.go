// Package novinbridge embeds a scripting runtime in a host process and forwards
// opaque JSON requests to a single collaborator object living inside it.
//
// The collaborator is the class NovinAIBridge in the module novin_ai_bridge.
// It is constructed lazily, once, with an optional brand configuration, and
// exposes process_request(requestJson, clientId) -> string. Everything the
// collaborator does with the payload is opaque to the bridge.
//
// # Architecture Overview
//
//	novinbridge/         Root package with the Interpreter and Object interfaces
//	├── bridge/          Bridge lifecycle, global lock, lazy instance, owned buffers
//	├── engine/          Engine selection by name
//	│   ├── luavm/       gopher-lua interpreter
//	│   ├── wasmvm/      wazero interpreter for WASI reactor modules
//	│   └── pyproc/      CPython in a supervised subprocess
//	├── errors/          Structured error kinds and boundary messages
//	├── internal/
//	│   ├── config/      koanf configuration (defaults, YAML file, env)
//	│   └── logging/     zap logger construction
//	├── cmd/
//	│   ├── novinbridge/     CLI with an interactive mode
//	│   └── libnovinbridge/  C shared library exports
//	└── examples/        Runnable usage examples
//
// # Quick Start
//
//	interp, err := engine.New(engine.Config{Name: engine.Lua})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b := bridge.New(interp)
//	if err := b.Initialize(ctx, "", "/opt/app/lua"); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Finalize(ctx)
//
//	resp, err := b.ProcessRequest(ctx, bridge.Request{Payload: `{"events":[]}`})
//	if err != nil {
//	    log.Println(errors.Message(err))
//	    return
//	}
//	defer resp.Release()
//	fmt.Println(resp.String())
//
// # Thread Safety
//
// Interpreters are NOT thread-safe. The Bridge serializes every interaction
// with its interpreter behind one lock, so ProcessRequest may be called from
// any number of goroutines; calls still run one at a time. Initialize and
// Finalize are expected to be serialized by the caller.
//
// # Hermetic Runtimes
//
// No engine inherits the host process environment. The interpreter home and
// module search path are passed explicitly through StartConfig.
package novinbridge
