package novinbridge

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// Collaborator contract.
const (
	ModuleName      = "novin_ai_bridge"
	ClassName       = "NovinAIBridge"
	MethodName      = "process_request"
	DefaultClientID = "ios-client"
)

// StartConfig is what an Interpreter receives on Start. It is already
// decoded and validated by the bridge.
type StartConfig struct {
	// Home is the interpreter home directory. Empty means the engine default.
	Home string

	// SearchPath lists module directories in lookup order.
	SearchPath []string

	// Diagnostics receives collaborator output and stack traces.
	// Never nil when passed by the bridge.
	Diagnostics io.Writer

	Logger *zap.Logger
}

// Interpreter is an embedded scripting runtime.
// Implementations are not safe for concurrent use.
type Interpreter interface {
	// Name identifies the engine in logs and errors.
	Name() string

	// Start boots the runtime. Calling Start again after Shutdown
	// must yield a fresh runtime.
	Start(ctx context.Context, cfg StartConfig) error

	// Construct imports module, resolves class and instantiates it. A nil
	// config calls the no-argument constructor.
	Construct(ctx context.Context, module, class string, config map[string]any) (Object, error)

	// Shutdown tears the runtime down. Objects become invalid.
	Shutdown(ctx context.Context) error
}

// Object is a constructed collaborator instance.
type Object interface {
	// Call invokes method with string arguments and returns its string result.
	Call(ctx context.Context, method string, args ...string) (string, error)

	// Release drops the engine-side reference.
	Release(ctx context.Context) error
}
