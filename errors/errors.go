package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLifecycle Phase = "lifecycle" // initialize/finalize
	PhaseEngine    Phase = "engine"    // interpreter startup and shutdown
	PhaseConstruct Phase = "construct" // collaborator import and construction
	PhaseCall      Phase = "call"      // collaborator method invocation
	PhaseMarshal   Phase = "marshal"   // string conversion across the boundary
	PhaseConfig    Phase = "config"    // bridge configuration
)

// Kind categorizes the error
type Kind string

const (
	KindNotInitialized   Kind = "not_initialized"
	KindBridgeInitFailed Kind = "bridge_init_failed"
	KindMethodMissing    Kind = "method_missing"
	KindProcessingFailed Kind = "processing_failed"
	KindEncodingFailed   Kind = "encoding_failed"
	KindOutOfMemory      Kind = "out_of_memory"
	KindInvalidInput     Kind = "invalid_input"
	KindEngineStart      Kind = "engine_start"
	KindEngineStop       Kind = "engine_stop"
	KindUnsupported      Kind = "unsupported"
)

// messages are the terse host-facing texts. They never include detail or
// collaborator diagnostics.
var messages = map[Kind]string{
	KindNotInitialized:   "runtime not initialized",
	KindBridgeInitFailed: "failed to initialize NovinAIBridge",
	KindMethodMissing:    "NovinAIBridge missing process_request",
	KindProcessingFailed: "request processing failed",
	KindEncodingFailed:   "failed to convert result to UTF-8",
	KindOutOfMemory:      "out of memory duplicating response",
	KindInvalidInput:     "invalid bridge configuration",
	KindEngineStart:      "failed to start embedded runtime",
	KindEngineStop:       "failed to stop embedded runtime",
	KindUnsupported:      "unsupported operation",
}

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Engine string
	Module string
	Method string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Engine != "" {
		b.WriteString(" engine=")
		b.WriteString(e.Engine)
	}

	if e.Module != "" || e.Method != "" {
		b.WriteString(" at ")
		b.WriteString(e.Module)
		if e.Method != "" {
			if e.Module != "" {
				b.WriteByte('.')
			}
			b.WriteString(e.Method)
		}
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target with an empty
// Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Engine sets the engine name
func (b *Builder) Engine(name string) *Builder {
	b.err.Engine = name
	return b
}

// Module sets the collaborator module name
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Method sets the collaborator method name
func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is checks that only care about the Kind.
var (
	ErrNotInitialized   = &Error{Kind: KindNotInitialized}
	ErrBridgeInitFailed = &Error{Kind: KindBridgeInitFailed}
	ErrMethodMissing    = &Error{Kind: KindMethodMissing}
	ErrProcessingFailed = &Error{Kind: KindProcessingFailed}
	ErrEncodingFailed   = &Error{Kind: KindEncodingFailed}
	ErrOutOfMemory      = &Error{Kind: KindOutOfMemory}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrEngineStart      = &Error{Kind: KindEngineStart}
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the terse text that may cross the host boundary.
// Errors outside this package collapse to the processing failure message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := messages[KindOf(err)]; ok {
		return msg
	}
	return messages[KindProcessingFailed]
}

// Convenience constructors for common error patterns

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: "bridge not initialized",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// EngineStart creates an engine startup error
func EngineStart(engine string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngineStart,
		Engine: engine,
		Detail: "start interpreter",
		Cause:  cause,
	}
}

// EngineStop creates an engine shutdown error
func EngineStop(engine string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngineStop,
		Engine: engine,
		Detail: "shutdown interpreter",
		Cause:  cause,
	}
}

// ImportFailed creates a construction error for a module that could not be loaded
func ImportFailed(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindBridgeInitFailed,
		Module: module,
		Detail: "import module",
		Cause:  cause,
	}
}

// ClassMissing creates a construction error for a missing class attribute
func ClassMissing(module, class string) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindBridgeInitFailed,
		Module: module,
		Detail: fmt.Sprintf("class %q not found", class),
	}
}

// ConstructorFailed creates a construction error for a raising constructor
func ConstructorFailed(module, class string, cause error) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindBridgeInitFailed,
		Module: module,
		Detail: fmt.Sprintf("construct %s", class),
		Cause:  cause,
	}
}

// MethodMissing creates a missing-method error
func MethodMissing(method string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindMethodMissing,
		Method: method,
		Detail: "method not found",
		Cause:  cause,
	}
}

// ProcessingFailed creates an error for a collaborator call that raised
func ProcessingFailed(method string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindProcessingFailed,
		Method: method,
		Detail: "collaborator raised",
		Cause:  cause,
	}
}

// EncodingFailed creates an error for a result that is not a UTF-8 string
func EncodingFailed(detail string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindEncodingFailed,
		Detail: detail,
	}
}

// OutOfMemory creates an allocation failure error
func OutOfMemory(phase Phase, size int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
