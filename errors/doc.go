// Package errors provides structured error types for the novin bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Kind is what crosses the host boundary: every Kind maps to a
// short, stable message returned by Message, while Error keeps the detail and
// cause chain for logs.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConstruct, errors.KindBridgeInitFailed).
//		Module("novin_ai_bridge").
//		Detail("class %q not found", "NovinAIBridge").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotInitialized(errors.PhaseCall)
//	err := errors.MethodMissing("process_request", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
