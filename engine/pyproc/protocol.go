package pyproc

import (
	stderrors "errors"

	"github.com/novinai/novin-bridge/errors"
)

type request struct {
	ID        uint64         `json:"id"`
	Op        string         `json:"op"`
	Module    string         `json:"module,omitempty"`
	Class     string         `json:"class,omitempty"`
	Config    map[string]any `json:"config"`
	HasConfig bool           `json:"has_config,omitempty"`
	Handle    int64          `json:"handle,omitempty"`
	Method    string         `json:"method,omitempty"`
	Args      []string       `json:"args,omitempty"`
}

type reply struct {
	ID      *uint64 `json:"id"`
	Ready   bool    `json:"ready"`
	Version string  `json:"version"`
	OK      bool    `json:"ok"`
	Kind    string  `json:"kind"`
	Error   string  `json:"error"`
	Handle  int64   `json:"handle"`
	Result  *string `json:"result"`
}

// Failure kinds reported by the bootstrap.
const (
	failImport    = "import"
	failClass     = "class"
	failConstruct = "construct"
	failMethod    = "method"
	failCall      = "call"
	failEncoding  = "encoding"
	failStale     = "stale"
)

// asError maps a failed reply to a bridge error.
func (r *reply) asError(module, class, method string) error {
	cause := stderrors.New(r.Error)
	switch r.Kind {
	case failImport:
		return errors.ImportFailed(module, cause)
	case failClass:
		return errors.ClassMissing(module, class)
	case failConstruct:
		return errors.ConstructorFailed(module, class, cause)
	case failMethod:
		return errors.MethodMissing(method, cause)
	case failEncoding:
		return errors.EncodingFailed(r.Error)
	case failStale:
		return errors.NotInitialized(errors.PhaseCall)
	default:
		return errors.ProcessingFailed(method, cause)
	}
}
