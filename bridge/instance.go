package bridge

import (
	"context"

	novinbridge "github.com/novinai/novin-bridge"
)

type instanceState uint8

const (
	instanceUnbuilt instanceState = iota
	instanceBuilt
	instanceFailed
)

func (s instanceState) String() string {
	switch s {
	case instanceUnbuilt:
		return "unbuilt"
	case instanceBuilt:
		return "built"
	case instanceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// instanceSlot holds the lazily constructed collaborator. A failed build is
// remembered for diagnostics only; the next call retries. Guarded by the
// bridge lock.
type instanceSlot struct {
	state    instanceState
	obj      novinbridge.Object
	failures int
	lastErr  error
}

func (s *instanceSlot) built() bool {
	return s.state == instanceBuilt
}

func (s *instanceSlot) set(obj novinbridge.Object) {
	s.state = instanceBuilt
	s.obj = obj
	s.lastErr = nil
}

func (s *instanceSlot) fail(err error) {
	s.state = instanceFailed
	s.obj = nil
	s.failures++
	s.lastErr = err
}

// release drops the object and resets the slot to unbuilt.
func (s *instanceSlot) release(ctx context.Context) error {
	obj := s.obj
	*s = instanceSlot{}
	if obj == nil {
		return nil
	}
	return obj.Release(ctx)
}
