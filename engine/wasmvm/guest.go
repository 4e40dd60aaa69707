package wasmvm

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero/api"

	"github.com/novinai/novin-bridge/errors"
)

var (
	sigMalloc = signature{params: []api.ValueType{api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}}
	sigFree   = signature{params: []api.ValueType{api.ValueTypeI32}}
	sigNew    = signature{params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}}
	sigDrop   = signature{params: []api.ValueType{api.ValueTypeI32}}
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

// methodSignature is (handle, (ptr, len) per argument, outPtr) -> i32.
func methodSignature(nargs int) signature {
	params := make([]api.ValueType, 2+2*nargs)
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	return signature{params: params, results: []api.ValueType{api.ValueTypeI32}}
}

func (s signature) matches(fn api.Function) bool {
	def := fn.Definition()
	return slices.Equal(def.ParamTypes(), s.params) && slices.Equal(def.ResultTypes(), s.results)
}

// export returns the named function if it has the expected signature.
func export(mod api.Module, name string, sig signature) (api.Function, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("missing export %q", name)
	}
	if !sig.matches(fn) {
		def := fn.Definition()
		return nil, fmt.Errorf("export %q has signature %v -> %v", name, def.ParamTypes(), def.ResultTypes())
	}
	return fn, nil
}

// guest wraps the allocator exports of an instantiated module.
type guest struct {
	mod    api.Module
	malloc api.Function
	free   api.Function
}

func newGuest(mod api.Module) (*guest, error) {
	if mod.Memory() == nil {
		return nil, fmt.Errorf("module exports no memory")
	}
	malloc, err := export(mod, "malloc", sigMalloc)
	if err != nil {
		return nil, err
	}
	free, err := export(mod, "free", sigFree)
	if err != nil {
		return nil, err
	}
	return &guest{mod: mod, malloc: malloc, free: free}, nil
}

// write copies data into freshly allocated guest memory. Empty data is
// passed as (0, 0) without allocating.
func (g *guest) write(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	ptr, err := g.alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !g.mod.Memory().Write(ptr, data) {
		g.release(ctx, ptr)
		return 0, errors.OutOfMemory(errors.PhaseMarshal, len(data))
	}
	return ptr, nil
}

func (g *guest) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := g.malloc.Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseMarshal, errors.KindOutOfMemory, err, "guest malloc trapped")
	}
	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		return 0, errors.OutOfMemory(errors.PhaseMarshal, int(size))
	}
	return ptr, nil
}

// release frees guest memory. Zero is a no-op.
func (g *guest) release(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	_, _ = g.free.Call(ctx, api.EncodeU32(ptr))
}

// read copies n bytes at ptr out of guest memory.
func (g *guest) read(ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	data, ok := g.mod.Memory().Read(ptr, n)
	if !ok {
		return nil, fmt.Errorf("result [%d, %d) out of guest memory bounds", ptr, uint64(ptr)+uint64(n))
	}
	return slices.Clone(data), nil
}

func (g *guest) readU32(ptr uint32) (uint32, error) {
	v, ok := g.mod.Memory().ReadUint32Le(ptr)
	if !ok {
		return 0, fmt.Errorf("pointer %d out of guest memory bounds", ptr)
	}
	return v, nil
}
