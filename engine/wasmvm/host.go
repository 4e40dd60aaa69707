package wasmvm

import (
	"context"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const hostModuleName = "novin"

// instantiateWASI instantiates WASI preview1 for guests built with a
// WASI toolchain.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

// instantiateHost instantiates the novin host module. diagnostic(ptr, len)
// copies guest bytes to w.
func instantiateHost(ctx context.Context, r wazero.Runtime, w io.Writer) (api.Module, error) {
	return r.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			ptr := api.DecodeU32(stack[0])
			n := api.DecodeU32(stack[1])
			if data, ok := mod.Memory().Read(ptr, n); ok {
				_, _ = w.Write(data)
			}
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("diagnostic").
		Instantiate(ctx)
}
