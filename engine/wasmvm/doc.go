// Package wasmvm hosts the collaborator as a core WebAssembly module
// running on wazero.
//
// # Module Lookup
//
// Construct looks for <module>.wasm in each search path entry, then in
// home. Modules registered in Config.Modules take precedence.
//
// # Guest ABI
//
// Strings cross the boundary as (ptr, len) pairs in guest memory. The
// guest exports:
//
//	memory                                        linear memory
//	malloc(size i32) -> i32                       0 means allocation failure
//	free(ptr i32)
//	<Class>.new(cfgPtr, cfgLen i32) -> i32        instance handle, 0 on failure
//	<Class>.<method>(handle, reqPtr, reqLen,
//	                 cidPtr, cidLen, outPtr i32) -> i32
//	<Class>.drop(handle i32)                      optional
//
// A method writes the address of its result to outPtr and returns the
// result length. A negative return is the negated length of an error
// message. The host frees the result with free. cfgLen is 0 when the
// constructor receives no config; otherwise the config is a JSON object.
//
// # Isolation
//
// Each Start creates a new wazero runtime. The guest sees no host
// environment variables except NOVIN_HOME and NOVIN_PATH. Home is mounted
// read-only at /home and search path entries at /path/0, /path/1 and so on.
// Guest stdout and stderr go to the diagnostics writer, as does the
// novin.diagnostic(ptr, len) host import.
package wasmvm
