package wasmvm

// A minimal core wasm encoder for test guests. Every value is i32.

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI32Add      = 0x6a
	opI32Sub      = 0x6b

	valI32 = 0x7f
)

type testFunc struct {
	export  string
	params  int
	results int
	body    []byte // without the trailing end
}

type testImport struct {
	module, name string
	params       int
}

type testModule struct {
	imports []testImport
	funcs   []testFunc
	globals []int32 // mutable i32 globals with initial values
	// globalExports maps export names to global indexes.
	globalExports map[string]uint32
	noMemory      bool
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func vec(items [][]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func funcType(params, results int) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(params))...)
	for i := 0; i < params; i++ {
		out = append(out, valI32)
	}
	out = append(out, uleb(uint32(results))...)
	for i := 0; i < results; i++ {
		out = append(out, valI32)
	}
	return out
}

func (m testModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types [][]byte
	for _, imp := range m.imports {
		types = append(types, funcType(imp.params, 0))
	}
	for _, f := range m.funcs {
		types = append(types, funcType(f.params, f.results))
	}
	out = append(out, section(1, vec(types))...)

	if len(m.imports) > 0 {
		var imps [][]byte
		for i, imp := range m.imports {
			entry := append(name(imp.module), name(imp.name)...)
			entry = append(entry, 0x00)
			entry = append(entry, uleb(uint32(i))...)
			imps = append(imps, entry)
		}
		out = append(out, section(2, vec(imps))...)
	}

	var funcIdx [][]byte
	for i := range m.funcs {
		funcIdx = append(funcIdx, uleb(uint32(len(m.imports)+i)))
	}
	out = append(out, section(3, vec(funcIdx))...)

	if !m.noMemory {
		out = append(out, section(5, vec([][]byte{{0x00, 0x01}}))...)
	}

	if len(m.globals) > 0 {
		var globals [][]byte
		for _, g := range m.globals {
			entry := []byte{valI32, 0x01, opI32Const}
			entry = append(entry, sleb(g)...)
			entry = append(entry, opEnd)
			globals = append(globals, entry)
		}
		out = append(out, section(6, vec(globals))...)
	}

	var exports [][]byte
	if !m.noMemory {
		exports = append(exports, append(name("memory"), 0x02, 0x00))
	}
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		entry := append(name(f.export), 0x00)
		exports = append(exports, append(entry, uleb(uint32(len(m.imports)+i))...))
	}
	for exp, idx := range m.globalExports {
		entry := append(name(exp), 0x03)
		exports = append(exports, append(entry, uleb(idx)...))
	}
	out = append(out, section(7, vec(exports))...)

	var codes [][]byte
	for _, f := range m.funcs {
		body := []byte{0x00} // no locals
		body = append(body, f.body...)
		body = append(body, opEnd)
		codes = append(codes, append(uleb(uint32(len(body))), body...))
	}
	out = append(out, section(10, vec(codes))...)

	return out
}

func ins(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func i32Const(v int32) []byte   { return append([]byte{opI32Const}, sleb(v)...) }
func localGet(i uint32) []byte  { return append([]byte{opLocalGet}, uleb(i)...) }
func globalGet(i uint32) []byte { return append([]byte{opGlobalGet}, uleb(i)...) }
func globalSet(i uint32) []byte { return append([]byte{opGlobalSet}, uleb(i)...) }
func call(i uint32) []byte      { return append([]byte{opCall}, uleb(i)...) }
func i32Store() []byte          { return []byte{opI32Store, 0x02, 0x00} }

// Globals used by the test guests.
const (
	gHeap    = 0 // bump allocator cursor
	gCfgPtr  = 1
	gCfgLen  = 2
	gDrops   = 3
	gHandles = 4
)

// Locals of a process_request style method.
const (
	lHandle = 0
	lReqPtr = 1
	lReqLen = 2
	lCidPtr = 3
	lCidLen = 4
	lOutPtr = 5
)

var (
	bumpMalloc = testFunc{export: "malloc", params: 1, results: 1, body: ins(
		globalGet(gHeap),
		globalGet(gHeap), localGet(0), []byte{opI32Add}, globalSet(gHeap),
	)}
	nullMalloc = testFunc{export: "malloc", params: 1, results: 1, body: i32Const(0)}
	noopFree   = testFunc{export: "free", params: 1}

	// new stores the config location and returns handle 7.
	storingNew = testFunc{export: "NovinAIBridge.new", params: 2, results: 1, body: ins(
		localGet(0), globalSet(gCfgPtr),
		localGet(1), globalSet(gCfgLen),
		globalGet(gHandles), i32Const(1), []byte{opI32Add}, globalSet(gHandles),
		i32Const(7),
	)}
	failingNew = testFunc{export: "NovinAIBridge.new", params: 2, results: 1, body: i32Const(0)}

	countingDrop = testFunc{export: "NovinAIBridge.drop", params: 1, body: ins(
		globalGet(gDrops), i32Const(1), []byte{opI32Add}, globalSet(gDrops),
	)}
)

// method builds a six-parameter method that stores ptr at *outPtr and
// returns length.
func method(export string, ptr, length []byte) testFunc {
	return testFunc{export: export, params: 6, results: 1, body: ins(
		localGet(lOutPtr), ptr, i32Store(),
		length,
	)}
}

var (
	echoMethod   = method("NovinAIBridge.process_request", localGet(lReqPtr), localGet(lReqLen))
	clientMethod = method("NovinAIBridge.client_id", localGet(lCidPtr), localGet(lCidLen))
	configMethod = method("NovinAIBridge.config", globalGet(gCfgPtr), globalGet(gCfgLen))
	handleMethod = testFunc{export: "NovinAIBridge.handle", params: 6, results: 1, body: ins(
		localGet(lOutPtr), i32Const(0), i32Store(),
		localGet(lHandle), i32Const(7), []byte{opI32Sub}, // 0 when handle is 7
	)}
	raisingMethod = method("NovinAIBridge.raise", localGet(lReqPtr), ins(i32Const(0), localGet(lReqLen), []byte{opI32Sub}))
	trapMethod    = testFunc{export: "NovinAIBridge.trap", params: 6, results: 1, body: []byte{opUnreachable}}
	wrongArity    = testFunc{export: "NovinAIBridge.short", params: 2, results: 1, body: i32Const(0)}
)

func guestGlobals() []int32 {
	return []int32{1024, 0, 0, 0, 0}
}

// echoGuest is a well formed collaborator.
func echoGuest() []byte {
	return testModule{
		funcs: []testFunc{
			bumpMalloc, noopFree, storingNew, countingDrop,
			echoMethod, clientMethod, configMethod, handleMethod,
			raisingMethod, trapMethod, wrongArity,
		},
		globals:       guestGlobals(),
		globalExports: map[string]uint32{"drops": gDrops, "handles": gHandles},
	}.encode()
}

// diagGuest forwards the request to novin.diagnostic before echoing it.
func diagGuest() []byte {
	return testModule{
		imports: []testImport{{module: hostModuleName, name: "diagnostic", params: 2}},
		funcs: []testFunc{
			bumpMalloc, noopFree, storingNew,
			{export: "NovinAIBridge.process_request", params: 6, results: 1, body: ins(
				localGet(lReqPtr), localGet(lReqLen), call(0),
				localGet(lOutPtr), localGet(lReqPtr), i32Store(),
				localGet(lReqLen),
			)},
		},
		globals: guestGlobals(),
	}.encode()
}
