// Command libnovinbridge builds the bridge as a C shared library.
//
//	go build -buildmode=c-shared -o libnovinbridge.so ./cmd/libnovinbridge
//
// The library keeps one process-wide bridge configured from NOVIN_BRIDGE_*
// environment variables. Strings returned to C are allocated with malloc and
// must be released with novin_bridge_free_string.
package main

/*
#include <stdbool.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"

	"github.com/novinai/novin-bridge/errors"
)

//export novin_bridge_initialize
func novin_bridge_initialize(home, path *C.char) C.bool {
	return C.bool(initialize(C.GoString(home), C.GoString(path)))
}

//export novin_bridge_process_request
func novin_bridge_process_request(request, clientID, brandConfig *C.char, errorOut **C.char) *C.char {
	// NULL selects the configured client id; "" is passed through.
	var cid *string
	if clientID != nil {
		s := C.GoString(clientID)
		cid = &s
	}

	resp, err := processRequest(C.GoString(request), cid, C.GoString(brandConfig))
	if err != nil {
		if errorOut != nil {
			*errorOut = cString(errors.Message(err))
		}
		return nil
	}

	out := cString(resp)
	if out == nil && errorOut != nil {
		*errorOut = cString(errors.Message(errors.OutOfMemory(errors.PhaseMarshal, len(resp)+1)))
	}
	return out
}

//export novin_bridge_free_string
func novin_bridge_free_string(s *C.char) {
	if s == nil {
		return
	}
	C.free(unsafe.Pointer(s))
}

//export novin_bridge_finalize
func novin_bridge_finalize() {
	finalize()
}

// cString duplicates s into malloc'd memory. It returns nil when malloc fails.
func cString(s string) *C.char {
	p := C.malloc(C.size_t(len(s) + 1))
	if p == nil {
		return nil
	}
	if len(s) > 0 {
		C.memcpy(p, unsafe.Pointer(unsafe.StringData(s)), C.size_t(len(s)))
	}
	*(*byte)(unsafe.Add(p, len(s))) = 0
	return (*C.char)(p)
}

func main() {}
