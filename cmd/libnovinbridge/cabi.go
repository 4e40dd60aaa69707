package main

/*
#include <stdlib.h>
*/
import "C"

import "unsafe"

// cCall is what a C caller observes from one novin_bridge_process_request.
type cCall struct {
	resp         string
	respNull     bool
	errMsg       string
	errUntouched bool
}

// callProcessRequest calls novin_bridge_process_request with C strings the
// way a C host does. nil clientID or brandConfig are passed as NULL. The
// error slot is preset to a marker so writes to it are observable; owned
// strings are released with novin_bridge_free_string.
func callProcessRequest(request string, clientID, brandConfig *string) cCall {
	cReq := C.CString(request)
	defer C.free(unsafe.Pointer(cReq))
	cClient := optionalCString(clientID)
	defer C.free(unsafe.Pointer(cClient))
	cBrand := optionalCString(brandConfig)
	defer C.free(unsafe.Pointer(cBrand))

	marker := C.CString("unset")
	defer C.free(unsafe.Pointer(marker))
	errOut := marker

	resp := novin_bridge_process_request(cReq, cClient, cBrand, &errOut)

	call := cCall{respNull: resp == nil, errUntouched: errOut == marker}
	if resp != nil {
		call.resp = C.GoString(resp)
		novin_bridge_free_string(resp)
	}
	if errOut != marker && errOut != nil {
		call.errMsg = C.GoString(errOut)
		novin_bridge_free_string(errOut)
	}
	return call
}

// callProcessRequestNoErrorSlot calls novin_bridge_process_request with a
// NULL error slot and reports whether a response came back.
func callProcessRequestNoErrorSlot(request string) bool {
	cReq := C.CString(request)
	defer C.free(unsafe.Pointer(cReq))

	resp := novin_bridge_process_request(cReq, nil, nil, nil)
	if resp == nil {
		return false
	}
	novin_bridge_free_string(resp)
	return true
}

func freeNullString() {
	novin_bridge_free_string(nil)
}

func optionalCString(s *string) *C.char {
	if s == nil {
		return nil
	}
	return C.CString(*s)
}
