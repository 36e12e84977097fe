// Command fsmatcher-ffi builds the matcher as a C shared library:
//
//	go build -buildmode=c-shared -o libfs_matcher.so ./cmd/fsmatcher-ffi
//
// Every string returned through match_rule is owned by the caller and must
// be released exactly once with drop_result. init_matcher must succeed
// before match_rule is called.
package main

/*
#include <stdlib.h>
*/
import "C"

import "unsafe"

func arg(p *C.char) cstring {
	if p == nil {
		return cstring{}
	}
	return cstring{Value: C.GoString(p), Valid: true}
}

//export init_logger
func init_logger(logPath *C.char) (status C.int) { //nolint:revive // C symbol name.
	st := errParam
	defer func() { status = C.int(st) }()
	defer recoverStatus(&st)

	st = initLogger(arg(logPath))
	return
}

//export init_matcher
func init_matcher(ruleSet, formatMap *C.char) (status C.int) { //nolint:revive // C symbol name.
	st := errParam
	defer func() { status = C.int(st) }()
	defer recoverStatus(&st)

	st = initMatcher(arg(ruleSet), arg(formatMap))
	return
}

//export match_rule
func match_rule(rawResult, filePath *C.char, out **C.char) (status C.int) { //nolint:revive // C symbol name.
	st := errParam
	defer func() { status = C.int(st) }()
	defer recoverStatus(&st)

	if out == nil {
		return
	}

	result, code := matchRule(arg(rawResult), arg(filePath))
	if code == errOK {
		*out = C.CString(result)
	}
	st = code
	return
}

//export drop_result
func drop_result(result *C.char) { //nolint:revive // C symbol name.
	if result != nil {
		C.free(unsafe.Pointer(result))
	}
}

func main() {}
