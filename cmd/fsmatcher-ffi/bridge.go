package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Tributary-ai-services/fsmatcher/pkg/matcher"
)

// Status codes returned across the C boundary.
const (
	errOK    = 0
	errParam = 1
)

var errInvalidText = errors.New("argument is not valid UTF-8 text")

// cstring is a C string argument after conversion. Valid is false for a nil
// pointer.
type cstring struct {
	Value string
	Valid bool
}

func (s cstring) text() (string, error) {
	if !s.Valid {
		return "", fmt.Errorf("%w: nil pointer", errInvalidText)
	}
	if !utf8.ValidString(s.Value) {
		return "", errInvalidText
	}
	return s.Value, nil
}

var (
	logMu     sync.Mutex
	logCloser io.Closer
)

// initLogger opens the engine log in dir. A missing or non-text dir selects
// the platform default directory.
func initLogger(dir cstring) int {
	path, err := dir.text()
	if err != nil {
		path = ""
	}

	logMu.Lock()
	defer logMu.Unlock()

	closer, err := matcher.InitLogger(path)
	if err != nil {
		return errParam
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	logCloser = closer

	return errOK
}

func initMatcher(ruleSet, formatMap cstring) int {
	rs, err := ruleSet.text()
	if err != nil {
		return errParam
	}
	fm, err := formatMap.text()
	if err != nil {
		return errParam
	}

	if err := matcher.Init(rs, fm); err != nil {
		return errParam
	}
	return errOK
}

// matchRule evaluates one file. The result is "" when nothing matched.
func matchRule(raw, path cstring) (string, int) {
	r, err := raw.text()
	if err != nil {
		return "", errParam
	}
	p, err := path.text()
	if err != nil {
		return "", errParam
	}

	out := matcher.MatchRule(r, p)
	if strings.IndexByte(out, 0) >= 0 {
		return "", errParam
	}
	return out, errOK
}

// recoverStatus turns a panic into errParam so it never crosses into C.
func recoverStatus(status *int) {
	if r := recover(); r != nil {
		slog.Error("[FFI] recovered from panic", slog.Any("panic", r))
		*status = errParam
	}
}
