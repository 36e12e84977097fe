// Package matcher is the entry point used by embedding hosts: install the
// rule configuration once, then evaluate scan results one file at a time.
package matcher

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Tributary-ai-services/fsmatcher/pkg/log"
	"github.com/Tributary-ai-services/fsmatcher/pkg/match"
	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

const (
	Version   = "165d4f07-f5e7-4dca-819c-8b0f7a440d1e"
	BuildDate = "2023.12.23"
)

// Engine couples a rule store with a matcher.
type Engine struct {
	store   *rules.Store
	matcher *match.Matcher
	logger  *slog.Logger
}

// NewEngine creates an [Engine] over store. A nil logger follows
// [slog.Default]. opts configure the matcher.
func NewEngine(store *rules.Store, logger *slog.Logger, opts ...match.Option) (*Engine, error) {
	if logger != nil {
		opts = append([]match.Option{match.WithLogger(logger)}, opts...)
	}

	m, err := match.New(store, opts...)
	if err != nil {
		return nil, err
	}

	return &Engine{store: store, matcher: m, logger: logger}, nil
}

// Init installs the rule set and format map documents. Malformed documents
// are replaced by empty defaults with a warning. It returns
// [rules.ErrAlreadyInitialized] if the engine was already initialized.
func (e *Engine) Init(ruleJSON, formatJSON []byte) error {
	e.log().Info(fmt.Sprintf("[Version] Matcher lib version info: %s (build: %s)", BuildDate, Version))
	e.log().Info("[Init] init matcher with RULE", slog.String("rule", string(ruleJSON)))
	e.log().Info("[Init] init matcher with FORMAT", slog.String("format", string(formatJSON)))

	rs := rules.ParseRuleSetOrDefault(ruleJSON, e.log())
	fm := rules.ParseFormatMapOrDefault(formatJSON, e.log())

	if err := e.store.Init(rs, fm); err != nil {
		e.log().Warn("[Init] matcher already initialized, keeping the first configuration")
		return err
	}
	return nil
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// ConfigVersion returns the installed rule set version.
func (e *Engine) ConfigVersion() string {
	snap, err := e.store.Snapshot()
	if err != nil {
		return ""
	}
	return snap.RuleSet.ConfigVersion
}

// Check evaluates a raw scan result for the file at path.
func (e *Engine) Check(raw []byte, path string) (*types.SensitiveFile, error) {
	return e.matcher.CheckFile(raw, path)
}

// MatchRule returns the JSON record for the file at path, or "" if nothing
// matched or the record could not be produced.
func (e *Engine) MatchRule(raw []byte, path string) string {
	rec, err := e.Check(raw, path)
	if err != nil || rec == nil {
		return ""
	}

	out, err := json.Marshal(rec)
	if err != nil {
		e.log().Error("[SecurityCheck] failed to encode result",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return ""
	}
	return string(out)
}

var defaultEngine = sync.OnceValues(func() (*Engine, error) {
	return NewEngine(rules.Default(), nil)
})

// Default returns the process-wide engine backed by [rules.Default].
func Default() (*Engine, error) {
	return defaultEngine()
}

// Init initializes the process-wide engine.
func Init(ruleJSON, formatJSON string) error {
	e, err := Default()
	if err != nil {
		return err
	}
	return e.Init([]byte(ruleJSON), []byte(formatJSON))
}

// MatchRule evaluates one file with the process-wide engine.
func MatchRule(raw, path string) string {
	e, err := Default()
	if err != nil {
		return ""
	}
	return e.MatchRule([]byte(raw), path)
}

// InitLogger routes the default logger to a rotated fs_matcher.log in dir,
// or in [log.DefaultDir] when dir is empty.
func InitLogger(dir string) (io.Closer, error) {
	return log.Setup(log.EngineFileConfig(dir), slog.LevelInfo, log.FormatText)
}
