// Package match decides which rules fire for a scan result and builds the
// sensitive-file record for a matched file.
package match

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tributary-ai-services/fsmatcher/pkg/expr"
	"github.com/Tributary-ai-services/fsmatcher/pkg/identity"
	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
	"github.com/Tributary-ai-services/fsmatcher/pkg/scan"
	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// SnapshotSource provides the installed rule configuration.
type SnapshotSource interface {
	Snapshot() (*rules.Snapshot, error)
}

// RecordResolver assembles the record of a matched file.
type RecordResolver interface {
	Resolve(path, desc, raw, fileType string, hits []types.FileSecurity) (*types.SensitiveFile, error)
}

// Sizer returns the size used by the size filter. Errors count as size 0,
// which no rule accepts.
type Sizer func(path string) (uint64, error)

// Hasher returns the MD5 digest bound for rules with md5_check.
type Hasher func(path string) (string, error)

// Matcher evaluates scan results against the installed rule set. It is safe
// for concurrent use; all per-call state is local to the call.
type Matcher struct {
	source    SnapshotSource
	evaluator expr.Evaluator
	resolver  RecordResolver
	sizer     Sizer
	hasher    Hasher
	logger    *slog.Logger

	// Built expressions by source text. Build failures are cached too.
	compiled sync.Map
}

type compiledExpr struct {
	x   expr.Expression
	err error
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithEvaluator sets the expression evaluator.
func WithEvaluator(e expr.Evaluator) Option {
	return func(m *Matcher) {
		m.evaluator = e
	}
}

// WithResolver sets the record resolver.
func WithResolver(r RecordResolver) Option {
	return func(m *Matcher) {
		m.resolver = r
	}
}

// WithSizer sets the function used to size files for the size filter.
func WithSizer(s Sizer) Option {
	return func(m *Matcher) {
		m.sizer = s
	}
}

// WithHasher sets the function used to compute MD5 digests.
func WithHasher(h Hasher) Option {
	return func(m *Matcher) {
		m.hasher = h
	}
}

// WithLogger sets the logger. By default the current [slog.Default] is used.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = l
	}
}

// New creates a [Matcher] reading its configuration from source.
func New(source SnapshotSource, opts ...Option) (*Matcher, error) {
	m := &Matcher{
		source:   source,
		resolver: identity.NewResolver(),
		sizer:    identity.LogicalSize,
		hasher:   identity.MD5File,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.evaluator == nil {
		ev, err := expr.NewCELEvaluator()
		if err != nil {
			return nil, fmt.Errorf("creating evaluator: %w", err)
		}
		m.evaluator = ev
	}

	return m, nil
}

// CheckFile evaluates the raw scan result for the file at path. It returns
// nil and no error when the result cannot be parsed, reports no data, or no
// rule matched. It returns [rules.ErrNotInitialized] before configuration is
// installed, and an [*identity.FSError] when a matched file cannot be read.
func (m *Matcher) CheckFile(raw []byte, path string) (*types.SensitiveFile, error) {
	m.log().Info("[SecurityCheck] check file", slog.String("path", path))

	snap, err := m.source.Snapshot()
	if err != nil {
		m.log().Error("[SecurityCheck] rule configuration not initialized", slog.Any("error", err))
		return nil, err
	}

	result, err := scan.ParseRawResult(raw)
	if err != nil {
		m.log().Warn("[SecurityCheck] failed to parse raw scan result",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return nil, nil
	}
	if len(result.Data) == 0 {
		return nil, nil
	}

	hits := m.Evaluate(result.All(), snap, path)
	if len(hits) == 0 {
		return nil, nil
	}

	rec, err := m.resolver.Resolve(path, result.Desc, string(raw), result.Format, hits.Sorted())
	if err != nil {
		m.log().Error("[SecurityCheck] failed to update file info",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return nil, err
	}

	return rec, nil
}

// Evaluate runs every rule against each finding and returns the union of
// the rules that fired. Each finding gets its own accumulator.
func (m *Matcher) Evaluate(findings []scan.Evaluable, snap *rules.Snapshot, path string) HitSet {
	out := HitSet{}
	if snap == nil || snap.RuleSet == nil {
		return out
	}

	fc := &fileContext{path: path, hasher: m.hasher}
	fc.size, fc.sizeErr = m.sizer(path)
	if fc.sizeErr != nil {
		m.log().Debug("[SecurityCheck] failed to size file",
			slog.String("path", path),
			slog.Any("error", fc.sizeErr),
		)
		fc.size = 0
	}

	for _, f := range findings {
		out.Merge(m.evaluateFinding(f, snap, fc))
	}

	return out
}

// fileContext carries per-file values shared by all findings of a call.
type fileContext struct {
	path    string
	size    uint64
	sizeErr error

	hasher  Hasher
	md5Once sync.Once
	md5     string
}

func (fc *fileContext) MD5() string {
	fc.md5Once.Do(func() {
		fc.md5, _ = fc.hasher(fc.path)
	})
	return fc.md5
}

func (m *Matcher) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

func (m *Matcher) evaluateFinding(f scan.Evaluable, snap *rules.Snapshot, fc *fileContext) HitSet {
	hits := HitSet{}
	formatTypes := snap.FormatMap.TypesFor(f.FormatName())

	for i := range snap.RuleSet.Rules {
		rule := &snap.RuleSet.Rules[i]

		if rule.CheckFileEncrypted && !f.IsEncrypted() {
			continue
		}
		if rule.CheckFileSuffix && !f.IsHidden() {
			continue
		}
		if !rule.MatchesType(f.DLPType(), formatTypes) {
			continue
		}
		if fc.size == 0 || !rule.SizeInRange(fc.size) {
			continue
		}
		if rule.Expr != "" && !m.evalRule(rule, f, snap.RuleSet.Dictionary, fc) {
			continue
		}

		hits.Add(types.FileSecurity{ID: rule.ID, Code: rule.Code, Level: rule.Level})
	}

	return hits
}

func (m *Matcher) evalRule(rule *rules.Rule, f scan.Evaluable, dict map[int32]rules.DictionaryEntry, fc *fileContext) bool {
	logger := m.log().With(slog.String("expr", rule.Expr))
	prefix := fmt.Sprintf("[Security ID:%d]", rule.ID)

	x, err := m.build(rule.Expr)
	if err != nil {
		logger.Warn(prefix+" failed to build expression", slog.Any("error", err))
		return false
	}

	ctx := f.BuildContext(rule.ExprContext.Context(), dict)
	if rule.MD5Check {
		ctx.SetValue("md5", fc.MD5())
	}

	v, err := x.Eval(ctx)
	if err != nil {
		var typeErr *expr.TypeError
		if errors.As(err, &typeErr) {
			logger = logger.With(slog.String("function", typeErr.Function))
		}
		logger.Warn(prefix+" failed to evaluate expression",
			slog.String("path", fc.path),
			slog.Any("error", err),
		)
		return false
	}

	return expr.AsBool(v)
}

// build returns the built expression for src, building it on first use.
//
//nolint:ireturn // Expression is the evaluator's contract.
func (m *Matcher) build(src string) (expr.Expression, error) {
	if c, ok := m.compiled.Load(src); ok {
		ce := c.(*compiledExpr)
		return ce.x, ce.err
	}

	x, err := m.evaluator.Build(src)
	c, _ := m.compiled.LoadOrStore(src, &compiledExpr{x: x, err: err})
	ce := c.(*compiledExpr)
	return ce.x, ce.err
}
