package match_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tributary-ai-services/fsmatcher/pkg/expr"
	"github.com/Tributary-ai-services/fsmatcher/pkg/identity"
	"github.com/Tributary-ai-services/fsmatcher/pkg/match"
	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
	"github.com/Tributary-ai-services/fsmatcher/pkg/scan"
	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

const helloMD5 = "5d41402abc4b2a76b9719d911017c592"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func anyRule(id int32, code string) rules.Rule {
	return rules.Rule{ID: id, Code: code, Level: 1, MaxFileSize: 1_000_000}
}

func newMatcher(t *testing.T, rs *rules.RuleSet, fm *rules.FormatMap, opts ...match.Option) *match.Matcher {
	t.Helper()

	store := rules.NewStore()
	require.NoError(t, store.Init(rs, fm))

	m, err := match.New(store, append([]match.Option{match.WithLogger(discard)}, opts...)...)
	require.NoError(t, err)

	return m
}

func writeFile(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("a"), size), 0o600))

	return path
}

func rawResult(t *testing.T, r scan.RawResult) []byte {
	t.Helper()

	if r.Data == nil {
		r.Data = []scan.Item{}
	}
	for i := range r.SubFileData {
		if r.SubFileData[i].Data == nil {
			r.SubFileData[i].Data = []scan.Item{}
		}
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	return data
}

var bodyItem = scan.Item{ID: 7, Length: 3, Location: "body"}

func TestCheckFileUnconditionalRule(t *testing.T) {
	t.Parallel()

	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{anyRule(1, "ANY")}}, nil)
	path := writeFile(t, 100)
	raw := rawResult(t, scan.RawResult{Finding: scan.Finding{CategoryID: 3, Format: "txt", Data: []scan.Item{bodyItem}}})

	rec, err := m.CheckFile(raw, path)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, []types.FileSecurity{{ID: 1, Code: "ANY", Level: 1}}, rec.Securities)
	assert.Equal(t, string(raw), rec.EngineResult)
	assert.Equal(t, "txt", rec.File.Type)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"file_securities":[{"id":1,"code":"ANY"}]`)
}

func TestCheckFileSizeBoundary(t *testing.T) {
	t.Parallel()

	rule := anyRule(1, "SIZE")
	rule.MinFileSize = 10
	rule.MaxFileSize = 20
	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{rule}}, nil)

	raw := rawResult(t, scan.RawResult{Finding: scan.Finding{Format: "txt", Data: []scan.Item{bodyItem}}})

	for size, want := range map[int]bool{0: false, 9: false, 10: true, 15: true, 19: true, 20: false} {
		rec, err := m.CheckFile(raw, writeFile(t, size))
		require.NoError(t, err)
		assert.Equal(t, want, rec != nil, "size %d", size)
	}
}

func TestCheckFileZeroSizeNeverMatches(t *testing.T) {
	t.Parallel()

	rule := anyRule(1, "ZERO")
	rule.MinFileSize = 0
	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{rule}}, nil)

	raw := rawResult(t, scan.RawResult{Finding: scan.Finding{Format: "txt", Data: []scan.Item{bodyItem}}})

	rec, err := m.CheckFile(raw, writeFile(t, 0))
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = m.CheckFile(raw, filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCheckFileNoMatch(t *testing.T) {
	t.Parallel()

	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{anyRule(1, "ANY")}}, nil)
	path := writeFile(t, 100)

	tests := map[string][]byte{
		"malformed json": []byte(`{"categoryId":`),
		"missing format": []byte(`{"categoryId": 1, "data": [{"id": 1, "location": "a"}]}`),
		"empty data": rawResult(t, scan.RawResult{
			Finding:     scan.Finding{Format: "txt"},
			SubFileData: []scan.Finding{{Format: "txt", Data: []scan.Item{bodyItem}}},
		}),
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rec, err := m.CheckFile(raw, path)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestCheckFileNotInitialized(t *testing.T) {
	t.Parallel()

	m, err := match.New(rules.NewStore(), match.WithLogger(discard))
	require.NoError(t, err)

	raw := rawResult(t, scan.RawResult{Finding: scan.Finding{Format: "txt", Data: []scan.Item{bodyItem}}})

	rec, err := m.CheckFile(raw, writeFile(t, 100))
	require.ErrorIs(t, err, rules.ErrNotInitialized)
	assert.Nil(t, rec)
}

func TestCheckFileDedupAcrossFindings(t *testing.T) {
	t.Parallel()

	same := anyRule(1, "DUP")
	otherLevel := same
	otherLevel.Level = 2

	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{same, otherLevel}}, nil)

	raw := rawResult(t, scan.RawResult{
		Finding: scan.Finding{Format: "zip", Data: []scan.Item{bodyItem}},
		SubFileData: []scan.Finding{
			{Format: "txt", Data: []scan.Item{bodyItem}},
			{Format: "txt", Data: []scan.Item{bodyItem}},
		},
	})

	rec, err := m.CheckFile(raw, writeFile(t, 100))
	require.NoError(t, err)
	require.NotNil(t, rec)

	// One entry per (id, code, level) triple.
	assert.Equal(t, []types.FileSecurity{
		{ID: 1, Code: "DUP", Level: 1},
		{ID: 1, Code: "DUP", Level: 2},
	}, rec.Securities)
}

func TestCheckFileSubFindingOnly(t *testing.T) {
	t.Parallel()

	rule := anyRule(4, "ENC")
	rule.CheckFileEncrypted = true
	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{rule}}, nil)

	raw := rawResult(t, scan.RawResult{
		Finding:     scan.Finding{Format: "zip", Data: []scan.Item{bodyItem}},
		SubFileData: []scan.Finding{{Format: "docx", Encrypted: 1}},
	})

	rec, err := m.CheckFile(raw, writeFile(t, 100))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int32(4), rec.Securities[0].ID)
	assert.Equal(t, "zip", rec.File.Type)
}

func TestCheckFileMD5(t *testing.T) {
	t.Parallel()

	rule := anyRule(9, "MD5")
	rule.Expr = `md5 == "` + helloMD5 + `"`
	rule.MD5Check = true

	unchecked := anyRule(10, "NO-MD5")
	unchecked.Expr = `md5 == "` + helloMD5 + `"`

	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{rule, unchecked}}, nil)

	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	raw := rawResult(t, scan.RawResult{Finding: scan.Finding{Format: "txt", Data: []scan.Item{bodyItem}}})

	rec, err := m.CheckFile(raw, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []types.FileSecurity{{ID: 9, Code: "MD5", Level: 1}}, rec.Securities)
	assert.Equal(t, helloMD5, rec.File.MD5)
}

func TestCheckFileResolveError(t *testing.T) {
	t.Parallel()

	m := newMatcher(t, &rules.RuleSet{Rules: []rules.Rule{anyRule(1, "ANY")}}, nil,
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)

	raw := rawResult(t, scan.RawResult{Finding: scan.Finding{Format: "txt", Data: []scan.Item{bodyItem}}})

	rec, err := m.CheckFile(raw, filepath.Join(t.TempDir(), "vanished"))
	assert.Nil(t, rec)

	var fsErr *identity.FSError
	require.ErrorAs(t, err, &fsErr)
}

func TestEvaluateFilters(t *testing.T) {
	t.Parallel()

	encrypted := anyRule(1, "ENC")
	encrypted.CheckFileEncrypted = true

	hidden := anyRule(2, "HIDDEN")
	hidden.CheckFileSuffix = true

	byCategory := anyRule(3, "CATEGORY")
	byCategory.FileTypes = rules.NewTypeSet(101)

	byFormat := anyRule(4, "FORMAT")
	byFormat.FileTypes = rules.NewTypeSet(202)

	otherType := anyRule(5, "OTHER")
	otherType.FileTypes = rules.NewTypeSet(999)

	rs := &rules.RuleSet{Rules: []rules.Rule{encrypted, hidden, byCategory, byFormat, otherType}}
	fm := &rules.FormatMap{Format: map[string]rules.TypeSet{"docx": rules.NewTypeSet(201, 202)}}

	store := rules.NewStore()
	require.NoError(t, store.Init(rs, fm))
	snap, err := store.Snapshot()
	require.NoError(t, err)

	m, err := match.New(store,
		match.WithLogger(discard),
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)
	require.NoError(t, err)

	tests := map[string]struct {
		finding scan.Finding
		want    []int32
	}{
		"plain docx": {
			finding: scan.Finding{CategoryID: 1, Format: "docx", Data: []scan.Item{bodyItem}},
			want:    []int32{4},
		},
		"encrypted hidden category": {
			finding: scan.Finding{CategoryID: 101, Format: "txt", Encrypted: 1, Hidden: 1, Data: []scan.Item{bodyItem}},
			want:    []int32{1, 2, 3},
		},
		"hidden unknown format": {
			finding: scan.Finding{CategoryID: 1, Format: "bin", Hidden: 1, Data: []scan.Item{bodyItem}},
			want:    []int32{2},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			hits := m.Evaluate([]scan.Evaluable{&tc.finding}, snap, "/any")

			var got []int32
			for _, s := range hits.Sorted() {
				got = append(got, s.ID)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateExpressions(t *testing.T) {
	t.Parallel()

	rule := func(id int32, expression string) rules.Rule {
		r := anyRule(id, "EXPR")
		r.Expr = expression
		return r
	}

	seeded := rule(6, "limit > 2 && body7 >= limit")
	seeded.ExprContext = rules.ExprContext{Variables: map[string]any{"limit": int64(3)}}

	rs := &rules.RuleSet{
		Rules: []rules.Rule{
			rule(1, "body5 == 1"),
			rule(2, "cvtBoolToInt(body7 > 1) + cvtBoolToInt(title8 > 1) >= 2"),
			rule(3, "body7 +"),
			rule(4, "missing == 1"),
			rule(5, "body7 + 1"),
			seeded,
			rule(7, "cvtBoolToInt(body7) == 1"),
		},
		Dictionary: map[int32]rules.DictionaryEntry{
			7: {TargetID: 5, TargetThreshold: 5, Value: 3},
		},
	}

	var logs bytes.Buffer
	store := rules.NewStore()
	require.NoError(t, store.Init(rs, nil))
	snap, err := store.Snapshot()
	require.NoError(t, err)

	m, err := match.New(store,
		match.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)
	require.NoError(t, err)

	finding := &scan.Finding{Format: "txt", Data: []scan.Item{
		{ID: 7, Length: 3, Location: "body"},
		{ID: 7, Length: 3, Location: "body"},
		{ID: 8, Length: 2, Location: "title"},
	}}

	hits := m.Evaluate([]scan.Evaluable{finding}, snap, "/any")

	var got []int32
	for _, s := range hits.Sorted() {
		got = append(got, s.ID)
	}
	assert.Equal(t, []int32{1, 2, 6}, got)

	out := logs.String()
	assert.Contains(t, out, "[Security ID:3] failed to build expression")
	assert.Contains(t, out, "[Security ID:4] failed to evaluate expression")
	assert.Contains(t, out, "[Security ID:7] failed to evaluate expression")
	assert.Contains(t, out, "function=cvtBoolToInt")
	assert.NotContains(t, out, "[Security ID:5]")

	// Rule contexts are copied, never shared.
	assert.Equal(t, map[string]any{"limit": int64(3)}, rs.Rules[5].ExprContext.Variables)

	// Evaluation is idempotent.
	again := m.Evaluate([]scan.Evaluable{finding}, snap, "/any")
	assert.Equal(t, hits, again)
}

func TestEvaluateFreshAccumulatorPerFinding(t *testing.T) {
	t.Parallel()

	r := anyRule(1, "SPLIT")
	r.Expr = "body5 == 1"
	rs := &rules.RuleSet{
		Rules:      []rules.Rule{r},
		Dictionary: map[int32]rules.DictionaryEntry{7: {TargetID: 5, TargetThreshold: 10, Value: 6}},
	}

	store := rules.NewStore()
	require.NoError(t, store.Init(rs, nil))
	snap, err := store.Snapshot()
	require.NoError(t, err)

	m, err := match.New(store,
		match.WithLogger(discard),
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)
	require.NoError(t, err)

	one := scan.Finding{Format: "txt", Data: []scan.Item{{ID: 7, Location: "body"}}}
	two := scan.Finding{Format: "txt", Data: []scan.Item{{ID: 7, Location: "body"}, {ID: 7, Location: "body"}}}

	// Signals split across findings do not accumulate.
	assert.Empty(t, m.Evaluate([]scan.Evaluable{&one, &one}, snap, "/any"))
	assert.Len(t, m.Evaluate([]scan.Evaluable{&one, &two}, snap, "/any"), 1)
}

func TestEvaluateMixedNumericExpressions(t *testing.T) {
	t.Parallel()

	rs, err := rules.ParseRuleSet([]byte(`{
  "config_version": "numeric",
  "file_scan_rules": [
    {"id": 1, "code": "WEIGHTED", "level": 1, "max_file_size": 1000,
     "expr": "cvtBoolToInt(body7 > 1) * 0.5 + cvtBoolToInt(title8 > 1) * 0.5 >= 1.0"},
    {"id": 2, "code": "RATIO", "level": 1, "max_file_size": 1000,
     "expr": "body7 * ratio > 2", "expr_context": {"variables": {"ratio": {"Float": 1.5}}}},
    {"id": 3, "code": "RATIO_HIGH", "level": 1, "max_file_size": 1000,
     "expr": "body7 * ratio > 4", "expr_context": {"variables": {"ratio": {"Float": 1.5}}}},
    {"id": 4, "code": "SHARE", "level": 1, "max_file_size": 1000,
     "expr": "title8 / 4.0 == 0.5 && body7 - 0.5 == 1.5 && body7 % 1.5 == 0.5"},
    {"id": 5, "code": "INT_DIV", "level": 1, "max_file_size": 1000,
     "expr": "body7 / 3 == 0"},
    {"id": 6, "code": "CONCAT", "level": 1, "max_file_size": 1000,
     "expr": "name + \".txt\" == \"notes.txt\"", "expr_context": {"variables": {"name": "notes"}}}
  ]
}`))
	require.NoError(t, err)

	var logs bytes.Buffer
	store := rules.NewStore()
	require.NoError(t, store.Init(rs, nil))
	snap, err := store.Snapshot()
	require.NoError(t, err)

	m, err := match.New(store,
		match.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)
	require.NoError(t, err)

	// Variables bind to item lengths: body7 = 2 and title8 = 2.
	finding := &scan.Finding{Format: "txt", Data: []scan.Item{
		{ID: 7, Length: 2, Location: "body"},
		{ID: 8, Length: 2, Location: "title"},
	}}

	var got []int32
	for _, s := range m.Evaluate([]scan.Evaluable{finding}, snap, "/any").Sorted() {
		got = append(got, s.ID)
	}
	assert.Equal(t, []int32{1, 2, 4, 5, 6}, got)
	assert.NotContains(t, logs.String(), "failed")
}

type countingEvaluator struct {
	expr.Evaluator
	builds atomic.Int32
}

//nolint:ireturn // Expression is the evaluator's contract.
func (c *countingEvaluator) Build(src string) (expr.Expression, error) {
	c.builds.Add(1)
	return c.Evaluator.Build(src)
}

func TestEvaluateBuildsOncePerExpression(t *testing.T) {
	t.Parallel()

	first := anyRule(1, "FIRST")
	first.Expr = "body7 >= 2"
	second := anyRule(2, "SECOND")
	second.Expr = "body7 >= 2"
	broken := anyRule(3, "BROKEN")
	broken.Expr = "body7 >="

	store := rules.NewStore()
	require.NoError(t, store.Init(&rules.RuleSet{Rules: []rules.Rule{first, second, broken}}, nil))
	snap, err := store.Snapshot()
	require.NoError(t, err)

	ev := &countingEvaluator{Evaluator: expr.MustNewCELEvaluator()}
	m, err := match.New(store,
		match.WithLogger(discard),
		match.WithEvaluator(ev),
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)
	require.NoError(t, err)

	finding := &scan.Finding{Format: "txt", Data: []scan.Item{bodyItem}}
	for range 5 {
		assert.Len(t, m.Evaluate([]scan.Evaluable{finding}, snap, "/any"), 2)
	}
	assert.Equal(t, int32(2), ev.builds.Load())
}

func TestEvaluateConcurrent(t *testing.T) {
	t.Parallel()

	threshold := anyRule(1, "MANY")
	threshold.Expr = "cvtBoolToInt(body7 > 10) * 0.5 + cvtBoolToInt(body7 > 20) * 0.5 >= 1.0"
	store := rules.NewStore()
	require.NoError(t, store.Init(&rules.RuleSet{Rules: []rules.Rule{threshold}}, nil))
	snap, err := store.Snapshot()
	require.NoError(t, err)

	m, err := match.New(store,
		match.WithLogger(discard),
		match.WithSizer(func(string) (uint64, error) { return 100, nil }),
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			item := scan.Item{ID: 7, Length: int32(i), Location: "body"}
			hits := m.Evaluate([]scan.Evaluable{&scan.Finding{Format: "txt", Data: []scan.Item{item}}}, snap, "/any")
			assert.Equal(t, i > 20, len(hits) == 1, "length=%d", i)
		}()
	}
	wg.Wait()
}

func TestHitSetSorted(t *testing.T) {
	t.Parallel()

	h := match.HitSet{}
	h.Add(types.FileSecurity{ID: 2, Code: "b"})
	h.Add(types.FileSecurity{ID: 1, Code: "z"})
	h.Add(types.FileSecurity{ID: 1, Code: "a", Level: 3})
	h.Add(types.FileSecurity{ID: 1, Code: "a", Level: 1})
	h.Add(types.FileSecurity{ID: 1, Code: "a", Level: 1})

	other := match.HitSet{}
	other.Add(types.FileSecurity{ID: 2, Code: "b"})
	h.Merge(other)

	var codes []string
	for _, s := range h.Sorted() {
		codes = append(codes, s.Code+strings.Repeat("!", int(s.Level)))
	}
	assert.Equal(t, []string{"a!", "a!!!", "z", "b"}, codes)
}
