// Package rules holds the rule set and format map that drive file matching,
// and the process-wide store they are installed into.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/invopop/jsonschema"

	"github.com/Tributary-ai-services/fsmatcher/pkg/expr"
)

// RuleSet is the administrator-supplied matching configuration.
type RuleSet struct {
	ConfigVersion string                    `json:"config_version"`
	Rules         []Rule                    `json:"file_scan_rules"`
	Dictionary    map[int32]DictionaryEntry `json:"file_digital_dictionary"`
}

// FormatMap maps a scanner format string to the type codes recognized for it.
type FormatMap struct {
	Format map[string]TypeSet `json:"format"`
}

// TypesFor returns the type codes recognized for format, or an empty set.
func (m *FormatMap) TypesFor(format string) TypeSet {
	if m == nil {
		return nil
	}
	return m.Format[format]
}

// Rule is a single file scan rule.
type Rule struct {
	ID    int32  `json:"id"`
	Code  string `json:"code"`
	Level int32  `json:"level"`

	// FileTypes restricts the rule to these dlp types. Empty matches any type.
	FileTypes   TypeSet `json:"file_types"`
	MinFileSize uint64  `json:"min_file_size"`
	MaxFileSize uint64  `json:"max_file_size"`

	CheckFileEncrypted bool `json:"check_file_encrypted"`
	// CheckFileSuffix requires the finding to be flagged hidden.
	CheckFileSuffix bool `json:"check_file_suffix"`

	Expr        string      `json:"expr"`
	ExprContext ExprContext `json:"expr_context"`
	MD5Check    bool        `json:"md5_check"`
}

// SizeInRange reports whether size lies in [MinFileSize, MaxFileSize).
func (r *Rule) SizeInRange(size uint64) bool {
	return size >= r.MinFileSize && size < r.MaxFileSize
}

// MatchesType reports whether a finding of dlpType whose format maps to
// formatTypes passes the rule's type filter.
func (r *Rule) MatchesType(dlpType int32, formatTypes TypeSet) bool {
	if len(r.FileTypes) == 0 || r.FileTypes.Contains(dlpType) {
		return true
	}
	return r.FileTypes.Intersects(formatTypes)
}

// DictionaryEntry is a weighted contribution toward a dictionary bucket.
type DictionaryEntry struct {
	TargetID        int32 `json:"target_id"`
	TargetThreshold int32 `json:"target_threshold"`
	Value           int32 `json:"value"`
}

// TypeSet is a set of integer type codes, encoded as a JSON array.
type TypeSet map[int32]struct{}

// NewTypeSet returns a set holding codes.
func NewTypeSet(codes ...int32) TypeSet {
	s := make(TypeSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s TypeSet) Contains(code int32) bool {
	_, ok := s[code]
	return ok
}

// Intersects reports whether s and o share at least one code.
func (s TypeSet) Intersects(o TypeSet) bool {
	small, large := s, o
	if len(small) > len(large) {
		small, large = large, small
	}
	for c := range small {
		if large.Contains(c) {
			return true
		}
	}
	return false
}

// Sorted returns the codes in ascending order.
func (s TypeSet) Sorted() []int32 {
	return slices.Sorted(maps.Keys(s))
}

func (s TypeSet) MarshalJSON() ([]byte, error) {
	codes := s.Sorted()
	if codes == nil {
		codes = []int32{}
	}
	return json.Marshal(codes)
}

func (s *TypeSet) UnmarshalJSON(data []byte) error {
	var codes []int32
	if err := json.Unmarshal(data, &codes); err != nil {
		return fmt.Errorf("type set: %w", err)
	}
	*s = NewTypeSet(codes...)
	return nil
}

// JSONSchema describes TypeSet as an array of unique integers.
func (TypeSet) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Items:       &jsonschema.Schema{Type: "integer"},
		UniqueItems: true,
	}
}

// ExprContext is a rule's pre-seeded expression context. Values may be
// plain JSON scalars or single-key tagged values such as {"Int": 3}.
type ExprContext struct {
	Variables map[string]any `json:"variables,omitempty"`
}

// Context returns a fresh evaluation context seeded with the variables.
func (c ExprContext) Context() *expr.Context {
	ctx := expr.NewContext()
	for name, v := range c.Variables {
		ctx.SetValue(name, v)
	}
	return ctx
}

func (c *ExprContext) UnmarshalJSON(data []byte) error {
	var raw struct {
		Variables map[string]json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expr context: %w", err)
	}

	c.Variables = make(map[string]any, len(raw.Variables))
	for name, msg := range raw.Variables {
		v, err := decodeValue(msg)
		if err != nil {
			return fmt.Errorf("expr context variable %q: %w", name, err)
		}
		c.Variables[name] = v
	}
	return nil
}

// JSONSchema describes ExprContext as an object of named variables.
func (ExprContext) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("variables", &jsonschema.Schema{Type: "object"})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
	}
}

// decodeValue converts a JSON value into the expression value space:
// int64, float64, bool, string, []any or nil.
func decodeValue(msg json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case map[string]any:
		return untag(t)
	}
	return nil, fmt.Errorf("unsupported value %v", v)
}

// untag unwraps the legacy tagged form {"Int": 3}, {"Tuple": [...]} etc.
func untag(m map[string]any) (any, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("tagged value must have exactly one key, got %d", len(m))
	}
	for tag, inner := range m {
		v, err := normalize(inner)
		if err != nil {
			return nil, err
		}
		switch tag {
		case "Int":
			if f, ok := v.(float64); ok {
				return int64(f), nil
			}
			if _, ok := v.(int64); ok {
				return v, nil
			}
		case "Float":
			if i, ok := v.(int64); ok {
				return float64(i), nil
			}
			if _, ok := v.(float64); ok {
				return v, nil
			}
		case "Boolean":
			if _, ok := v.(bool); ok {
				return v, nil
			}
		case "String":
			if _, ok := v.(string); ok {
				return v, nil
			}
		case "Tuple":
			if _, ok := v.([]any); ok {
				return v, nil
			}
		case "Empty":
			return nil, nil
		default:
			return nil, fmt.Errorf("unknown value tag %q", tag)
		}
		return nil, fmt.Errorf("value tag %q does not match %T", tag, v)
	}
	return nil, nil
}
