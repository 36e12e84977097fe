// Package scan decodes content-scanner results and turns their findings into
// expression contexts for rule evaluation.
package scan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tributary-ai-services/fsmatcher/pkg/expr"
	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
)

// ErrMissingField is returned when a required scan result field is absent.
var ErrMissingField = errors.New("missing required field")

// Evaluable is the view of a finding that rule matching needs. Primary
// findings and sub-findings both implement it.
type Evaluable interface {
	// DLPType returns the scanner's category id.
	DLPType() int32
	// FormatName returns the scanner-declared format.
	FormatName() string
	IsEncrypted() bool
	IsHidden() bool
	// BuildContext returns a copy of base enriched with this finding's
	// variables and the cvtBoolToInt function.
	BuildContext(base *expr.Context, dict map[int32]rules.DictionaryEntry) *expr.Context
}

// Item is one sensitive-content hit reported by the scanner.
type Item struct {
	ID       int32  `json:"id"`
	Length   int32  `json:"length"`
	Location string `json:"location"`
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID       *int32  `json:"id"`
		Length   int32   `json:"length"`
		Location *string `json:"location"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ID == nil {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if aux.Location == nil {
		return fmt.Errorf("%w: location", ErrMissingField)
	}

	*it = Item{ID: *aux.ID, Length: aux.Length, Location: *aux.Location}
	return nil
}

// Finding is the scanner's report for a file or for one of its sub-parts.
type Finding struct {
	CategoryID int32  `json:"categoryId"`
	Desc       string `json:"desc"`
	Format     string `json:"format"`
	Data       []Item `json:"data"`
	Encrypted  int32  `json:"encrypted"`
	Hidden     int32  `json:"hidden"`
}

func (f *Finding) UnmarshalJSON(data []byte) error {
	type plain Finding
	aux := struct {
		*plain
		CategoryID *int32  `json:"categoryId"`
		Format     *string `json:"format"`
		Data       *[]Item `json:"data"`
	}{plain: (*plain)(f)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch {
	case aux.CategoryID == nil:
		return fmt.Errorf("%w: categoryId", ErrMissingField)
	case aux.Format == nil:
		return fmt.Errorf("%w: format", ErrMissingField)
	case aux.Data == nil:
		return fmt.Errorf("%w: data", ErrMissingField)
	}

	f.CategoryID = *aux.CategoryID
	f.Format = *aux.Format
	f.Data = *aux.Data
	return nil
}

func (f *Finding) DLPType() int32     { return f.CategoryID }
func (f *Finding) FormatName() string { return f.Format }
func (f *Finding) IsEncrypted() bool  { return f.Encrypted != 0 }
func (f *Finding) IsHidden() bool     { return f.Hidden != 0 }

func (f *Finding) BuildContext(base *expr.Context, dict map[int32]rules.DictionaryEntry) *expr.Context {
	ctx := base.Clone()

	acc := NewAccumulator(dict)
	for _, it := range f.Data {
		acc.Add(ctx, it)
	}
	ctx.SetFunction(expr.CvtBoolToIntName, expr.CvtBoolToInt)

	return ctx
}

// RawResult is a complete scan result: the primary finding plus at most one
// level of sub-findings.
type RawResult struct {
	Finding
	SubFileData []Finding `json:"subFileData,omitempty"`
}

// UnmarshalJSON decodes both the embedded finding and the sub-findings;
// without it the promoted Finding method would drop SubFileData.
func (r *RawResult) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Finding); err != nil {
		return err
	}

	var sub struct {
		SubFileData []Finding `json:"subFileData"`
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		return err
	}
	r.SubFileData = sub.SubFileData
	return nil
}

// ParseRawResult decodes a scan result document.
func ParseRawResult(data []byte) (*RawResult, error) {
	var r RawResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing raw scan result: %w", err)
	}
	return &r, nil
}

// All returns the primary finding followed by the sub-findings.
func (r *RawResult) All() []Evaluable {
	out := make([]Evaluable, 0, 1+len(r.SubFileData))
	out = append(out, &r.Finding)
	for i := range r.SubFileData {
		out = append(out, &r.SubFileData[i])
	}
	return out
}
