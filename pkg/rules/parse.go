package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// DocumentValidator checks a raw configuration document before it is decoded.
type DocumentValidator interface {
	ValidateRuleSet(data []byte) error
	ValidateFormatMap(data []byte) error
}

// ParseRuleSet decodes a rule set document.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing rule set: %w", err)
	}
	if rs.Dictionary == nil {
		rs.Dictionary = map[int32]DictionaryEntry{}
	}
	return &rs, nil
}

// ParseRuleSetOrDefault decodes a rule set document, falling back to an
// empty rule set (which matches nothing) when the document is malformed.
func ParseRuleSetOrDefault(data []byte, logger *slog.Logger) *RuleSet {
	rs, err := ParseRuleSet(data)
	if err != nil {
		logger.Warn("[Init] invalid rule set, using empty default", slog.Any("error", err))
		return &RuleSet{Dictionary: map[int32]DictionaryEntry{}}
	}
	return rs
}

// ParseFormatMap decodes a format map document.
func ParseFormatMap(data []byte) (*FormatMap, error) {
	var fm FormatMap
	if err := json.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("parsing format map: %w", err)
	}
	if fm.Format == nil {
		fm.Format = map[string]TypeSet{}
	}
	return &fm, nil
}

// ParseFormatMapOrDefault is the [ParseFormatMap] counterpart of
// [ParseRuleSetOrDefault].
func ParseFormatMapOrDefault(data []byte, logger *slog.Logger) *FormatMap {
	fm, err := ParseFormatMap(data)
	if err != nil {
		logger.Warn("[Init] invalid format map, using empty default", slog.Any("error", err))
		return &FormatMap{Format: map[string]TypeSet{}}
	}
	return fm
}

// LoadFiles reads and decodes the rule set and format map documents at the
// given paths. If v is non-nil each document is validated first. Unlike the
// OrDefault parsers, any failure is returned.
func LoadFiles(rulesPath, formatsPath string, v DocumentValidator) (*RuleSet, *FormatMap, error) {
	ruleData, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading rule set %s: %w", rulesPath, err)
	}
	formatData, err := os.ReadFile(formatsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading format map %s: %w", formatsPath, err)
	}

	if v != nil {
		if err := v.ValidateRuleSet(ruleData); err != nil {
			return nil, nil, fmt.Errorf("validating rule set %s: %w", rulesPath, err)
		}
		if err := v.ValidateFormatMap(formatData); err != nil {
			return nil, nil, fmt.Errorf("validating format map %s: %w", formatsPath, err)
		}
	}

	rs, err := ParseRuleSet(ruleData)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", rulesPath, err)
	}
	fm, err := ParseFormatMap(formatData)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", formatsPath, err)
	}
	return rs, fm, nil
}
