// Package schema generates JSON schemas for the rule set and format map
// documents and validates raw documents against them.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
)

const (
	RuleSetSchemaID   = "https://github.com/Tributary-ai-services/fsmatcher/schemas/rule-set.json"
	FormatMapSchemaID = "https://github.com/Tributary-ai-services/fsmatcher/schemas/format-map.json"
)

// Reflect builds the JSON schema for v. Unknown properties are allowed and
// every field without omitempty is required.
func Reflect(v any, id string) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	s := r.Reflect(v)
	s.ID = jsonschema.ID(id)
	return s
}

// RuleSetSchema returns the rule set schema as JSON.
func RuleSetSchema() ([]byte, error) {
	return json.MarshalIndent(Reflect(&rules.RuleSet{}, RuleSetSchemaID), "", "  ")
}

// FormatMapSchema returns the format map schema as JSON.
func FormatMapSchema() ([]byte, error) {
	return json.MarshalIndent(Reflect(&rules.FormatMap{}, FormatMapSchemaID), "", "  ")
}

// Documents validates rule set and format map documents.
type Documents struct {
	ruleSet   *Validator
	formatMap *Validator
}

var _ rules.DocumentValidator = (*Documents)(nil)

// NewDocuments compiles the rule set and format map schemas.
func NewDocuments() (*Documents, error) {
	rsData, err := RuleSetSchema()
	if err != nil {
		return nil, fmt.Errorf("rule set schema: %w", err)
	}
	rs, err := NewValidator(RuleSetSchemaID, rsData)
	if err != nil {
		return nil, fmt.Errorf("rule set schema: %w", err)
	}

	fmData, err := FormatMapSchema()
	if err != nil {
		return nil, fmt.Errorf("format map schema: %w", err)
	}
	fm, err := NewValidator(FormatMapSchemaID, fmData)
	if err != nil {
		return nil, fmt.Errorf("format map schema: %w", err)
	}

	return &Documents{ruleSet: rs, formatMap: fm}, nil
}

func (d *Documents) ValidateRuleSet(data []byte) error {
	return d.ruleSet.ValidateJSON(data)
}

func (d *Documents) ValidateFormatMap(data []byte) error {
	return d.formatMap.ValidateJSON(data)
}
