package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a validation error from JSON schema validation.
// Path can be passed to [yaml.Path.AnnotateSource] with the original
// document, since every JSON document is also valid YAML.
type ValidationError struct {
	Path   *yaml.Path // Path to the offending value.
	Detail string     // Detailed error message.
}

func (e *ValidationError) Error() string {
	if e.Path != nil {
		return fmt.Sprintf("error at %s: %s", e.Path.String(), e.Detail)
	}
	return "validation error: " + e.Detail
}

// Validator validates data against a JSON schema.
// Uses [github.com/santhosh-tekuri/jsonschema/v6].
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaData, registered under url.
func NewValidator(url string, schemaData []byte) (*Validator, error) {
	var schema any
	if err := json.Unmarshal(schemaData, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	jss, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: jss}, nil
}

// Validate validates an already-decoded document.
func (v *Validator) Validate(data any) error {
	err := v.schema.Validate(data)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("schema validation: %w", err)
	}

	return &ValidationError{
		Path:   buildPathFromLocation(data, findMostSpecificLocation(validationErr)),
		Detail: validationErr.Error(),
	}
}

// ValidateJSON decodes and validates a raw JSON document.
func (v *Validator) ValidateJSON(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return v.Validate(doc)
}

// findMostSpecificLocation returns the longest InstanceLocation among err
// and its causes.
func findMostSpecificLocation(err *jsonschema.ValidationError) []string {
	longest := err.InstanceLocation

	for _, cause := range err.Causes {
		candidate := findMostSpecificLocation(cause)
		if len(candidate) > len(longest) {
			longest = candidate
		}
	}

	return longest
}

// buildPathFromLocation converts an InstanceLocation slice to a [yaml.Path],
// walking doc so numeric object keys are not mistaken for array indexes.
func buildPathFromLocation(doc any, location []string) *yaml.Path {
	pb := yaml.PathBuilder{}
	current := pb.Root()
	node := doc

	for _, part := range location {
		switch n := node.(type) {
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 {
				return current.Build()
			}
			current = current.Index(uint(index))
			if index < len(n) {
				node = n[index]
			} else {
				node = nil
			}
		case map[string]any:
			current = current.Child(part)
			node = n[part]
		default:
			current = current.Child(part)
			node = nil
		}
	}

	return current.Build()
}
