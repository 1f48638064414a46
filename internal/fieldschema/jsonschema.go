package fieldschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic
// map constraining a model response for the given fields. Passed to the
// model as a structured-output constraint and used locally to validate.
// Response shape: {"fields": [{"name", "value", "confidence", "rationale"}]}.
func BuildJSONSchema(fields []FieldSpec) map[string]any {
	variants := make([]any, 0, len(fields))
	for _, f := range fields {
		variants = append(variants, map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"name":       map[string]any{"const": f.Name},
				"value":      valueSchema(f.Type),
				"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"rationale":  map[string]any{"type": "string"},
			},
			"required": []string{"name", "value", "confidence"},
		})
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"fields": map[string]any{
				"type":  "array",
				"items": map[string]any{"oneOf": variants},
			},
		},
		"required": []string{"fields"},
	}
}

// valueSchema returns the per-type constraint for one field's value. A null
// value is always admitted: adapters report failed fields as value=null with
// confidence 0 rather than omitting them.
func valueSchema(t FieldType) map[string]any {
	var typed map[string]any
	switch t {
	case TypeInteger:
		typed = map[string]any{"type": "integer", "minimum": 0}
	case TypeDecimal:
		// Decimals travel as strings to avoid float rounding on money.
		typed = map[string]any{"type": "string", "pattern": `^-?\d+(\.\d{1,2})?$`}
	case TypeAddress:
		typed = map[string]any{"type": "string", "minLength": 5}
	default:
		typed = map[string]any{"type": "string"}
	}
	return map[string]any{"oneOf": []any{typed, map[string]any{"type": "null"}}}
}

// ValidateJSON validates raw model output against schemaMap.
func ValidateJSON(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
