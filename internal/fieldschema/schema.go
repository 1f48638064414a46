// Package fieldschema loads the declarative extraction schema: which fields
// to pull from a document, their types, and how important each one is when
// escalation budget runs short.
package fieldschema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"docextract/constants"
	"docextract/internal/common"
)

// FieldType constrains what the model may return for a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeDecimal FieldType = "decimal"
	TypeAddress FieldType = "address"
)

// FieldSpec declares one field to extract.
type FieldSpec struct {
	Name     string                  `yaml:"name"`
	Type     FieldType               `yaml:"type"`
	Category constants.FieldCategory `yaml:"category"`
	Required bool                    `yaml:"required"`

	// Description is passed to the model as extraction guidance.
	Description string `yaml:"description,omitempty"`

	// RequiredTokens is the minimal structural pattern for address/name
	// fields: each listed token must appear in the value.
	RequiredTokens []string `yaml:"required_tokens,omitempty"`

	// Components names integer fields whose values must sum exactly to
	// this field (unit-mix style totals).
	Components []string `yaml:"components,omitempty"`

	// Group places a decimal field in a balancing group; the validator
	// checks that group sums agree within the configured tolerance
	// (sources vs uses).
	Group string `yaml:"group,omitempty"`
}

// Schema is the full set of fields for one document type.
type Schema struct {
	DocumentType string      `yaml:"document_type"`
	Fields       []FieldSpec `yaml:"fields"`
}

// Load reads and validates a schema YAML file.
func Load(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewAppError("SCHEMA_ERROR", "read field schema", err)
	}
	return Parse(raw)
}

// Parse decodes schema YAML and checks internal consistency.
func Parse(raw []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, common.NewAppError("SCHEMA_ERROR", "parse field schema", err)
	}
	if len(s.Fields) == 0 {
		return nil, common.NewAppError("SCHEMA_ERROR", "field schema declares no fields", common.ErrInvalidInput)
	}

	byName := make(map[string]*FieldSpec, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return nil, common.NewAppError("SCHEMA_ERROR", "field with empty name", common.ErrInvalidInput)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, common.NewAppError("SCHEMA_ERROR", fmt.Sprintf("duplicate field %q", f.Name), common.ErrInvalidInput)
		}
		byName[f.Name] = f
		switch f.Type {
		case TypeString, TypeInteger, TypeDecimal, TypeAddress:
		case "":
			f.Type = TypeString
		default:
			return nil, common.NewAppError("SCHEMA_ERROR", fmt.Sprintf("field %q: unknown type %q", f.Name, f.Type), common.ErrInvalidInput)
		}
		if cat, ok := constants.CanonicalizeCategory(string(f.Category)); ok {
			f.Category = cat
		} else {
			f.Category = constants.CategoryLow
		}
	}

	// Component references must resolve to integer fields.
	for _, f := range s.Fields {
		for _, comp := range f.Components {
			ref, ok := byName[comp]
			if !ok {
				return nil, common.NewAppError("SCHEMA_ERROR", fmt.Sprintf("field %q: unknown component %q", f.Name, comp), common.ErrInvalidInput)
			}
			if ref.Type != TypeInteger {
				return nil, common.NewAppError("SCHEMA_ERROR", fmt.Sprintf("field %q: component %q is not integer", f.Name, comp), common.ErrInvalidInput)
			}
		}
	}
	return &s, nil
}

// Field returns the spec for name, if declared.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Names returns all declared field names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Required returns the specs of required fields in order.
func (s *Schema) RequiredFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}
