package crawler

import (
	"encoding/json"
	"fmt"
)

// FieldKind selects how a matched element is converted to a value.
type FieldKind string

// Supported field kinds. A list field evaluates its child fields once per
// matched element and yields a slice of objects.
const (
	FieldText FieldKind = "text"
	FieldHTML FieldKind = "html"
	FieldList FieldKind = "list"
)

// Field is one descriptor in an extraction schema. Fields is only consulted
// for FieldList kinds.
type Field struct {
	Name     string    `json:"name"`
	Selector string    `json:"selector,omitempty"`
	Kind     FieldKind `json:"type"`
	Fields   []Field   `json:"fields,omitempty"`
}

// Schema describes structured extraction against a rendered DOM. The JSON
// shape matches the schema objects clients submit with a crawl request.
type Schema struct {
	Name         string  `json:"name"`
	BaseSelector string  `json:"baseSelector"`
	Fields       []Field `json:"fields"`
}

// ParseSchema decodes and validates a raw JSON schema object.
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field descriptor in the schema tree.
func (s *Schema) Validate() error {
	if s.BaseSelector == "" {
		s.BaseSelector = "body"
	}
	return validateFields(s.Fields)
}

func validateFields(fields []Field) error {
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("schema field missing name")
		}
		switch f.Kind {
		case FieldText, FieldHTML:
		case FieldList:
			if len(f.Fields) == 0 {
				return fmt.Errorf("list field %q needs child fields", f.Name)
			}
			if err := validateFields(f.Fields); err != nil {
				return err
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Kind)
		}
	}
	return nil
}
