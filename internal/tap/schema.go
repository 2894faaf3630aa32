package tap

import (
	"encoding/json"
	"fmt"

	"github.com/sendinblue/tap-sftp/internal/records"
)

// Schema describes the fields of one stream.
type Schema struct {
	SchemaID string
	Fields   []FieldDescriptor
}

// FieldDescriptor describes one stream field.
type FieldDescriptor struct {
	Name            string
	Type            string
	Format          string
	Nullable        bool
	OrdinalPosition int
}

// BuildSchemaFromHeader derives a string-typed schema from a file
// header. Columns listed in dateOverrides keep the string type but are
// marked with a date-time format. The overflow column is always
// declared so downstream consumers accept rows that carry it.
func BuildSchemaFromHeader(schemaID string, header []string, dateOverrides []string) *Schema {
	overrides := make(map[string]bool, len(dateOverrides))
	for _, col := range dateOverrides {
		overrides[col] = true
	}

	fields := make([]FieldDescriptor, 0, len(header)+1)
	for i, col := range header {
		field := FieldDescriptor{
			Name:            col,
			Type:            "string",
			Nullable:        true,
			OrdinalPosition: i + 1,
		}
		if overrides[col] {
			field.Format = "date-time"
		}
		fields = append(fields, field)
	}

	fields = append(fields, FieldDescriptor{
		Name:            records.SDCExtraColumn,
		Type:            "array",
		Nullable:        true,
		OrdinalPosition: len(header) + 1,
	})

	return &Schema{SchemaID: schemaID, Fields: fields}
}

// ToMap renders the schema as a JSON Schema document structure.
func (s *Schema) ToMap() map[string]any {
	properties := make(map[string]any, len(s.Fields))
	for _, field := range s.Fields {
		prop := make(map[string]any)
		if field.Nullable {
			prop["type"] = []string{"null", field.Type}
		} else {
			prop["type"] = field.Type
		}
		if field.Format != "" {
			prop["format"] = field.Format
		}
		if field.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		properties[field.Name] = prop
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
	}
}

// ToJSON renders the schema as an indented JSON Schema document.
func (s *Schema) ToJSON() (string, error) {
	data, err := json.MarshalIndent(s.ToMap(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema to JSON: %w", err)
	}
	return string(data), nil
}
