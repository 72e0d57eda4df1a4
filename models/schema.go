package models

import (
	"fmt"
	"strings"
	"time"
)

// FieldType constrains what a metadata field may hold.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldDate   FieldType = "date" // ISO 8601 (yyyy-mm-dd), or null
	FieldEnum   FieldType = "enum"
)

// FieldSpec declares one metadata field the model must extract.
type FieldSpec struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Required    bool      `yaml:"required"`
	Values      []string  `yaml:"values,omitempty"` // enum only
	Description string    `yaml:"description,omitempty"`
}

// MetadataSchema is the declared shape of extracted metadata. It is passed
// explicitly into the extract stage and used both to constrain the model's
// response and to validate what comes back.
type MetadataSchema struct {
	Fields []FieldSpec `yaml:"fields"`
}

// DefaultSchema covers the fields of a scanned correspondence archive:
// who wrote what to whom, when, and in which language.
func DefaultSchema() MetadataSchema {
	return MetadataSchema{Fields: []FieldSpec{
		{Name: "title", Type: FieldString, Required: true, Description: "short human title for the document"},
		{Name: "language", Type: FieldString, Description: "source language, null if English"},
		{Name: "date", Type: FieldDate, Description: "document date, ISO 8601 if found"},
		{Name: "type", Type: FieldString, Required: true, Description: "letter, check, telegram, drawing, unknown, ..."},
		{Name: "from", Type: FieldString, Description: "sender, null if not applicable"},
		{Name: "to", Type: FieldString, Description: "recipient, null if not applicable"},
	}}
}

// Validate checks a payload against the schema. A nil value satisfies any
// non-required field. The returned error lists every violation so a single
// model retry can fix all of them.
func (s MetadataSchema) Validate(payload map[string]any) error {
	var problems []string
	for _, f := range s.Fields {
		v, present := payload[f.Name]
		if !present || v == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		str, ok := v.(string)
		if !ok {
			problems = append(problems, fmt.Sprintf("field %q: expected string, got %T", f.Name, v))
			continue
		}
		switch f.Type {
		case FieldDate:
			if !validISODate(str) {
				problems = append(problems, fmt.Sprintf("field %q: %q is not an ISO 8601 date", f.Name, str))
			}
		case FieldEnum:
			if !contains(f.Values, str) {
				problems = append(problems, fmt.Sprintf("field %q: %q not in %v", f.Name, str, f.Values))
			}
		}
		if f.Required && strings.TrimSpace(str) == "" {
			problems = append(problems, fmt.Sprintf("required field %q is blank", f.Name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("metadata validation: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validISODate(s string) bool {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01", "2006"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
