package shape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema renders the shape as a JSON Schema object suitable for model
// structured-output modes.
func (s *Shape) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0)
	for _, f := range s.Fields {
		props[f.Name] = f.jsonSchema()
		if f.Required {
			required = append(required, f.Name)
		}
	}

	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	return out
}

func (f Field) jsonSchema() map[string]any {
	out := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		out["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		out["enum"] = f.Enum
	}
	if len(f.Examples) > 0 {
		out["examples"] = f.Examples
	}
	if f.Type == TypeArray && f.Items != nil {
		out["items"] = f.Items.jsonSchema()
	}
	if f.Type == TypeObject && len(f.Properties) > 0 {
		nested := Shape{Fields: f.Properties}
		for k, v := range nested.JSONSchema() {
			if k != "type" {
				out[k] = v
			}
		}
	}
	return out
}

// PromptDescription renders the shape as a bullet list for prompts.
func (s *Shape) PromptDescription() string {
	var sb strings.Builder
	if s.Description != "" {
		sb.WriteString(s.Description)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Fields:\n")
	for _, f := range s.Fields {
		writeField(&sb, f, 0)
	}
	return sb.String()
}

func writeField(sb *strings.Builder, f Field, depth int) {
	prefix := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s- %s (%s", prefix, f.Name, f.Type)
	if f.Required {
		sb.WriteString(", required")
	}
	sb.WriteString(")")
	if f.Description != "" {
		sb.WriteString(": " + f.Description)
	}
	if len(f.Enum) > 0 {
		sb.WriteString(" [one of: " + strings.Join(f.Enum, ", ") + "]")
	}
	sb.WriteString("\n")

	props := f.Properties
	if f.Type == TypeArray && f.Items != nil {
		props = f.Items.Properties
	}
	for _, p := range props {
		writeField(sb, p, depth+1)
	}
}

// Violation is one place where data fails to conform to a shape.
type Violation struct {
	Location string
	Message  string
}

func (v Violation) Error() string {
	if v.Location == "" {
		return v.Message
	}
	return v.Location + ": " + v.Message
}

// Check validates data against the shape's JSON Schema and returns every
// violation found. A nil slice means the data conforms.
func (s *Shape) Check(data map[string]any) ([]Violation, error) {
	b, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal shape: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("shape.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add shape: %w", err)
	}
	schema, err := compiler.Compile("shape.json")
	if err != nil {
		return nil, fmt.Errorf("compile shape: %w", err)
	}

	// Round-trip so Go numeric and slice types match what the validator expects.
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}

	err = schema.Validate(v)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var out []Violation
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		out = append(out, Violation{Location: e.InstanceLocation, Message: e.Error})
	}
	if len(out) == 0 {
		out = append(out, Violation{Message: ve.Error()})
	}
	return out, nil
}
