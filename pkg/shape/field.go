package shape

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// FieldType is the JSON type of a shape field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one expected output field.
type Field struct {
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Field    `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  []Field   `json:"properties,omitempty" yaml:"-"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Examples    []string  `json:"examples,omitempty" yaml:"examples,omitempty"`
}

type fieldAlias Field

// UnmarshalYAML accepts properties either as a list of named fields or as a
// map keyed by field name.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		fieldAlias `yaml:",inline"`
		Props      yaml.Node `yaml:"properties"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = Field(raw.fieldAlias)

	switch raw.Props.Kind {
	case yaml.MappingNode:
		var m map[string]Field
		if err := raw.Props.Decode(&m); err != nil {
			return err
		}
		f.Properties = fromMap(m)
	case yaml.SequenceNode:
		return raw.Props.Decode(&f.Properties)
	}
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML for JSON shape files.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw struct {
		fieldAlias
		Props json.RawMessage `json:"properties,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Field(raw.fieldAlias)
	f.Properties = nil

	if len(raw.Props) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Props, &f.Properties); err == nil {
		return nil
	}
	var m map[string]Field
	if err := json.Unmarshal(raw.Props, &m); err != nil {
		return err
	}
	f.Properties = fromMap(m)
	return nil
}

// fromMap names fields after their keys, sorted for stable prompts.
func fromMap(m map[string]Field) []Field {
	out := make([]Field, 0, len(m))
	for name, p := range m {
		p.Name = name
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
