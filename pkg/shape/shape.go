// Package shape describes the expected structure of an extraction result.
//
// Strategies treat a Shape as opaque and pass it through to providers. Only
// the LLM adapter (prompt rendering and structured output) and the agent
// finalizer (conformance check) look inside.
package shape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Shape is a named set of fields.
type Shape struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// New builds a shape from fields.
func New(name string, fields ...Field) *Shape {
	return &Shape{Name: name, Fields: fields}
}

// FromFile loads a shape from a JSON or YAML file.
func FromFile(path string) (*Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shape file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FromJSON(data)
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported shape file format: %s", ext)
	}
}

// FromJSON parses a shape from JSON.
func FromJSON(data []byte) (*Shape, error) {
	var s Shape
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse JSON shape: %w", err)
	}
	return &s, nil
}

// FromYAML parses a shape from YAML.
func FromYAML(data []byte) (*Shape, error) {
	var s Shape
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML shape: %w", err)
	}
	return &s, nil
}

// Of derives a shape from a struct type. Field names come from json tags,
// descriptions from `description` tags, and fields without omitempty are
// required.
func Of[T any]() (*Shape, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("shape must be derived from a struct type, got %v", t.Kind())
	}
	fields, err := structFields(t)
	if err != nil {
		return nil, err
	}
	return &Shape{Name: t.Name(), Fields: fields}, nil
}

// FieldNames returns the top-level field names in declaration order.
func (s *Shape) FieldNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

func structFields(t reflect.Type) ([]Field, error) {
	fields := make([]Field, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omit := jsonName(sf)
		if name == "-" {
			continue
		}
		f, err := typeField(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		f.Name = name
		f.Description = sf.Tag.Get("description")
		f.Required = !omit && sf.Type.Kind() != reflect.Pointer
		fields = append(fields, f)
	}
	return fields, nil
}

func typeField(t reflect.Type) (Field, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return Field{Type: TypeString}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Field{Type: TypeInteger}, nil
	case reflect.Float32, reflect.Float64:
		return Field{Type: TypeNumber}, nil
	case reflect.Bool:
		return Field{Type: TypeBoolean}, nil
	case reflect.Slice, reflect.Array:
		item, err := typeField(t.Elem())
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeArray, Items: &item}, nil
	case reflect.Struct:
		props, err := structFields(t)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeObject, Properties: props}, nil
	case reflect.Map:
		return Field{Type: TypeObject}, nil
	default:
		return Field{}, fmt.Errorf("unsupported type %v", t.Kind())
	}
}

func jsonName(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, strings.Contains(opts, "omitempty")
}
