// Package schema validates raw inbound payloads against named structural
// schemas declared in the sources file.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ErrUnknownSchema is returned when a payload names a schema that was never registered.
var ErrUnknownSchema = errors.New("unknown schema")

// Field types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Field is one node of a schema definition. The root of every schema is a
// Field of type object.
type Field struct {
	Type                 string            `yaml:"type"`
	Required             []string          `yaml:"required,omitempty"`
	Enum                 []any             `yaml:"enum,omitempty"`
	Min                  *float64          `yaml:"min,omitempty"`
	Max                  *float64          `yaml:"max,omitempty"`
	MinLength            *int              `yaml:"min_length,omitempty"`
	MaxLength            *int              `yaml:"max_length,omitempty"`
	Pattern              string            `yaml:"pattern,omitempty"`
	SafeText             bool              `yaml:"safe_text,omitempty"`
	Items                *Field            `yaml:"items,omitempty"`
	Properties           map[string]*Field `yaml:"properties,omitempty"`
	AdditionalProperties *bool             `yaml:"additional_properties,omitempty"`

	pattern *regexp.Regexp
}

// Violation is one structural problem found in a payload.
type Violation struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Result is the outcome of validating one payload.
type Result struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Validator holds compiled schemas by name. It is immutable after
// construction and safe for concurrent use.
type Validator struct {
	schemas map[string]*Field
}

// NewValidator compiles the given definitions. It fails on unknown types,
// bad regular expressions, or min/max pairs that can never be satisfied.
func NewValidator(defs map[string]*Field) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*Field, len(defs))}
	for name, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("schema %q: empty definition", name)
		}
		if def.Type == "" {
			def.Type = TypeObject
		}
		if err := compile(def, "$"); err != nil {
			return nil, fmt.Errorf("schema %q: %w", name, err)
		}
		v.schemas[name] = def
	}
	return v, nil
}

// Has reports whether a schema with this name is registered.
func (v *Validator) Has(name string) bool {
	_, ok := v.schemas[name]
	return ok
}

// Names returns registered schema names in sorted order.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compile(f *Field, path string) error {
	switch f.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject, TypeArray:
	default:
		return fmt.Errorf("%s: unknown type %q", path, f.Type)
	}

	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%s: min %v exceeds max %v", path, *f.Min, *f.Max)
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return fmt.Errorf("%s: min_length %d exceeds max_length %d", path, *f.MinLength, *f.MaxLength)
	}

	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid pattern: %w", path, err)
		}
		f.pattern = re
	}

	for _, req := range f.Required {
		if f.Type != TypeObject {
			return fmt.Errorf("%s: required is only valid on objects", path)
		}
		if _, ok := f.Properties[req]; !ok && f.AdditionalProperties != nil && !*f.AdditionalProperties {
			return fmt.Errorf("%s: required field %q is not a declared property", path, req)
		}
	}

	for name, prop := range f.Properties {
		if prop == nil {
			return fmt.Errorf("%s.%s: empty definition", path, name)
		}
		if err := compile(prop, path+"."+name); err != nil {
			return err
		}
	}

	if f.Items != nil {
		if err := compile(f.Items, path+"[]"); err != nil {
			return err
		}
	}
	return nil
}
