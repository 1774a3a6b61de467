package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/farmer-power/collection-engine/pkg/logging"
	"github.com/farmer-power/collection-engine/pkg/sql"
)

const maxActualLength = 64

// Validate checks payload against the named schema. The returned error is
// non-nil only when the schema itself is unknown; structural problems in
// the payload are reported as violations. Violations are sorted by path.
func (v *Validator) Validate(name string, payload []byte) (Result, error) {
	def, ok := v.schemas[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}

	value, err := decode(payload)
	if err != nil {
		return Result{
			Violations: []Violation{{Path: "$", Expected: "valid JSON", Actual: err.Error()}},
		}, nil
	}

	var c checker
	c.check(def, value, "$")

	sort.SliceStable(c.violations, func(i, j int) bool {
		if c.violations[i].Path != c.violations[j].Path {
			return c.violations[i].Path < c.violations[j].Path
		}
		return c.violations[i].Expected < c.violations[j].Expected
	})

	return Result{Passed: len(c.violations) == 0, Violations: c.violations}, nil
}

// Decode parses a payload the way Validate sees it: numbers are kept as
// json.Number so integers survive without float rounding.
func Decode(payload []byte) (any, error) {
	return decode(payload)
}

func decode(payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errors.New("empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}

type checker struct {
	violations []Violation
}

func (c *checker) add(path, expected, actual string) {
	c.violations = append(c.violations, Violation{Path: path, Expected: expected, Actual: actual})
}

func (c *checker) check(f *Field, value any, path string) {
	if !typeMatches(f.Type, value) {
		c.add(path, "type "+f.Type, describe(value))
		return
	}

	if len(f.Enum) > 0 && !enumContains(f.Enum, value) {
		c.add(path, "one of "+formatEnum(f.Enum), describe(value))
	}

	switch t := value.(type) {
	case string:
		c.checkString(f, t, path)
	case json.Number:
		c.checkNumber(f, t, path)
	case map[string]any:
		c.checkObject(f, t, path)
	case []any:
		c.checkArray(f, t, path)
	}
}

func (c *checker) checkString(f *Field, s, path string) {
	n := utf8.RuneCountInString(s)
	if f.MinLength != nil && n < *f.MinLength {
		c.add(path, fmt.Sprintf("length >= %d", *f.MinLength), fmt.Sprintf("length %d", n))
	}
	if f.MaxLength != nil && n > *f.MaxLength {
		c.add(path, fmt.Sprintf("length <= %d", *f.MaxLength), fmt.Sprintf("length %d", n))
	}
	if f.pattern != nil && !f.pattern.MatchString(s) {
		c.add(path, "match "+f.Pattern, describe(s))
	}
	if f.SafeText {
		if res := sql.CheckParameterForInjection(path, s); res != nil {
			actual := res.Class + " pattern"
			if res.Fingerprint != "" {
				actual += " (" + res.Fingerprint + ")"
			}
			c.add(path, "safe text", actual)
		}
	}
}

func (c *checker) checkNumber(f *Field, n json.Number, path string) {
	if f.Min == nil && f.Max == nil {
		return
	}
	x, err := n.Float64()
	if err != nil {
		c.add(path, "finite number", describe(n))
		return
	}
	if f.Min != nil && x < *f.Min {
		c.add(path, ">= "+formatFloat(*f.Min), n.String())
	}
	if f.Max != nil && x > *f.Max {
		c.add(path, "<= "+formatFloat(*f.Max), n.String())
	}
}

func (c *checker) checkObject(f *Field, obj map[string]any, path string) {
	for _, req := range f.Required {
		if _, ok := obj[req]; !ok {
			c.add(path+"."+req, "required", "missing")
		}
	}

	for key, val := range obj {
		prop, declared := f.Properties[key]
		if declared {
			c.check(prop, val, path+"."+key)
			continue
		}
		if f.AdditionalProperties != nil && !*f.AdditionalProperties {
			c.add(path+"."+key, "no additional properties", "unexpected field")
		}
	}
}

func (c *checker) checkArray(f *Field, items []any, path string) {
	if f.MinLength != nil && len(items) < *f.MinLength {
		c.add(path, fmt.Sprintf("at least %d items", *f.MinLength), fmt.Sprintf("%d items", len(items)))
	}
	if f.MaxLength != nil && len(items) > *f.MaxLength {
		c.add(path, fmt.Sprintf("at most %d items", *f.MaxLength), fmt.Sprintf("%d items", len(items)))
	}
	if f.Items == nil {
		return
	}
	for i, item := range items {
		c.check(f.Items, item, fmt.Sprintf("%s[%d]", path, i))
	}
}

func typeMatches(want string, value any) bool {
	switch want {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := value.(json.Number)
		return ok
	case TypeInteger:
		n, ok := value.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Int64(); err == nil {
			return true
		}
		x, err := n.Float64()
		return err == nil && x == math.Trunc(x)
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	}
	return false
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

// describe renders a value for a violation's Actual field.
func describe(value any) string {
	switch t := value.(type) {
	case nil:
		return "null"
	case string:
		return "string " + logging.TruncateString(strconv.Quote(t), maxActualLength)
	case json.Number:
		return "number " + t.String()
	case bool:
		return "boolean " + strconv.FormatBool(t)
	}
	return typeName(value)
}

// enumContains compares a JSON value against YAML-declared enum members.
// Numbers compare by value, so an enum of 1 matches 1.0.
func enumContains(enum []any, value any) bool {
	for _, member := range enum {
		switch v := value.(type) {
		case string:
			if s, ok := member.(string); ok && s == v {
				return true
			}
		case bool:
			if b, ok := member.(bool); ok && b == v {
				return true
			}
		case json.Number:
			x, err := v.Float64()
			if err != nil {
				continue
			}
			if m, ok := toFloat(member); ok && m == x {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, m := range enum {
		parts[i] = fmt.Sprint(m)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
