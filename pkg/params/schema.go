// Package params implements schema-validated, immutable stage parameters.
//
// A Schema declares the recognised options of one stage. Schema.New turns a
// loosely typed map (as decoded from YAML, TOML or flags) into Params,
// rejecting unknown names, wrong types, out-of-range values and missing
// required options, and reporting every problem at once.
package params

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Type is the value type of a parameter field.
type Type int

const (
	Int Type = iota
	Float
	Bool
	String
	Enum
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Enum:
		return "enum"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Field declares one recognised option.
type Field struct {
	// Name is the option key
	Name string

	// Type is the value type
	Type Type

	// Default is used when the option is absent. A nil Default makes the
	// option required.
	Default any

	// Min and Max bound numeric options when non-nil (inclusive)
	Min, Max *float64

	// Enum lists the allowed values of an Enum option
	Enum []string

	// Doc is a one-line description shown by the CLI
	Doc string
}

// Bound returns a pointer to v, for use in Field.Min and Field.Max.
func Bound(v float64) *float64 {
	return &v
}

// Schema is the versioned table of options recognised by one stage.
type Schema struct {
	Stage   string
	Version int
	Fields  []Field
}

// Field returns the field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// New validates raw against the schema and returns immutable Params.
// Absent options with a default are filled in silently. On failure the
// returned error is an *InvalidParameterError listing every offending field.
func (s Schema) New(raw map[string]any) (Params, error) {
	values := make(map[string]any, len(s.Fields))
	var problems []FieldError

	known := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = true
	}
	unknown := make([]string, 0)
	for name := range raw {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		problems = append(problems, FieldError{Field: name, Reason: "unrecognized option"})
	}

	for _, f := range s.Fields {
		rawValue, present := raw[f.Name]
		if !present || rawValue == nil {
			if f.Default == nil {
				problems = append(problems, FieldError{Field: f.Name, Reason: "required option missing"})
				continue
			}
			rawValue = f.Default
		}

		value, err := f.coerce(rawValue)
		if err != nil {
			problems = append(problems, FieldError{Field: f.Name, Value: rawValue, Reason: err.Error()})
			continue
		}
		if err := f.check(value); err != nil {
			problems = append(problems, FieldError{Field: f.Name, Value: rawValue, Reason: err.Error()})
			continue
		}
		values[f.Name] = value
	}

	if len(problems) > 0 {
		return Params{}, &InvalidParameterError{Stage: s.Stage, Problems: problems}
	}
	return newParams(s.Stage, s.Version, values), nil
}

// Defaults returns the Params obtained from an empty option map.
func (s Schema) Defaults() (Params, error) {
	return s.New(nil)
}

// coerce converts decoded values into the canonical Go type of the field:
// int64 for Int, float64 for Float, bool and string otherwise.
func (f Field) coerce(v any) (any, error) {
	switch f.Type {
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			if n > math.MaxInt64 {
				return nil, fmt.Errorf("value %d overflows int", n)
			}
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
				return nil, fmt.Errorf("expected int, got non-integral %v", n)
			}
			return int64(n), nil
		}
	case Float:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) {
				return nil, fmt.Errorf("NaN is not allowed")
			}
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case String, Enum:
		if str, ok := v.(string); ok {
			return str, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", f.Type, v)
}

func (f Field) check(v any) error {
	switch f.Type {
	case Int, Float:
		var n float64
		if i, ok := v.(int64); ok {
			n = float64(i)
		} else {
			n = v.(float64)
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Errorf("value %v below minimum %v", v, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Errorf("value %v above maximum %v", v, *f.Max)
		}
	case Enum:
		str := v.(string)
		for _, allowed := range f.Enum {
			if str == allowed {
				return nil
			}
		}
		return fmt.Errorf("value %q not one of [%s]", str, strings.Join(f.Enum, ", "))
	case String:
		if strings.TrimSpace(v.(string)) == "" {
			return fmt.Errorf("empty string")
		}
	}
	return nil
}

// FieldError describes one invalid option.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e FieldError) String() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s=%v: %s", e.Field, e.Value, e.Reason)
}

// InvalidParameterError reports every invalid option of one stage.
type InvalidParameterError struct {
	Stage    string
	Problems []FieldError
}

func (e *InvalidParameterError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid parameters for stage %s: %s", e.Stage, strings.Join(parts, "; "))
}

// Fields returns the names of the offending options.
func (e *InvalidParameterError) Fields() []string {
	names := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		names[i] = p.Field
	}
	return names
}
