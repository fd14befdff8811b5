// Package schema implements the lightweight JSON-Schema subset used to
// describe and validate tool parameters. Only the shape actually consumed by
// the registry and resolver is supported: object schemas with typed
// properties, required lists and enums.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports a single field that failed validation.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Property describes one parameter in an object schema.
type Property struct {
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Items       string   `json:"items,omitempty" yaml:"items,omitempty"` // element type for arrays
}

// Validate checks params against an object schema expressed as properties,
// required names and optional names. It returns all failing fields so a
// retry prompt can enumerate them, or nil when the params satisfy the schema.
func Validate(params map[string]any, properties map[string]Property, required []string) []*ValidationError {
	var errs []*ValidationError

	for _, name := range required {
		v, ok := params[name]
		if !ok || v == nil {
			errs = append(errs, &ValidationError{Field: name, Message: "required field is missing"})
		}
	}

	for name, value := range params {
		prop, ok := properties[name]
		if !ok {
			continue // extra fields are tolerated
		}
		if value == nil {
			continue
		}
		if !MatchesType(value, prop.Type) {
			errs = append(errs, &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", prop.Type, value),
			})
			continue
		}
		if len(prop.Enum) > 0 {
			if s, ok := value.(string); ok && !containsString(prop.Enum, s) {
				errs = append(errs, &ValidationError{
					Field:   name,
					Value:   value,
					Message: fmt.Sprintf("value %q not in enum [%s]", s, strings.Join(prop.Enum, ", ")),
				})
			}
		}
	}

	return errs
}

// MatchesType reports whether a value conforms to a JSON schema type name.
// JSON unmarshaling yields float64 for all numbers, so integer accepts
// float64 values without a fractional part.
func MatchesType(value any, expected string) bool {
	if value == nil {
		return true
	}

	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		if _, ok := value.([]any); ok {
			return true
		}
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true // unknown types are assumed valid
	}
}

// JSONType returns the JSON schema type name for a Go type.
func JSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return JSONType(t.Elem())
	default:
		return "string"
	}
}

// PropertiesFromStruct derives a property map and required list from a Go
// struct using reflection. Fields tagged `json:"-"` are skipped; fields with
// omitempty or pointer types become optional.
func PropertiesFromStruct(structType any) (map[string]Property, []string) {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	properties := map[string]Property{}
	var required []string
	if t.Kind() != reflect.Struct {
		return properties, required
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		if jsonTag != "" {
			if parts := strings.Split(jsonTag, ","); parts[0] != "" {
				name = parts[0]
			}
		}
		prop := Property{Type: JSONType(field.Type)}
		if d := field.Tag.Get("description"); d != "" {
			prop.Description = d
		}
		if e := field.Tag.Get("enum"); e != "" {
			prop.Enum = strings.Split(e, ",")
		}
		properties[name] = prop
		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	return properties, required
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
