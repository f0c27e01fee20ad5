// Package validate coerces dynamically-typed tool arguments (the
// JSON-ish values a host hands the dispatcher) into declared Go
// types, returning a typed error instead of raising across its API
// boundary.
package validate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/instructure-oss/canvas-mcp-server/internal/gwerr"
)

// Type is one of the declared coercion targets a parameter schema
// can name.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeList   Type = "list"
	TypeMap    Type = "map"
	TypeDate   Type = "date"
)

// Param describes one declared argument: its name, the raw value
// handed in by the caller, the declared type, whether it is
// required, and whether null is an acceptable value. A non-empty
// Variants declares a sum of acceptable types instead of Declared:
// each variant is tried in order and the first success wins.
type Param struct {
	Name     string
	Raw      any
	Declared Type
	Variants []Type
	Required bool
	Nullable bool
}

// Coerce converts p.Raw to p.Declared, returning a *gwerr.Error on
// failure. Coercion never partially succeeds: either the whole value
// converts cleanly or an error is returned.
func Coerce(p Param) (any, error) {
	if p.Raw == nil {
		if p.Required && !p.Nullable {
			return nil, missing(p.Name)
		}
		return nil, nil
	}

	if len(p.Variants) > 0 {
		return coerceOneOf(p)
	}

	switch p.Declared {
	case TypeString:
		return coerceString(p)
	case TypeInt:
		return coerceInt(p)
	case TypeFloat:
		return coerceFloat(p)
	case TypeBool:
		return coerceBool(p)
	case TypeList:
		return coerceList(p)
	case TypeMap:
		return coerceMap(p)
	case TypeDate:
		return coerceDate(p)
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: unknown declared type %q", p.Name, p.Declared))
	}
}

// CoerceAll validates every param and aggregates all failures into a
// single error when more than one parameter is invalid, per the
// "one validation error per offending parameter" rule.
func CoerceAll(params []Param) (map[string]any, error) {
	result := make(map[string]any, len(params))
	var failures []string

	for _, p := range params {
		v, err := Coerce(p)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		result[p.Name] = v
	}

	if len(failures) > 0 {
		return nil, gwerr.New(gwerr.Validation, strings.Join(failures, "; ")).
			WithDetail("failed_params", len(failures))
	}

	return result, nil
}

// coerceOneOf tries each variant in order, returning the first
// successful coercion; on total failure the per-variant errors are
// aggregated into one validation error.
func coerceOneOf(p Param) (any, error) {
	var failures []string
	for _, t := range p.Variants {
		v, err := Coerce(Param{Name: p.Name, Raw: p.Raw, Declared: t, Required: p.Required, Nullable: p.Nullable})
		if err == nil {
			return v, nil
		}
		failures = append(failures, err.Error())
	}
	return nil, gwerr.New(gwerr.Validation,
		fmt.Sprintf("%s: no variant matched: %s", p.Name, strings.Join(failures, "; ")))
}

func missing(name string) error {
	return gwerr.New(gwerr.Validation, fmt.Sprintf("%s: required parameter is missing", name)).
		WithSuggestion("supply a value for " + name)
}

func coerceString(p Param) (any, error) {
	switch v := p.Raw.(type) {
	case string:
		return v, nil
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v), nil
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: cannot stringify %T", p.Name, p.Raw))
	}
}

func coerceInt(p Param) (any, error) {
	switch v := p.Raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: empty string is not a valid int", p.Name))
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: %q is not a valid int", p.Name, v))
		}
		return n, nil
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: cannot coerce %T to int", p.Name, p.Raw))
	}
}

func coerceFloat(p Param) (any, error) {
	switch v := p.Raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: empty string is not a valid float", p.Name))
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: %q is not a valid float", p.Name, v))
		}
		return f, nil
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: cannot coerce %T to float", p.Name, p.Raw))
	}
}

var (
	boolTrue  = map[string]bool{"true": true, "yes": true, "1": true, "t": true, "y": true}
	boolFalse = map[string]bool{"false": true, "no": true, "0": true, "f": true, "n": true}
)

func coerceBool(p Param) (any, error) {
	switch v := p.Raw.(type) {
	case bool:
		return v, nil
	case string:
		lower := strings.ToLower(strings.TrimSpace(v))
		if boolTrue[lower] {
			return true, nil
		}
		if boolFalse[lower] {
			return false, nil
		}
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: %q is not a valid bool", p.Name, v))
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: cannot coerce %T to bool", p.Name, p.Raw))
	}
}

func coerceList(p Param) (any, error) {
	switch v := p.Raw.(type) {
	case []any:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		var decoded []any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]any, 0, len(parts))
		for _, part := range parts {
			out = append(out, strings.TrimSpace(part))
		}
		return out, nil
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: cannot coerce %T to list", p.Name, p.Raw))
	}
}

func coerceMap(p Param) (any, error) {
	switch v := p.Raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: not valid JSON object: %v", p.Name, err))
		}
		return decoded, nil
	default:
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: cannot coerce %T to map", p.Name, p.Raw))
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// coerceDate parses an ISO 8601 timestamp, assuming UTC when no
// timezone is present, per the downward interface's date convention.
func coerceDate(p Param) (any, error) {
	s, ok := p.Raw.(string)
	if !ok {
		return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: date must be a string, got %T", p.Name, p.Raw))
	}
	s = strings.TrimSpace(s)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Location() == time.UTC || layout != time.RFC3339 {
				return t.UTC(), nil
			}
			return t, nil
		}
	}

	return nil, gwerr.New(gwerr.Validation, fmt.Sprintf("%s: %q is not a valid ISO 8601 date", p.Name, s)).
		WithSuggestion("use YYYY-MM-DD or RFC3339 format")
}
