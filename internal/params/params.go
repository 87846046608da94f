// Package params coerces caller supplied input into the typed parameters a
// component declares.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/domain"
)

// Decode returns the typed parameters for schema. Declared parameters are
// processed in order and the first failure is returned. Keys of raw that
// the schema does not declare are dropped.
func Decode(schema domain.ParameterSchema, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for _, p := range schema {
		value, ok := raw[p.Name]
		if !ok {
			if p.Mandatory {
				return nil, &domain.ParameterError{Name: p.Name, Expected: p.Type, Err: domain.ErrMissingParameter}
			}
			if p.HasDefault {
				out[p.Name] = p.Default
			}
			continue
		}
		typed, err := coerce(p.Type, value)
		if err != nil {
			return nil, &domain.ParameterError{Name: p.Name, Expected: p.Type, Err: domain.ErrInvalidParameterType}
		}
		out[p.Name] = typed
	}
	return out, nil
}

// ValidateSchema reports the first declaration with an unknown type or a
// default that is not already of its declared type.
func ValidateSchema(schema domain.ParameterSchema) error {
	for _, p := range schema {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("parameter name is required")
		}
		if !p.Type.Valid() {
			return fmt.Errorf("parameter %q has unsupported type %q", p.Name, p.Type)
		}
		if !p.HasDefault {
			continue
		}
		if !isType(p.Type, p.Default) {
			return fmt.Errorf("parameter %q default must be a %s", p.Name, p.Type)
		}
	}
	return nil
}

// FromQuery flattens query values, keeping the first value of each key.
func FromQuery(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		out[key] = vals[0]
	}
	return out
}

func coerce(t domain.PrimitiveType, value any) (any, error) {
	switch t {
	case domain.PrimitiveString:
		return toString(value)
	case domain.PrimitiveNumber:
		return toNumber(value)
	case domain.PrimitiveBoolean:
		return toBoolean(value)
	default:
		return nil, fmt.Errorf("unsupported type %q", t)
	}
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("cannot use %T as string", value)
	}
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return parseNumber(v.String())
	case string:
		return parseNumber(v)
	default:
		return 0, fmt.Errorf("cannot use %T as number", value)
	}
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "0x") || strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.Contains(s, "_") {
		return 0, fmt.Errorf("%q is not a base-10 number", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return finite(f)
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("number is not finite")
	}
	return f, nil
}

func toBoolean(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("cannot use %v as boolean", value)
}

func isType(t domain.PrimitiveType, value any) bool {
	switch t {
	case domain.PrimitiveString:
		_, ok := value.(string)
		return ok
	case domain.PrimitiveNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, uint64, json.Number:
			return true
		}
		return false
	case domain.PrimitiveBoolean:
		_, ok := value.(bool)
		return ok
	default:
		return false
	}
}
