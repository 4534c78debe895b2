package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	perrors "peripheral/internal/errors"
	"peripheral/internal/textnorm"
)

// Kind is the type of a parameter.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindEnum    Kind = "enum"
)

// Param declares one operation parameter.
type Param struct {
	Name        string
	Description string
	Kind        Kind
	Required    bool
	Default     interface{}
	MinLen      int      // strings, in runes after whitespace cleanup
	MaxLen      int      // strings, 0 = unbounded
	Enum        []string // enum values, matched case-insensitively
	Cap         int      // integers: values above are clamped by the engine
}

// Args are validated, typed parameter values keyed by name.
type Args map[string]interface{}

// String returns a string argument, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument, or 0 when absent.
func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

// resolve validates raw against the declared params, filling defaults. Unknown
// argument names are returned so the caller can warn about them.
func resolve(params []Param, raw map[string]interface{}) (Args, []string, error) {
	args := make(Args, len(params))
	known := make(map[string]bool, len(params))

	for _, p := range params {
		known[p.Name] = true
		v, present := raw[p.Name]
		if present && isBlank(v) {
			present = false
		}
		if !present {
			if p.Required {
				return nil, nil, perrors.NewInvalidParameterError(p.Name, "is required")
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		val, err := coerce(p, v)
		if err != nil {
			return nil, nil, err
		}
		args[p.Name] = val
	}

	var unknown []string
	for name := range raw {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return args, unknown, nil
}

// isBlank treats null and whitespace-only strings as not supplied.
func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func coerce(p Param, v interface{}) (interface{}, error) {
	switch p.Kind {
	case KindInteger:
		n, ok := toInt(v)
		if !ok {
			return nil, perrors.NewInvalidParameterError(p.Name, "must be an integer")
		}
		return n, nil

	case KindEnum:
		s, ok := toString(v)
		if !ok {
			return nil, perrors.NewInvalidParameterError(p.Name, "must be a string")
		}
		folded := textnorm.Fold(s)
		for _, e := range p.Enum {
			if folded == e {
				return e, nil
			}
		}
		return nil, perrors.NewInvalidParameterError(p.Name, "must be one of "+strings.Join(p.Enum, ", "))

	default:
		s, ok := toString(v)
		if !ok {
			return nil, perrors.NewInvalidParameterError(p.Name, "must be a string")
		}
		s = textnorm.Clean(s)
		n := len([]rune(s))
		if (p.MinLen > 0 && n < p.MinLen) || (p.MaxLen > 0 && n > p.MaxLen) {
			return nil, perrors.NewInvalidParameterError(p.Name, lengthReason(p))
		}
		return s, nil
	}
}

func lengthReason(p Param) string {
	if p.MaxLen > 0 {
		return fmt.Sprintf("must be between %d and %d characters", p.MinLen, p.MaxLen)
	}
	return fmt.Sprintf("must be at least %d characters", p.MinLen)
}

// toInt accepts JSON numbers and numeric strings; fractional values are rejected.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// toString accepts strings and integral numbers, since numeric ids are common.
func toString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		if s != math.Trunc(s) {
			return "", false
		}
		return strconv.FormatInt(int64(s), 10), true
	case int:
		return strconv.Itoa(s), true
	default:
		return "", false
	}
}

// schema renders params as a JSON Schema object.
func schema(params []Param) map[string]interface{} {
	props := make(map[string]interface{}, len(params))
	required := []string{}
	for _, p := range params {
		prop := map[string]interface{}{}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		switch p.Kind {
		case KindInteger:
			prop["type"] = "integer"
			prop["minimum"] = 1
			if p.Cap > 0 {
				prop["description"] = fmt.Sprintf("%s (values above %d are clamped)", p.Description, p.Cap)
			}
		case KindEnum:
			prop["type"] = "string"
			prop["enum"] = p.Enum
		default:
			prop["type"] = "string"
			if p.MinLen > 0 {
				prop["minLength"] = p.MinLen
			}
			if p.MaxLen > 0 {
				prop["maxLength"] = p.MaxLen
			}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
