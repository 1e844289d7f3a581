// Package mcp implements the JSON-RPC 2.0 tool-calling dispatcher: the
// declarative tool schema and parameter validator, the request/response
// envelope, and the seven ssh_* tool handlers.
package mcp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sshmcp/sshmcp/internal/sshpool"
)

// ParamType is one of the JSON Schema primitive types a tool parameter
// may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// ParamSpec declaratively describes one tool parameter.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
	Enum        []any
	Minimum     *float64
	Maximum     *float64
	Pattern     string
}

// ToolSchema is the full declared parameter set for one tool.
type ToolSchema struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// JSONSchema renders the tool's parameters as a JSON Schema object, the
// shape advertised by the tools/list method.
func (t ToolSchema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(t.Params))
	var required []string

	for _, p := range t.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Validate applies the schema's parameter specs to raw argument values
// decoded from JSON. It returns a normalized argument map (defaults
// applied, types coerced) or a ToolError describing the first problem
// found.
//
// The algorithm, in order:
//  1. For each declared param, look up the raw value by name.
//  2. If absent and required, fail.
//  3. If absent and not required, apply Default (if any) and continue.
//  4. Coerce the raw value to the declared type, failing on mismatch.
//  5. Enforce enum membership if declared.
//  6. Enforce minimum/maximum if declared (numeric types only).
//  7. Enforce pattern if declared (string type only).
//
// After every declared param is processed, any raw key not matched by a
// ParamSpec is rejected as an unexpected parameter.
func (t ToolSchema) Validate(raw map[string]any) (map[string]any, *sshpool.Error) {
	out := make(map[string]any, len(t.Params))
	seen := make(map[string]bool, len(t.Params))

	for _, spec := range t.Params {
		seen[spec.Name] = true
		value, present := raw[spec.Name]

		if !present {
			if spec.Required {
				return nil, t.validationFail(
					fmt.Sprintf("Required parameter '%s'", spec.Name),
					map[string]any{"parameter": spec.Name},
				)
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}

		coerced, err := t.coerce(spec, value)
		if err != nil {
			return nil, err
		}

		if err := t.checkConstraints(spec, coerced); err != nil {
			return nil, err
		}

		out[spec.Name] = coerced
	}

	var unexpected []string
	for key := range raw {
		if !seen[key] {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		return nil, t.validationFail(
			fmt.Sprintf("Unexpected parameters: %s", strings.Join(unexpected, ", ")),
			map[string]any{"parameters": unexpected},
		)
	}

	return out, nil
}

// validationFail builds the error the Validator emits for a failed
// check. Per the dispatcher's error taxonomy, validation faults carry
// the ToolError code (-32000), distinguished from a handler's own
// domain failures only by the "details" field, not by a separate code.
func (t ToolSchema) validationFail(message string, data map[string]any) *sshpool.Error {
	merged := map[string]any{"details": message}
	for k, v := range data {
		merged[k] = v
	}
	return sshpool.NewToolError(t.Name, message, merged)
}

func (t ToolSchema) coerce(spec ParamSpec, value any) (any, *sshpool.Error) {
	switch spec.Type {
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		default:
			return nil, t.typeError(spec, value)
		}

	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, ok := parseBoolString(v)
			if !ok {
				return nil, t.typeError(spec, value)
			}
			return b, nil
		default:
			return nil, t.typeError(spec, value)
		}

	case TypeInteger:
		if _, isBool := value.(bool); isBool {
			// A JSON boolean must never satisfy an integer parameter,
			// even though Go's underlying numeric kinds would permit it.
			return nil, t.typeError(spec, value)
		}
		switch v := value.(type) {
		case float64:
			if v != float64(int64(v)) {
				return nil, t.typeError(spec, value)
			}
			return int(v), nil
		case int:
			return v, nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, t.typeError(spec, value)
			}
			return n, nil
		default:
			return nil, t.typeError(spec, value)
		}

	case TypeNumber:
		if _, isBool := value.(bool); isBool {
			return nil, t.typeError(spec, value)
		}
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, t.typeError(spec, value)
			}
			return f, nil
		default:
			return nil, t.typeError(spec, value)
		}

	case TypeObject:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return nil, t.typeError(spec, value)

	case TypeArray:
		if a, ok := value.([]any); ok {
			return a, nil
		}
		return nil, t.typeError(spec, value)

	default:
		return nil, sshpool.NewInternalError(fmt.Sprintf("unknown parameter type %q", spec.Type), nil)
	}
}

func parseBoolString(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func (t ToolSchema) typeError(spec ParamSpec, value any) *sshpool.Error {
	return t.validationFail(
		fmt.Sprintf("parameter %q must be of type %s, got %T", spec.Name, spec.Type, value),
		map[string]any{"parameter": spec.Name, "expected_type": string(spec.Type)},
	)
}

func (t ToolSchema) checkConstraints(spec ParamSpec, value any) *sshpool.Error {
	if len(spec.Enum) > 0 {
		matched := false
		for _, allowed := range spec.Enum {
			if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", value) {
				matched = true
				break
			}
		}
		if !matched {
			return t.validationFail(
				fmt.Sprintf("parameter %q must be one of %v", spec.Name, spec.Enum),
				map[string]any{"parameter": spec.Name, "allowed": spec.Enum},
			)
		}
	}

	if spec.Minimum != nil || spec.Maximum != nil {
		num, ok := toFloat(value)
		if ok {
			if spec.Minimum != nil && num < *spec.Minimum {
				return t.validationFail(
					fmt.Sprintf("parameter %q must be >= %v", spec.Name, *spec.Minimum),
					map[string]any{"parameter": spec.Name, "minimum": *spec.Minimum},
				)
			}
			if spec.Maximum != nil && num > *spec.Maximum {
				return t.validationFail(
					fmt.Sprintf("parameter %q must be <= %v", spec.Name, *spec.Maximum),
					map[string]any{"parameter": spec.Name, "maximum": *spec.Maximum},
				)
			}
		}
	}

	if spec.Pattern != "" {
		if s, ok := value.(string); ok {
			matched, err := regexp.MatchString(spec.Pattern, s)
			if err != nil || !matched {
				return t.validationFail(
					fmt.Sprintf("parameter %q does not match required pattern", spec.Name),
					map[string]any{"parameter": spec.Name, "pattern": spec.Pattern},
				)
			}
		}
	}

	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func floatPtr(f float64) *float64 {
	return &f
}
