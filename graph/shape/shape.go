// Package shape validates structured model replies.
//
// A Shape names the fields a reply must carry and the semantic rules that
// tie them together. Check turns a raw reply into Values or a *Rejection,
// and the Text and Struct constructors adapt shapes to graph.Validator so
// they plug straight into graph.Invoke.
//
// Everything in this package is pure: no I/O, no clocks, no shared state.
package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRejected is matched by every *Rejection.
var ErrRejected = errors.New("reply rejected")

// Kind is the JSON type of a field.
type Kind int

const (
	String Kind = iota
	Bool
	Number
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	default:
		return "unknown"
	}
}

// Field describes one member of the reply object.
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string

	// Enum, when set, restricts a String field to these values.
	Enum []string
}

// Rule is a semantic constraint evaluated after every field type-checks.
// Check returns a non-empty reason to reject.
type Rule struct {
	// Field is reported in the Rejection.
	Field string
	Check func(v Values) string
}

// Shape is the expected form of a structured reply.
type Shape struct {
	Name   string
	Fields []Field
	Rules  []Rule
}

// Rejection explains why a reply was not accepted.
type Rejection struct {
	Shape  string
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("%s reply rejected: %s", r.Shape, r.Reason)
	}
	return fmt.Sprintf("%s reply rejected: field %q %s", r.Shape, r.Field, r.Reason)
}

// Is makes every Rejection match ErrRejected.
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Values is an accepted reply. Optional fields that were absent or null
// are missing from the map.
type Values map[string]interface{}

// String returns a string field, or "" when absent.
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Bool returns a boolean field, or false when absent.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// Has reports whether name is present.
func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Check parses raw and validates it against the shape.
//
// Markdown code fences and text around the outermost JSON object are
// tolerated. Unknown fields are kept.
func (s Shape) Check(raw string) (Values, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, s.reject("", "no JSON object in reply")
	}

	var values Values
	if err := json.Unmarshal([]byte(body), &values); err != nil {
		return nil, s.reject("", "invalid JSON: "+err.Error())
	}

	for _, f := range s.Fields {
		value, present := values[f.Name]
		if !present || value == nil {
			if f.Required {
				if present {
					return nil, s.reject(f.Name, "is null")
				}
				return nil, s.reject(f.Name, "is missing")
			}
			delete(values, f.Name)
			continue
		}
		if reason := f.checkKind(value); reason != "" {
			return nil, s.reject(f.Name, reason)
		}
	}

	for _, rule := range s.Rules {
		if reason := rule.Check(values); reason != "" {
			return nil, s.reject(rule.Field, reason)
		}
	}
	return values, nil
}

func (f Field) checkKind(value interface{}) string {
	switch f.Kind {
	case String:
		str, ok := value.(string)
		if !ok {
			return fmt.Sprintf("must be a string, got %s", jsonKind(value))
		}
		if len(f.Enum) > 0 && !contains(f.Enum, str) {
			return fmt.Sprintf("must be one of %s", strings.Join(f.Enum, ", "))
		}
	case Bool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("must be a boolean, got %s", jsonKind(value))
		}
	case Number:
		if _, ok := value.(float64); !ok {
			return fmt.Sprintf("must be a number, got %s", jsonKind(value))
		}
	}
	return ""
}

func (s Shape) reject(field, reason string) *Rejection {
	return &Rejection{Shape: s.Name, Field: field, Reason: reason}
}

// Schema renders the shape as a JSON-schema object for providers that can
// constrain their output.
func (s Shape) Schema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		prop := map[string]interface{}{"type": f.Kind.String()}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = append([]string(nil), f.Enum...)
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Describe lists the fields one per line, for prompts.
func (s Shape) Describe() string {
	var b strings.Builder
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "- %q (%s", f.Name, f.Kind)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " One of: %s.", strings.Join(f.Enum, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RequiredWhen rejects a reply whose flag is true while field is blank.
func RequiredWhen(field, flag string) Rule {
	return Rule{
		Field: field,
		Check: func(v Values) string {
			if v.Bool(flag) && strings.TrimSpace(v.String(field)) == "" {
				return fmt.Sprintf("must be non-empty when %s is true", flag)
			}
			return ""
		},
	}
}

// extractObject strips code fences and returns the outermost {...} span.
func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func jsonKind(value interface{}) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
