// Package schema validates decoded LLM payloads against a declarative
// response-shape contract. Validation either produces a normalized,
// schema-shaped value or a list of error paths; it never panics on
// arbitrary input.
package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type enumerates the supported schema node kinds.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
)

// Node is one node of the response-shape contract.
type Node struct {
	Type       Type
	Required   []string
	Properties map[string]*Node
	Items      *Node
	MinItems   *int
	MaxItems   *int
	Enum       []string
	Min        *float64
	Max        *float64
}

// Object builds an object node.
func Object(required []string, properties map[string]*Node) *Node {
	return &Node{Type: TypeObject, Required: required, Properties: properties}
}

// Array builds an array node with exact-count bounds when min == max.
func Array(items *Node, minItems, maxItems int) *Node {
	n := &Node{Type: TypeArray, Items: items}
	if minItems >= 0 {
		n.MinItems = &minItems
	}
	if maxItems >= 0 {
		n.MaxItems = &maxItems
	}
	return n
}

// String builds a string node, optionally constrained to an enum.
func String(enum ...string) *Node {
	return &Node{Type: TypeString, Enum: enum}
}

// Integer builds an integer node with inclusive bounds.
func Integer(min, max *float64) *Node {
	return &Node{Type: TypeInteger, Min: min, Max: max}
}

// Number builds a number node with inclusive bounds.
func Number(min, max *float64) *Node {
	return &Node{Type: TypeNumber, Min: min, Max: max}
}

// Bound is a convenience for taking the address of a literal bound.
func Bound(v float64) *float64 { return &v }

// Validate walks value against the schema. The returned value is normalized
// to the schema's shape (unknown object fields dropped, numeric strings
// coerced). A non-empty error list means validation failed.
func Validate(value any, n *Node) (any, []string) {
	var errs []string
	normalized := validateNode(value, n, "$", &errs)
	return normalized, errs
}

func validateNode(value any, n *Node, path string, errs *[]string) any {
	if n == nil {
		return value
	}
	switch n.Type {
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, path+" expected object")
			return map[string]any{}
		}
		result := make(map[string]any, len(n.Properties))
		for _, key := range n.Required {
			if _, present := obj[key]; !present {
				*errs = append(*errs, path+"."+key+" is required")
			}
		}
		for key, prop := range n.Properties {
			if raw, present := obj[key]; present {
				result[key] = validateNode(raw, prop, path+"."+key, errs)
			}
		}
		return result
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			*errs = append(*errs, path+" expected array")
			return []any{}
		}
		if n.MinItems != nil && len(arr) < *n.MinItems {
			*errs = append(*errs, fmt.Sprintf("%s expected at least %d items", path, *n.MinItems))
		}
		if n.MaxItems != nil && len(arr) > *n.MaxItems {
			*errs = append(*errs, fmt.Sprintf("%s expected at most %d items", path, *n.MaxItems))
		}
		result := make([]any, 0, len(arr))
		for i, item := range arr {
			result = append(result, validateNode(item, n.Items, fmt.Sprintf("%s[%d]", path, i), errs))
		}
		return result
	case TypeString:
		s, ok := value.(string)
		if !ok {
			*errs = append(*errs, path+" expected string")
			return ""
		}
		if len(n.Enum) > 0 && !contains(n.Enum, s) {
			*errs = append(*errs, fmt.Sprintf("%s must be one of %v", path, n.Enum))
		}
		return s
	case TypeInteger:
		f, ok := coerceNumber(value, path, errs)
		if !ok {
			return 0
		}
		i := int(math.Round(f))
		checkBounds(float64(i), n, path, errs)
		return i
	case TypeNumber:
		f, ok := coerceNumber(value, path, errs)
		if !ok {
			return 0.0
		}
		checkBounds(f, n, path, errs)
		return f
	default:
		return value
	}
}

// coerceNumber accepts JSON numbers and numeric-looking strings. Booleans
// are rejected: encoding/json never decodes them as numbers, and a model
// answering true/false where a score belongs is a contract violation.
func coerceNumber(value any, path string, errs *[]string) (float64, bool) {
	switch v := value.(type) {
	case bool:
		*errs = append(*errs, path+" expected number, got bool")
		return 0, false
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			*errs = append(*errs, path+" expected number, got string")
			return 0, false
		}
		return f, true
	default:
		*errs = append(*errs, path+" expected number")
		return 0, false
	}
}

func checkBounds(v float64, n *Node, path string, errs *[]string) {
	if n.Min != nil && v < *n.Min {
		*errs = append(*errs, fmt.Sprintf("%s must be >= %v", path, *n.Min))
	}
	if n.Max != nil && v > *n.Max {
		*errs = append(*errs, fmt.Sprintf("%s must be <= %v", path, *n.Max))
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
