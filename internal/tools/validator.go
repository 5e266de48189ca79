package tools

import (
	"errors"
	"fmt"
)

// ValidateCall checks call arguments against the tool's schema before
// execution.
func ValidateCall(t Tool, args map[string]any) error {
	if t == nil {
		return errors.New("tool unavailable")
	}
	return validateAgainstSchema(t.Schema(), args)
}

func validateAgainstSchema(schema Schema, args map[string]any) error {
	for _, field := range schema.Parameters {
		val, exists := args[field.Name]
		if field.Required && !exists {
			return fmt.Errorf("%s is required", field.Name)
		}
		if !exists {
			continue
		}
		switch field.Type {
		case "string":
			if _, ok := val.(string); !ok {
				return fmt.Errorf("%s must be string", field.Name)
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("%s must be boolean", field.Name)
			}
		case "array":
			if _, ok := val.([]interface{}); !ok {
				return fmt.Errorf("%s must be array", field.Name)
			}
		case "integer", "number":
			switch val.(type) {
			case float64, int, int64:
			default:
				return fmt.Errorf("%s must be number", field.Name)
			}
		case "object":
			if _, ok := val.(map[string]any); !ok {
				return fmt.Errorf("%s must be object", field.Name)
			}
		}
		if len(field.Enum) > 0 {
			s, _ := val.(string)
			valid := false
			for _, allowed := range field.Enum {
				if s == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("%s must be one of %v", field.Name, field.Enum)
			}
		}
	}
	return nil
}
