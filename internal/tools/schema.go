package tools

import "github.com/loomworks/loom/internal/llm"

// Schema describes a tool for JSON schema/tool-calling.
type Schema struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  []SchemaField `json:"parameters"`
}

// SchemaField describes a single parameter.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolSpec converts the descriptor into the provider-level form with
// JSON Schema parameters.
func (s Schema) ToolSpec() llm.ToolSpec {
	properties := make(map[string]any, len(s.Parameters))
	required := make([]string, 0, len(s.Parameters))
	for _, field := range s.Parameters {
		prop := map[string]any{"type": jsonSchemaType(field.Type)}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		if len(field.Enum) > 0 {
			prop["enum"] = field.Enum
		}
		if field.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		properties[field.Name] = prop
		if field.Required {
			required = append(required, field.Name)
		}
	}

	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}

	return llm.ToolSpec{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  params,
	}
}

// ToolSpecs converts every registered tool's schema for a model request.
func ToolSpecs(reg *Registry) []llm.ToolSpec {
	schemas := reg.Schemas()
	out := make([]llm.ToolSpec, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s.ToolSpec())
	}
	return out
}

func jsonSchemaType(t string) string {
	switch t {
	case "boolean", "integer", "number", "array", "object":
		return t
	default:
		return "string"
	}
}
