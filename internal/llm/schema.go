package llm

import (
	"encoding/json"

	"github.com/deltaengine/delta/internal/tool"
)

// SchemaForTool generates the provider tool schema for an expanded tool
// definition. Every parameter is surfaced as a required string: values
// arrive from the model as strings and are injected into argv or stdin
// verbatim.
func SchemaForTool(def tool.Def) ToolSchema {
	properties := make(map[string]any, len(def.Parameters))
	required := make([]string, 0, len(def.Parameters))
	for _, p := range def.Parameters {
		prop := map[string]any{"type": "string"}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		required = append(required, p.Name)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return ToolSchema{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  raw,
	}
}
