package llm

import "encoding/json"

// AskHumanToolName is the built-in tool the model uses to pause the run and
// request human input.
const AskHumanToolName = "ask_human"

// AskHumanArgs are the parsed arguments of an ask_human call.
type AskHumanArgs struct {
	Prompt    string `json:"prompt"`
	InputType string `json:"input_type,omitempty"` // text | password | confirmation
	Sensitive bool   `json:"sensitive,omitempty"`
}

// AskHumanSchema returns the tool schema for ask_human. Only prompt is
// required; input_type defaults to text.
func AskHumanSchema() ToolSchema {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "The question or request to present to the human",
			},
			"input_type": map[string]any{
				"type": "string",
				"enum": []string{"text", "password", "confirmation"},
			},
			"sensitive": map[string]any{
				"type": "boolean",
			},
		},
		"required": []string{"prompt"},
	}
	raw, _ := json.Marshal(params)
	return ToolSchema{
		Name:        AskHumanToolName,
		Description: "Pause the run and ask the human operator for input. Use this when you need information only the user can provide.",
		Parameters:  raw,
	}
}
