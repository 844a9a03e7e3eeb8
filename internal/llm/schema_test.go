package llm_test

import (
	"encoding/json"
	"testing"

	"github.com/deltaengine/delta/internal/llm"
	"github.com/deltaengine/delta/internal/tool"
)

func TestSchemaForTool_AllParamsRequiredStrings(t *testing.T) {
	schema := llm.SchemaForTool(tool.Def{
		Name:        "read_file",
		Description: "Read a file",
		Command:     []string{"cat"},
		Parameters: []tool.Param{
			{Name: "path", Description: "file to read", InjectAs: tool.InjectArgument},
			{Name: "max_lines", InjectAs: tool.InjectOption, OptionName: "-n"},
		},
	})

	if schema.Name != "read_file" {
		t.Errorf("name = %q", schema.Name)
	}

	var parsed struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(schema.Parameters, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Type != "object" {
		t.Errorf("type = %q", parsed.Type)
	}
	if len(parsed.Required) != 2 {
		t.Errorf("required = %v, want both parameters", parsed.Required)
	}
	for name, prop := range parsed.Properties {
		if prop["type"] != "string" {
			t.Errorf("parameter %q type = %v, want string", name, prop["type"])
		}
	}
}

func TestAskHumanSchema_OnlyPromptRequired(t *testing.T) {
	schema := llm.AskHumanSchema()
	if schema.Name != llm.AskHumanToolName {
		t.Errorf("name = %q", schema.Name)
	}

	var parsed struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema.Parameters, &parsed); err != nil {
		t.Fatal(err)
	}
	if len(parsed.Required) != 1 || parsed.Required[0] != "prompt" {
		t.Errorf("required = %v, want [prompt]", parsed.Required)
	}
}
