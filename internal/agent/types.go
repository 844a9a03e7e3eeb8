// Package agent loads and validates agent definitions: the YAML config,
// the system prompt, imported tool-definition files, lifecycle hooks, and
// the optional context manifest. Loading expands the exec:/shell: tool
// sugars into the internal command+parameters form, so downstream
// components only ever see expanded definitions.
package agent

import (
	"fmt"

	"github.com/deltaengine/delta/internal/compose"
	"github.com/deltaengine/delta/internal/tool"
)

// Lifecycle hook points.
const (
	HookPreLLMReq    = "pre_llm_req"
	HookPostLLMResp  = "post_llm_resp"
	HookPreToolExec  = "pre_tool_exec"
	HookPostToolExec = "post_tool_exec"
	HookOnError      = "on_error"
	HookOnRunEnd     = "on_run_end"
)

var hookPoints = map[string]bool{
	HookPreLLMReq:    true,
	HookPostLLMResp:  true,
	HookPreToolExec:  true,
	HookPostToolExec: true,
	HookOnError:      true,
	HookOnRunEnd:     true,
}

// defaultMaxIterations bounds the TAO loop when the config is silent.
const defaultMaxIterations = 30

// HookSpec is one lifecycle hook command.
type HookSpec struct {
	Command   []string `yaml:"command"`
	TimeoutMS int      `yaml:"timeout_ms"`
}

// LLMParams are the model parameters of the agent.
type LLMParams struct {
	Model            string   `yaml:"model"`
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"top_p"`
	MaxTokens        int      `yaml:"max_tokens"`
	FrequencyPenalty *float32 `yaml:"frequency_penalty"`
	PresencePenalty  *float32 `yaml:"presence_penalty"`
}

// Agent is the immutable, fully expanded agent definition for one run.
type Agent struct {
	Name          string
	Version       string
	Home          string // agent definition directory, absolute
	SystemPrompt  string
	LLM           LLMParams
	MaxIterations int
	Tools         []tool.Def
	Hooks         map[string]HookSpec
	Manifest      compose.Manifest
}

// FindTool returns the expanded definition for a tool name.
func (a *Agent) FindTool(name string) (tool.Def, bool) {
	for _, d := range a.Tools {
		if d.Name == name {
			return d, true
		}
	}
	return tool.Def{}, false
}

// Hook returns the HookSpec for a lifecycle point, if configured.
func (a *Agent) Hook(point string) (HookSpec, bool) {
	h, ok := a.Hooks[point]
	return h, ok
}

func (a *Agent) validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent has no name")
	}
	if a.LLM.Model == "" {
		return fmt.Errorf("agent %q: llm.model is required", a.Name)
	}
	seen := map[string]bool{}
	for _, d := range a.Tools {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate tool %q", d.Name)
		}
		seen[d.Name] = true
	}
	for point, h := range a.Hooks {
		if !hookPoints[point] {
			return fmt.Errorf("unknown hook point %q", point)
		}
		if len(h.Command) == 0 {
			return fmt.Errorf("hook %q has an empty command", point)
		}
	}
	return nil
}
