package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deltaengine/delta/internal/compose"
)

// Well-known files inside an agent directory.
const (
	configFile       = "config.yaml"
	hooksFile        = "hooks.yaml"
	contextFile      = "context.yaml"
	systemPromptFile = "system_prompt.md"
)

type rawConfig struct {
	Name             string              `yaml:"name"`
	Version          string              `yaml:"version"`
	LLM              LLMParams           `yaml:"llm"`
	MaxIterations    int                 `yaml:"max_iterations"`
	SystemPrompt     string              `yaml:"system_prompt"`
	SystemPromptFile string              `yaml:"system_prompt_file"`
	Imports          []string            `yaml:"imports"`
	Tools            []rawTool           `yaml:"tools"`
	Hooks            map[string]HookSpec `yaml:"hooks"`
}

// rawToolFile is an imported tool-definition file: tools plus further
// imports, resolved relative to the importing file.
type rawToolFile struct {
	Imports []string  `yaml:"imports"`
	Tools   []rawTool `yaml:"tools"`
}

// Load reads, merges, expands, and validates an agent definition. Any
// failure here is a configuration error: fatal at startup, before a run is
// created.
func Load(agentDir string) (*Agent, error) {
	home, err := filepath.Abs(agentDir)
	if err != nil {
		return nil, fmt.Errorf("resolve agent directory: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(home, configFile))
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}

	a := &Agent{
		Name:          raw.Name,
		Version:       raw.Version,
		Home:          home,
		LLM:           raw.LLM,
		MaxIterations: raw.MaxIterations,
		Hooks:         map[string]HookSpec{},
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = defaultMaxIterations
	}

	if a.SystemPrompt, err = resolveSystemPrompt(home, raw); err != nil {
		return nil, err
	}

	// Tools: inline definitions first, then imports in declaration order.
	rawTools := raw.Tools
	visited := map[string]bool{}
	for _, imp := range raw.Imports {
		imported, err := loadToolFile(home, imp, visited)
		if err != nil {
			return nil, err
		}
		rawTools = append(rawTools, imported...)
	}
	for _, rt := range rawTools {
		def, err := expandTool(rt)
		if err != nil {
			return nil, err
		}
		a.Tools = append(a.Tools, def)
	}

	// Hooks: config.yaml entries, overridden per-hook by hooks.yaml.
	for point, h := range raw.Hooks {
		a.Hooks[point] = h
	}
	if err := mergeHooksFile(home, a.Hooks); err != nil {
		return nil, err
	}

	if a.Manifest, err = loadManifest(home); err != nil {
		return nil, err
	}

	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func resolveSystemPrompt(home string, raw rawConfig) (string, error) {
	if raw.SystemPrompt != "" && raw.SystemPromptFile != "" {
		return "", fmt.Errorf("config sets both system_prompt and system_prompt_file")
	}
	if raw.SystemPrompt != "" {
		return raw.SystemPrompt, nil
	}
	file := raw.SystemPromptFile
	if file == "" {
		file = systemPromptFile
	}
	data, err := os.ReadFile(filepath.Join(home, file))
	if err != nil {
		if raw.SystemPromptFile == "" && os.IsNotExist(err) {
			return "", fmt.Errorf("agent has no system prompt: set system_prompt or add %s", systemPromptFile)
		}
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// loadToolFile reads an imported tool-definition file, following its own
// imports depth-first. A repeated file on the active path is an import
// cycle and fails the load.
func loadToolFile(baseDir, rel string, visited map[string]bool) ([]rawTool, error) {
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, rel)
	}
	path = filepath.Clean(path)
	if visited[path] {
		return nil, fmt.Errorf("import cycle via %s", path)
	}
	visited[path] = true
	defer delete(visited, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool import %s: %w", rel, err)
	}
	var tf rawToolFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tool import %s: %w", rel, err)
	}

	tools := tf.Tools
	for _, imp := range tf.Imports {
		nested, err := loadToolFile(filepath.Dir(path), imp, visited)
		if err != nil {
			return nil, err
		}
		tools = append(tools, nested...)
	}
	return tools, nil
}

func mergeHooksFile(home string, hooks map[string]HookSpec) error {
	data, err := os.ReadFile(filepath.Join(home, hooksFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", hooksFile, err)
	}
	var overrides map[string]HookSpec
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse %s: %w", hooksFile, err)
	}
	for point, h := range overrides {
		hooks[point] = h
	}
	return nil
}

func loadManifest(home string) (compose.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(home, contextFile))
	if os.IsNotExist(err) {
		return compose.DefaultManifest(), nil
	}
	if err != nil {
		return compose.Manifest{}, fmt.Errorf("read %s: %w", contextFile, err)
	}
	var m compose.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return compose.Manifest{}, fmt.Errorf("parse %s: %w", contextFile, err)
	}
	return m.Normalize()
}
