package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Artifacts are write-once: the store materializes the directory fully
// before the caller appends the journal event that references it, and no
// artifact is ever mutated after it is referenced.

// ToolExecutionRecord is the durable record of one tool child process.
type ToolExecutionRecord struct {
	Command    string
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
}

// InvocationUsage is the token usage reported by the provider for one call.
type InvocationUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// InvocationMeta is the metadata.json of one LLM invocation artifact.
type InvocationMeta struct {
	Model      string          `json:"model"`
	DurationMS int64           `json:"duration_ms"`
	Usage      InvocationUsage `json:"usage"`
}

// SaveLLMInvocation materializes io/invocations/<id>/ with the request
// actually sent, the raw response, and timing/usage metadata.
func (s *Store) SaveLLMInvocation(id string, request, response any, meta InvocationMeta) error {
	dir := filepath.Join(s.dir, "io", "invocations", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create invocation artifact %s: %w", id, err)
	}
	if err := writeJSON(filepath.Join(dir, "request.json"), request); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "response.json"), response); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "metadata.json"), meta)
}

// SaveToolExecution materializes io/tool_executions/<id>/ with the resolved
// command, captured streams, exit code, and wall-clock duration.
func (s *Store) SaveToolExecution(id string, rec ToolExecutionRecord) error {
	dir := filepath.Join(s.dir, "io", "tool_executions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tool-execution artifact %s: %w", id, err)
	}
	files := map[string]string{
		"command.txt":     rec.Command,
		"stdout.log":      rec.Stdout,
		"stderr.log":      rec.Stderr,
		"exit_code.txt":   strconv.Itoa(rec.ExitCode),
		"duration_ms.txt": strconv.FormatInt(rec.DurationMS, 10),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s for artifact %s: %w", name, id, err)
		}
	}
	return nil
}

// SetupHookInvocation creates io/hooks/<NNN>_<name>/ with the input files
// and empty output/ and execution_meta/ directories, and returns the
// directory path. The payload, when present, is written as payload.json if
// it is JSON and payload.dat otherwise.
func (s *Store) SetupHookInvocation(name string, hookCtx any, payload []byte) (string, error) {
	s.mu.Lock()
	s.hookSeq++
	step := s.hookSeq
	s.mu.Unlock()

	dir := filepath.Join(s.dir, "io", "hooks", fmt.Sprintf("%03d_%s", step, name))
	for _, sub := range []string{"input", "output", "execution_meta"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create hook artifact for %s: %w", name, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, "input", "context.json"), hookCtx); err != nil {
		return "", err
	}
	if payload != nil {
		target := filepath.Join(dir, "input", "payload.dat")
		if json.Valid(payload) {
			target = filepath.Join(dir, "input", "payload.json")
		}
		if err := os.WriteFile(target, payload, 0o644); err != nil {
			return "", fmt.Errorf("write hook payload for %s: %w", name, err)
		}
	}
	return dir, nil
}

// ListInvocationMeta reads every invocation artifact's metadata.json, for
// usage aggregation at run end.
func (s *Store) ListInvocationMeta() ([]InvocationMeta, error) {
	root := filepath.Join(s.dir, "io", "invocations")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan invocations: %w", err)
	}
	var metas []InvocationMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var m InvocationMeta
		if json.Unmarshal(data, &m) == nil {
			metas = append(metas, m)
		}
	}
	return metas, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
