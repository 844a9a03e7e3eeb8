package compose

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/config"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llm"
)

// Env is the run state a composition resolves against.
type Env struct {
	AgentHome string
	Workspace string
	RunID     string
	Store     *journal.Store
}

// Composer resolves manifests once per iteration.
type Composer struct {
	logger *zap.Logger
}

// NewComposer creates a composer. The logger may be nil.
func NewComposer(logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{logger: logger.Named("compose")}
}

// Compose resolves each source in declaration order and concatenates the
// per-source message lists. A file source failure (on_missing=error), a
// generator failure, or a generator timeout fails the whole composition:
// the LLM request cannot be built without its declared context.
func (c *Composer) Compose(ctx context.Context, m Manifest, env Env) ([]llm.Message, error) {
	var messages []llm.Message
	for i, src := range m.Sources {
		var (
			part []llm.Message
			err  error
		)
		switch src.Type {
		case SourceFile:
			part, err = c.resolveFile(src, env)
		case SourceComputedFile:
			part, err = c.resolveComputedFile(ctx, src, env)
		case SourceJournal:
			part, err = c.resolveJournal(src, env)
		default:
			err = fmt.Errorf("unknown source type %q", src.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("context source %d (%s): %w", i, src.Type, err)
		}
		messages = append(messages, part...)
	}
	return messages, nil
}

func (c *Composer) resolveFile(src Source, env Env) ([]llm.Message, error) {
	path := expandVars(src.Path, env)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && src.OnMissing == OnMissingSkip {
			c.logger.Debug("skipping missing context file", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return []llm.Message{{Role: llm.RoleSystem, Content: string(data)}}, nil
}

func (c *Composer) resolveComputedFile(ctx context.Context, src Source, env Env) ([]llm.Message, error) {
	timeout := time.Duration(src.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultGeneratorTimeoutMS * time.Millisecond
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := make([]string, len(src.Command))
	for i, a := range src.Command {
		argv[i] = expandVars(a, env)
	}
	cmd := exec.CommandContext(genCtx, argv[0], argv[1:]...)
	cmd.Dir = env.Workspace
	cmd.Env = append(os.Environ(), config.EnvKeyRunID+"="+env.RunID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if genCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("generator %q timed out after %v", argv[0], timeout)
		}
		return nil, fmt.Errorf("generator %q failed: %w (stderr: %s)", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	c.logger.Debug("generator completed",
		zap.String("command", argv[0]),
		zap.Duration("duration", time.Since(start)))

	outPath := expandVars(src.OutputPath, env)
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("generator %q did not produce %s: %w", argv[0], outPath, err)
	}
	return []llm.Message{{Role: llm.RoleSystem, Content: string(data)}}, nil
}

func (c *Composer) resolveJournal(src Source, env Env) ([]llm.Message, error) {
	events, err := env.Store.ReadJournal()
	if err != nil {
		return nil, err
	}
	messages := ReconstructMessages(events)
	if src.MaxIterations > 0 {
		messages = trimToLastIterations(messages, src.MaxIterations)
	}
	return messages, nil
}

// expandVars resolves ${AGENT_HOME} and ${CWD} in manifest strings. CWD is
// the workspace data-plane root, not the engine's own working directory.
func expandVars(s string, env Env) string {
	s = strings.ReplaceAll(s, "${AGENT_HOME}", env.AgentHome)
	s = strings.ReplaceAll(s, "${CWD}", env.Workspace)
	return s
}

// ReconstructMessages rebuilds the conversation from journal events. The
// mapping is deterministic: the same journal always yields the same message
// sequence.
//
//	USER_MESSAGE  -> user
//	THOUGHT       -> assistant (tool_calls passed through verbatim)
//	ACTION_RESULT -> tool, correlated by action_id
//
// All other event types are engine bookkeeping and are skipped.
func ReconstructMessages(events []journal.Event) []llm.Message {
	var messages []llm.Message
	for _, ev := range events {
		switch ev.Type {
		case journal.EventUserMessage:
			var p journal.UserMessagePayload
			if journal.DecodePayload(ev, &p) != nil {
				continue
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: p.Content})
		case journal.EventThought:
			var p journal.ThoughtPayload
			if journal.DecodePayload(ev, &p) != nil {
				continue
			}
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   p.Content,
				ToolCalls: p.ToolCalls,
			})
		case journal.EventActionResult:
			var p journal.ActionResultPayload
			if journal.DecodePayload(ev, &p) != nil {
				continue
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    p.ObservationContent,
				ToolCallID: p.ActionID,
			})
		}
	}
	return messages
}

// trimToLastIterations keeps the last n assistant messages and everything
// after the first of them, so assistant/tool pairs stay intact. Earlier
// user messages are dropped together with their turns.
func trimToLastIterations(messages []llm.Message, n int) []llm.Message {
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant {
			count++
			if count == n {
				return messages[i:]
			}
		}
	}
	return messages
}
