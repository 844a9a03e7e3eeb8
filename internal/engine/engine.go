// Package engine drives the Think-Act-Observe loop for one run. The engine
// is stateless: it rebuilds its working conversation from the journal on
// every iteration and mutates no durable state except through the run
// store, so any crash, signal, or external continuation can resume purely
// from the journal.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/compose"
	"github.com/deltaengine/delta/internal/hook"
	"github.com/deltaengine/delta/internal/interaction"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llm"
	"github.com/deltaengine/delta/internal/run"
	"github.com/deltaengine/delta/internal/tool"
)

// maxIterationsResponse is the deterministic final response when the loop
// exhausts its iteration budget without a tool-free reply.
const maxIterationsResponse = "Maximum iterations reached. Task may be incomplete."

// defaultCompletionResponse stands in when the model finishes with neither
// tool calls nor content.
const defaultCompletionResponse = "Task completed."

// Options configures an engine for one run.
type Options struct {
	Agent         *agent.Agent
	Store         *journal.Store
	Workspace     string
	Client        llm.Client
	Logger        *zap.Logger
	Interactive   bool
	MaxIterations int // overrides the agent's setting when > 0
}

// Outcome is the terminal state of one engine invocation.
type Outcome struct {
	Status        run.Status
	FinalResponse string
	Interaction   *interaction.Request // set when Status is WAITING_FOR_INPUT
	Err           error                // cause when Status is FAILED
}

// Engine executes the TAO loop against a run store.
type Engine struct {
	agent         *agent.Agent
	store         *journal.Store
	workspace     string
	client        llm.Client
	composer      *compose.Composer
	tools         *tool.Executor
	hooks         *hook.Executor
	logger        *zap.Logger
	interactive   bool
	maxIterations int
}

// New assembles an engine from options.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = opts.Agent.MaxIterations
	}
	return &Engine{
		agent:         opts.Agent,
		store:         opts.Store,
		workspace:     opts.Workspace,
		client:        opts.Client,
		composer:      compose.NewComposer(logger),
		tools:         tool.NewExecutor(opts.Workspace),
		hooks:         hook.NewExecutor(opts.Store, opts.Workspace, logger),
		logger:        logger.Named("engine"),
		interactive:   opts.Interactive,
		maxIterations: maxIter,
	}
}

// Run executes the loop until completion, pause, failure, or interruption.
// A non-empty task is journaled as a USER_MESSAGE; on a fresh run it is
// preceded by RUN_START. Run never panics across the store: every exit
// path flushes it, and the caller closes it.
func (e *Engine) Run(ctx context.Context, task string) Outcome {
	defer e.store.Flush()

	outcome := e.run(ctx, task)

	switch outcome.Status {
	case run.StatusCompleted, run.StatusFailed:
		e.runEndHook(ctx, outcome)
	}
	return outcome
}

func (e *Engine) run(ctx context.Context, task string) Outcome {
	events, err := e.store.ReadJournal()
	if err != nil {
		return e.fail(ctx, err)
	}
	fresh := len(events) == 0
	if fresh {
		if _, err := e.store.AppendEvent(journal.EventRunStart, journal.RunStartPayload{
			Task:     task,
			AgentRef: e.agent.Home,
		}); err != nil {
			return e.fail(ctx, err)
		}
		if task != "" {
			if _, err := e.store.AppendEvent(journal.EventUserMessage, journal.UserMessagePayload{Content: task}); err != nil {
				return e.fail(ctx, err)
			}
		}
	}
	if err := e.setStatus(run.StatusRunning); err != nil {
		return e.fail(ctx, err)
	}
	if !fresh && task != "" {
		// A continuation message must not separate an assistant tool_calls
		// turn from its tool replies, so everything pending is resolved
		// before the message is journaled.
		paused, err := e.resolvePending(ctx)
		if err != nil {
			return e.fail(ctx, err)
		}
		if paused != nil {
			return *paused
		}
		if _, err := e.store.AppendEvent(journal.EventUserMessage, journal.UserMessagePayload{Content: task}); err != nil {
			return e.fail(ctx, err)
		}
	}

	for iteration := 0; iteration < e.maxIterations; iteration++ {
		if interrupted(ctx) {
			return e.interrupt()
		}

		// Resolve actions left unresolved by a previous invocation (resume
		// after pause or crash) before thinking again. No tool is ever
		// executed twice for the same action_id.
		paused, err := e.resolvePending(ctx)
		if err != nil {
			return e.fail(ctx, err)
		}
		if paused != nil {
			return *paused
		}

		resp, err := e.think(ctx)
		if err != nil {
			if interrupted(ctx) {
				return e.interrupt()
			}
			return e.fail(ctx, err)
		}

		if len(resp.ToolCalls) == 0 {
			final := resp.Content
			if final == "" {
				final = defaultCompletionResponse
			}
			return e.complete(final)
		}

		// Act: dispatch tool calls sequentially in the order the model
		// emitted them, preserving the observation order it will see.
		for _, tc := range resp.ToolCalls {
			if interrupted(ctx) {
				return e.interrupt()
			}
			paused, err := e.dispatch(ctx, tc)
			if err != nil {
				return e.fail(ctx, err)
			}
			if paused != nil {
				return *paused
			}
		}

		if err := e.store.UpdateMetadata(func(m *run.Metadata) {
			m.IterationsCompleted++
		}); err != nil {
			return e.fail(ctx, err)
		}
	}

	// Iteration budget exhausted without a tool-free response.
	if _, err := e.store.AppendEvent(journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.LevelWarn,
		Content: fmt.Sprintf("Reached max iterations (%d)", e.maxIterations),
	}); err != nil {
		return e.fail(ctx, err)
	}
	return e.complete(maxIterationsResponse)
}

// think composes the context, applies the pre_llm_req hook, calls the LLM,
// and journals the THOUGHT with its invocation artifact.
func (e *Engine) think(ctx context.Context) (llm.Response, error) {
	messages, err := e.composer.Compose(ctx, e.agent.Manifest, compose.Env{
		AgentHome: e.agent.Home,
		Workspace: e.workspace,
		RunID:     e.store.RunID(),
		Store:     e.store,
	})
	if err != nil {
		return llm.Response{}, err
	}

	baseReq := e.buildRequest(messages)
	finalReq := baseReq
	if spec, ok := e.agent.Hook(agent.HookPreLLMReq); ok {
		finalReq = e.preLLMHook(ctx, spec, baseReq)
	}

	invocationID := uuid.NewString()
	start := time.Now()
	resp, callErr := e.client.Call(ctx, finalReq)
	duration := time.Since(start).Milliseconds()

	if callErr != nil {
		return llm.Response{}, callErr
	}

	// Artifact first, then the event that references it.
	if err := e.store.SaveLLMInvocation(invocationID, finalReq, resp, journal.InvocationMeta{
		Model:      finalReq.Model,
		DurationMS: duration,
		Usage: journal.InvocationUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}); err != nil {
		return llm.Response{}, err
	}
	if _, err := e.store.AppendEvent(journal.EventThought, journal.ThoughtPayload{
		Content:      resp.Content,
		InvocationID: invocationID,
		ToolCalls:    resp.RawToolCalls,
	}); err != nil {
		return llm.Response{}, err
	}
	e.logger.Info("thought",
		zap.String("invocation_id", invocationID),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.String("finish_reason", resp.FinishReason))

	if spec, ok := e.agent.Hook(agent.HookPostLLMResp); ok {
		// Advisory: the response is already journaled; failures only warn.
		payload, _ := json.Marshal(resp)
		e.advisoryHook(ctx, agent.HookPostLLMResp, spec, payload)
	}
	return resp, nil
}

// buildRequest assembles the baseline LLM request (P_base) from the
// agent's parameters, the composed messages, and the tool schemas. The
// system prompt is always the first message.
func (e *Engine) buildRequest(messages []llm.Message) llm.Request {
	all := make([]llm.Message, 0, len(messages)+1)
	all = append(all, llm.Message{Role: llm.RoleSystem, Content: e.agent.SystemPrompt})
	all = append(all, messages...)

	tools := make([]llm.ToolSchema, 0, len(e.agent.Tools)+1)
	for _, def := range e.agent.Tools {
		tools = append(tools, llm.SchemaForTool(def))
	}
	tools = append(tools, llm.AskHumanSchema())

	return llm.Request{
		Model:            e.agent.LLM.Model,
		Temperature:      e.agent.LLM.Temperature,
		TopP:             e.agent.LLM.TopP,
		MaxTokens:        e.agent.LLM.MaxTokens,
		FrequencyPenalty: e.agent.LLM.FrequencyPenalty,
		PresencePenalty:  e.agent.LLM.PresencePenalty,
		Messages:         all,
		Tools:            tools,
	}
}

// preLLMHook runs pre_llm_req and returns the request to send: the hook's
// override when it produced a valid one, the baseline otherwise.
func (e *Engine) preLLMHook(ctx context.Context, spec agent.HookSpec, base llm.Request) llm.Request {
	payload, err := json.Marshal(base)
	if err != nil {
		return base
	}
	outcome, err := e.hooks.Run(ctx, agent.HookPreLLMReq, spec, e.hookContext(agent.HookPreLLMReq), payload)
	if err != nil {
		e.warn(fmt.Sprintf("pre_llm_req hook setup failed: %v", err))
		return base
	}
	e.auditHook(agent.HookPreLLMReq, outcome)
	if outcome.Status != journal.HookSuccess {
		e.warn("pre_llm_req hook failed; using baseline request")
		return base
	}
	if outcome.FinalPayload == nil {
		return base
	}
	var override llm.Request
	if err := json.Unmarshal(outcome.FinalPayload, &override); err != nil {
		e.warn(fmt.Sprintf("pre_llm_req override is not a valid request: %v", err))
		return base
	}
	return override
}

// advisoryHook runs a hook whose result cannot change engine flow.
func (e *Engine) advisoryHook(ctx context.Context, point string, spec agent.HookSpec, payload []byte) {
	outcome, err := e.hooks.Run(ctx, point, spec, e.hookContext(point), payload)
	if err != nil {
		e.warn(fmt.Sprintf("%s hook setup failed: %v", point, err))
		return
	}
	e.auditHook(point, outcome)
	if outcome.Status != journal.HookSuccess {
		e.warn(fmt.Sprintf("%s hook failed", point))
	}
}

func (e *Engine) hookContext(point string) map[string]any {
	return map[string]any{
		"hook":       point,
		"run_id":     e.store.RunID(),
		"agent_name": e.agent.Name,
		"workspace":  e.workspace,
	}
}

func (e *Engine) auditHook(point string, outcome hook.Outcome) {
	if _, err := e.store.AppendEvent(journal.EventHookAudit, journal.HookAuditPayload{
		HookName:  point,
		Status:    outcome.Status,
		IOPathRef: outcome.IOPathRef,
	}); err != nil {
		e.logger.Error("append hook audit", zap.Error(err))
	}
}

// warn journals a WARN system message; the journal write itself failing is
// only logged, since warnings must not take the run down.
func (e *Engine) warn(msg string) {
	e.logger.Warn(msg)
	if _, err := e.store.AppendEvent(journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.LevelWarn,
		Content: msg,
	}); err != nil {
		e.logger.Error("append system message", zap.Error(err))
	}
}

// complete finishes the run with RUN_END COMPLETED.
func (e *Engine) complete(final string) Outcome {
	if _, err := e.store.AppendEvent(journal.EventRunEnd, journal.RunEndPayload{Status: string(run.StatusCompleted)}); err != nil {
		return Outcome{Status: run.StatusFailed, Err: err}
	}
	if err := e.finishMetadata(run.StatusCompleted); err != nil {
		return Outcome{Status: run.StatusFailed, Err: err}
	}
	e.logger.Info("run completed")
	return Outcome{Status: run.StatusCompleted, FinalResponse: final}
}

// fail records an unhandled error: SYSTEM_MESSAGE ERROR, on_error hook,
// RUN_END FAILED. Journal failures during failure handling are swallowed;
// the original error wins.
func (e *Engine) fail(ctx context.Context, cause error) Outcome {
	e.logger.Error("run failed", zap.Error(cause))
	_, _ = e.store.AppendEvent(journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.LevelError,
		Content: cause.Error(),
	})
	if spec, ok := e.agent.Hook(agent.HookOnError); ok {
		payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
		// on_error failures are logged but never re-raised.
		e.advisoryHook(context.WithoutCancel(ctx), agent.HookOnError, spec, payload)
	}
	_, _ = e.store.AppendEvent(journal.EventRunEnd, journal.RunEndPayload{Status: string(run.StatusFailed)})
	_ = e.finishMetadata(run.StatusFailed)
	return Outcome{Status: run.StatusFailed, Err: cause}
}

// interrupt records a signal-driven termination.
func (e *Engine) interrupt() Outcome {
	_, _ = e.store.AppendEvent(journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.LevelWarn,
		Content: "Run interrupted by signal",
	})
	_ = e.finishMetadata(run.StatusInterrupted)
	e.logger.Warn("run interrupted")
	return Outcome{Status: run.StatusInterrupted}
}

func (e *Engine) pause(req interaction.Request) Outcome {
	if err := e.setStatus(run.StatusWaiting); err != nil {
		return Outcome{Status: run.StatusFailed, Err: err}
	}
	e.logger.Info("run paused for human input", zap.String("request_id", req.RequestID))
	return Outcome{Status: run.StatusWaiting, Interaction: &req}
}

func (e *Engine) setStatus(s run.Status) error {
	return e.store.UpdateMetadata(func(m *run.Metadata) { m.Status = s })
}

func (e *Engine) finishMetadata(s run.Status) error {
	return e.store.UpdateMetadata(func(m *run.Metadata) {
		m.Status = s
		m.EndTime = time.Now().UTC().Format(time.RFC3339)
	})
}

func (e *Engine) runEndHook(ctx context.Context, outcome Outcome) {
	spec, ok := e.agent.Hook(agent.HookOnRunEnd)
	if !ok {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"status":         string(outcome.Status),
		"final_response": outcome.FinalResponse,
	})
	e.advisoryHook(context.WithoutCancel(ctx), agent.HookOnRunEnd, spec, payload)
}

func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
