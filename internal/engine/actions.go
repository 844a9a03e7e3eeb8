package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/interaction"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llm"
	"github.com/deltaengine/delta/internal/tool"
)

const skippedObservation = "Tool execution skipped by pre_tool_exec hook."

// resolvePending replays actions that a previous invocation requested but
// never resolved: tool calls interrupted by a crash, and ask_human requests
// whose answer arrived (or must now be collected). It returns a non-nil
// outcome when the run must pause again.
func (e *Engine) resolvePending(ctx context.Context) (*Outcome, error) {
	events, err := e.store.ReadJournal()
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]bool)
	for _, ev := range events {
		if ev.Type != journal.EventActionResult {
			continue
		}
		var p journal.ActionResultPayload
		if journal.DecodePayload(ev, &p) == nil {
			resolved[p.ActionID] = true
		}
	}

	requested := make(map[string]bool)
	for _, ev := range events {
		if ev.Type != journal.EventActionRequest {
			continue
		}
		var req journal.ActionRequestPayload
		if err := journal.DecodePayload(ev, &req); err != nil {
			return nil, err
		}
		requested[req.ActionID] = true
		if resolved[req.ActionID] {
			continue
		}
		e.logger.Info("resolving pending action",
			zap.String("action_id", req.ActionID),
			zap.String("tool", req.ToolName))
		if req.ToolName == llm.AskHumanToolName {
			paused, err := e.resumeAskHuman(req)
			if err != nil || paused != nil {
				return paused, err
			}
			continue
		}
		args := parseToolArgs(req.ToolArgs)
		if err := e.perform(ctx, req.ActionID, req.ToolName, args); err != nil {
			return nil, err
		}
	}

	return e.dispatchUnrequested(ctx, events, requested)
}

// dispatchUnrequested covers a narrower crash window: a signal can land
// between journaling a THOUGHT and appending its ACTION_REQUESTs, leaving
// tool calls that exist only in the trailing assistant turn. Dispatching
// them here keeps the rebuilt conversation from ending in a tool_calls
// turn with no replies. Only the last THOUGHT can carry such calls: every
// earlier one had its requests appended before the engine thought again.
func (e *Engine) dispatchUnrequested(ctx context.Context, events []journal.Event, requested map[string]bool) (*Outcome, error) {
	var thought *journal.ThoughtPayload
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != journal.EventThought {
			continue
		}
		var p journal.ThoughtPayload
		if err := journal.DecodePayload(events[i], &p); err != nil {
			return nil, err
		}
		thought = &p
		break
	}
	if thought == nil || len(thought.ToolCalls) == 0 {
		return nil, nil
	}
	calls, err := llm.ParseJournaledToolCalls(thought.ToolCalls)
	if err != nil {
		return nil, err
	}
	for _, tc := range calls {
		if requested[tc.ID] {
			continue
		}
		e.logger.Info("dispatching tool call left without an action request",
			zap.String("action_id", tc.ID),
			zap.String("tool", tc.Name))
		paused, err := e.dispatch(ctx, tc)
		if err != nil || paused != nil {
			return paused, err
		}
	}
	return nil, nil
}

// dispatch handles one fresh tool call from the model. It returns a
// non-nil outcome when the run must pause for human input.
func (e *Engine) dispatch(ctx context.Context, tc llm.ToolCall) (*Outcome, error) {
	rawArgs := json.RawMessage(tc.Arguments)
	if _, err := e.store.AppendEvent(journal.EventActionRequest, journal.ActionRequestPayload{
		ActionID:        tc.ID,
		ToolName:        tc.Name,
		ToolArgs:        rawArgs,
		ResolvedCommand: e.resolvedCommandFor(tc),
	}); err != nil {
		return nil, err
	}

	if tc.Name == llm.AskHumanToolName {
		var args llm.AskHumanArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil || args.Prompt == "" {
			return nil, e.appendResult(tc.ID, journal.ActionError,
				"Error: ask_human requires a 'prompt' argument", "")
		}
		return e.askHuman(tc.ID, args)
	}
	return nil, e.perform(ctx, tc.ID, tc.Name, parseToolArgs(rawArgs))
}

// resolvedCommandFor best-effort renders the command line an argv tool
// would run, for the journal record. Unknown tools and ask_human have none.
func (e *Engine) resolvedCommandFor(tc llm.ToolCall) string {
	def, ok := e.agent.FindTool(tc.Name)
	if !ok {
		return ""
	}
	inv, err := tool.Resolve(def, parseToolArgs(json.RawMessage(tc.Arguments)))
	if err != nil {
		return ""
	}
	return inv.ResolvedCommand()
}

// perform executes one argv tool call end to end: pre_tool_exec hook,
// child process, artifact, observation. The ACTION_REQUEST is already
// journaled. Tool-level failures become observations; only store failures
// return an error.
func (e *Engine) perform(ctx context.Context, actionID, toolName string, args map[string]string) error {
	def, ok := e.agent.FindTool(toolName)
	if !ok {
		return e.appendResult(actionID, journal.ActionError,
			fmt.Sprintf("Error: tool '%s' not found", toolName), "")
	}
	inv, err := tool.Resolve(def, args)
	if err != nil {
		return e.appendResult(actionID, journal.ActionError,
			fmt.Sprintf("Error: %v", err), "")
	}

	if spec, ok := e.agent.Hook(agent.HookPreToolExec); ok {
		skip, err := e.preToolHook(ctx, spec, toolName, args, inv)
		if err != nil {
			return err
		}
		if skip {
			execRef, err := e.saveExecution(actionID, journal.ToolExecutionRecord{
				Command: inv.ResolvedCommand(),
				Stdout:  skippedObservation,
			})
			if err != nil {
				return err
			}
			return e.appendResult(actionID, journal.ActionSuccess, skippedObservation, execRef)
		}
	}

	res, err := e.tools.Run(ctx, inv)
	if err != nil {
		return e.appendResult(actionID, journal.ActionError,
			fmt.Sprintf("Error: %v", err), "")
	}
	execRef, err := e.saveExecution(actionID, journal.ToolExecutionRecord{
		Command:    inv.ResolvedCommand(),
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMS: res.DurationMS,
	})
	if err != nil {
		return err
	}

	status := journal.ActionFailed
	if res.Success {
		status = journal.ActionSuccess
	}
	if err := e.appendResult(actionID, status, tool.FormatObservation(res), execRef); err != nil {
		return err
	}
	e.logger.Info("tool executed",
		zap.String("action_id", actionID),
		zap.String("tool", toolName),
		zap.Int("exit_code", res.ExitCode))

	if spec, ok := e.agent.Hook(agent.HookPostToolExec); ok {
		payload, _ := json.Marshal(map[string]any{
			"tool_name": toolName,
			"exit_code": res.ExitCode,
			"stdout":    res.Stdout,
			"stderr":    res.Stderr,
		})
		e.advisoryHook(ctx, agent.HookPostToolExec, spec, payload)
	}
	return nil
}

// preToolHook runs pre_tool_exec and reports whether execution was skipped.
func (e *Engine) preToolHook(ctx context.Context, spec agent.HookSpec, toolName string, args map[string]string, inv tool.Invocation) (bool, error) {
	payload, _ := json.Marshal(map[string]any{
		"tool_name":        toolName,
		"tool_args":        args,
		"resolved_command": inv.ResolvedCommand(),
	})
	outcome, err := e.hooks.Run(ctx, agent.HookPreToolExec, spec, e.hookContext(agent.HookPreToolExec), payload)
	if err != nil {
		return false, err
	}
	status := outcome.Status
	if outcome.Skip {
		status = journal.HookSkipped
	}
	if _, err := e.store.AppendEvent(journal.EventHookAudit, journal.HookAuditPayload{
		HookName:  agent.HookPreToolExec,
		Status:    status,
		IOPathRef: outcome.IOPathRef,
	}); err != nil {
		return false, err
	}
	if outcome.Status != journal.HookSuccess {
		e.warn("pre_tool_exec hook failed; executing tool anyway")
		return false, nil
	}
	return outcome.Skip, nil
}

// askHuman handles a fresh ask_human call: interactively on the terminal,
// or by writing the interaction request and pausing the run.
func (e *Engine) askHuman(actionID string, args llm.AskHumanArgs) (*Outcome, error) {
	req := interaction.NewRequest(args.Prompt, args.InputType, args.Sensitive)
	if e.interactive {
		answer, err := interaction.PromptLocal(req)
		if err != nil {
			return nil, e.appendResult(actionID, journal.ActionError,
				fmt.Sprintf("Error: %v", err), "")
		}
		execRef, err := e.saveAskHumanArtifact(actionID, answer)
		if err != nil {
			return nil, err
		}
		return nil, e.appendResult(actionID, journal.ActionSuccess, answer, execRef)
	}
	if err := interaction.Write(e.store.InteractionDir(), req); err != nil {
		return nil, err
	}
	out := e.pause(req)
	return &out, nil
}

// resumeAskHuman resolves a pending ask_human request on continuation:
// ingest the response file if present, prompt locally in interactive mode,
// otherwise pause again with the same request.
func (e *Engine) resumeAskHuman(req journal.ActionRequestPayload) (*Outcome, error) {
	dir := e.store.InteractionDir()
	answer, found, err := interaction.ReadResponse(dir)
	if err != nil {
		return nil, err
	}
	if found {
		// The reply is ingested verbatim, trailing newline included.
		execRef, err := e.saveAskHumanArtifact(req.ActionID, answer)
		if err != nil {
			return nil, err
		}
		if err := e.appendResult(req.ActionID, journal.ActionSuccess, answer, execRef); err != nil {
			return nil, err
		}
		if err := interaction.Clear(dir); err != nil {
			return nil, err
		}
		e.logger.Info("ingested human response", zap.String("action_id", req.ActionID))
		return nil, nil
	}

	var args llm.AskHumanArgs
	_ = json.Unmarshal(req.ToolArgs, &args)
	pending, ok, err := interaction.Load(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		pending = interaction.NewRequest(args.Prompt, args.InputType, args.Sensitive)
		if err := interaction.Write(dir, pending); err != nil {
			return nil, err
		}
	}
	if e.interactive {
		answer, err := interaction.PromptLocal(pending)
		if err != nil {
			return nil, e.appendResult(req.ActionID, journal.ActionError,
				fmt.Sprintf("Error: %v", err), "")
		}
		execRef, err := e.saveAskHumanArtifact(req.ActionID, answer)
		if err != nil {
			return nil, err
		}
		if err := e.appendResult(req.ActionID, journal.ActionSuccess, answer, execRef); err != nil {
			return nil, err
		}
		if err := interaction.Clear(dir); err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := e.pause(pending)
	return &out, nil
}

func (e *Engine) appendResult(actionID, status, observation, execRef string) error {
	_, err := e.store.AppendEvent(journal.EventActionResult, journal.ActionResultPayload{
		ActionID:           actionID,
		Status:             status,
		ObservationContent: observation,
		ExecutionRef:       execRef,
	})
	return err
}

// saveExecution writes the tool-execution artifact and returns its
// reference relative to the run directory.
func (e *Engine) saveExecution(actionID string, rec journal.ToolExecutionRecord) (string, error) {
	if err := e.store.SaveToolExecution(actionID, rec); err != nil {
		return "", err
	}
	return "io/tool_executions/" + actionID, nil
}

// saveAskHumanArtifact records a human answer as a synthetic tool
// execution, so ask_human results carry an artifact like any other tool.
func (e *Engine) saveAskHumanArtifact(actionID, answer string) (string, error) {
	return e.saveExecution(actionID, journal.ToolExecutionRecord{
		Command: llm.AskHumanToolName,
		Stdout:  answer,
	})
}

// parseToolArgs flattens a provider arguments object into the string map
// the tool layer consumes. Non-string values keep their JSON rendering so
// numbers and nested structures survive as argv text.
func parseToolArgs(raw json.RawMessage) map[string]string {
	args := make(map[string]string)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return args
	}
	for name, value := range fields {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			args[name] = s
			continue
		}
		args[name] = string(value)
	}
	return args
}
