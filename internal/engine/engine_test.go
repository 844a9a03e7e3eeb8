package engine_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/compose"
	"github.com/deltaengine/delta/internal/engine"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llm"
	"github.com/deltaengine/delta/internal/run"
	"github.com/deltaengine/delta/internal/tool"
)

// scriptedClient returns canned responses in order and records every
// request it receives.
type scriptedClient struct {
	responses []llm.Response
	requests  []llm.Request
}

func (c *scriptedClient) Call(_ context.Context, req llm.Request) (llm.Response, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return llm.Response{Content: "out of script"}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

func testAgent() *agent.Agent {
	return &agent.Agent{
		Name:          "test-agent",
		Home:          "/nonexistent/agent",
		SystemPrompt:  "You are a test agent.",
		LLM:           agent.LLMParams{Model: "scripted"},
		MaxIterations: 10,
		Tools: []tool.Def{{
			Name:       "echo_tool",
			Command:    []string{"echo"},
			Parameters: []tool.Param{{Name: "text", InjectAs: tool.InjectArgument}},
		}},
		Hooks:    map[string]agent.HookSpec{},
		Manifest: compose.DefaultManifest(),
	}
}

func newRun(t *testing.T) (*journal.Store, string) {
	t.Helper()
	ws := t.TempDir()
	id := "20260101_000000_e2e001"
	store, err := journal.Create(ws, id, run.Metadata{
		RunID:  id,
		Status: run.StatusRunning,
		Task:   "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, ws
}

func toolCallResponse(id, name, args string) llm.Response {
	raw, _ := json.Marshal([]map[string]any{{
		"id":   id,
		"type": "function",
		"function": map[string]string{
			"name":      name,
			"arguments": args,
		},
	}})
	return llm.Response{
		ToolCalls:    []llm.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}},
		RawToolCalls: raw,
		FinishReason: "tool_calls",
	}
}

func eventTypes(t *testing.T, store *journal.Store) []journal.EventType {
	t.Helper()
	events, err := store.ReadJournal()
	require.NoError(t, err)
	types := make([]journal.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestEngine_Run_CompletesWithoutTools(t *testing.T) {
	store, ws := newRun(t)
	client := &scriptedClient{responses: []llm.Response{{Content: "all done", FinishReason: "stop"}}}

	eng := engine.New(engine.Options{
		Agent:     testAgent(),
		Store:     store,
		Workspace: ws,
		Client:    client,
	})
	outcome := eng.Run(context.Background(), "say hello")

	require.Equal(t, run.StatusCompleted, outcome.Status)
	require.Equal(t, "all done", outcome.FinalResponse)

	require.Equal(t, []journal.EventType{
		journal.EventRunStart,
		journal.EventUserMessage,
		journal.EventThought,
		journal.EventRunEnd,
	}, eventTypes(t, store))

	// The system prompt leads every request.
	require.NotEmpty(t, client.requests)
	require.Equal(t, llm.RoleSystem, client.requests[0].Messages[0].Role)

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, meta.Status)
	require.NotEmpty(t, meta.EndTime)
}

func TestEngine_Run_ExecutesToolThenCompletes(t *testing.T) {
	store, ws := newRun(t)
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("call_1", "echo_tool", `{"text":"hi there"}`),
		{Content: "finished", FinishReason: "stop"},
	}}

	eng := engine.New(engine.Options{
		Agent:     testAgent(),
		Store:     store,
		Workspace: ws,
		Client:    client,
	})
	outcome := eng.Run(context.Background(), "echo something")

	require.Equal(t, run.StatusCompleted, outcome.Status)
	require.Equal(t, "finished", outcome.FinalResponse)

	events, err := store.ReadJournal()
	require.NoError(t, err)

	var result journal.ActionResultPayload
	found := false
	for _, ev := range events {
		if ev.Type == journal.EventActionResult {
			require.NoError(t, journal.DecodePayload(ev, &result))
			found = true
		}
	}
	require.True(t, found, "tool execution must journal an ACTION_RESULT")
	require.Equal(t, "call_1", result.ActionID)
	require.Equal(t, journal.ActionSuccess, result.Status)
	require.Contains(t, result.ObservationContent, "hi there")
	require.Equal(t, "io/tool_executions/call_1", result.ExecutionRef)

	// Artifact exists on disk.
	_, err = os.Stat(filepath.Join(store.Dir(), "io", "tool_executions", "call_1", "stdout.log"))
	require.NoError(t, err)

	// The second request carries the observation as a tool message.
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Equal(t, llm.RoleTool, last.Role)
	require.Equal(t, "call_1", last.ToolCallID)

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	require.Equal(t, 1, meta.IterationsCompleted)
}

func TestEngine_Run_ToolNotFound(t *testing.T) {
	store, ws := newRun(t)
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("call_1", "no_such_tool", `{}`),
		{Content: "recovered", FinishReason: "stop"},
	}}

	eng := engine.New(engine.Options{Agent: testAgent(), Store: store, Workspace: ws, Client: client})
	outcome := eng.Run(context.Background(), "go")

	require.Equal(t, run.StatusCompleted, outcome.Status)

	events, err := store.ReadJournal()
	require.NoError(t, err)
	for _, ev := range events {
		if ev.Type != journal.EventActionResult {
			continue
		}
		var p journal.ActionResultPayload
		require.NoError(t, journal.DecodePayload(ev, &p))
		require.Equal(t, journal.ActionError, p.Status)
		require.Contains(t, p.ObservationContent, "tool 'no_such_tool' not found")
	}
}

func TestEngine_Run_AskHumanPausesAndResumes(t *testing.T) {
	store, ws := newRun(t)
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("call_ask", "ask_human", `{"prompt":"Which region?"}`),
	}}

	eng := engine.New(engine.Options{Agent: testAgent(), Store: store, Workspace: ws, Client: client})
	outcome := eng.Run(context.Background(), "deploy")

	require.Equal(t, run.StatusWaiting, outcome.Status)
	require.NotNil(t, outcome.Interaction)
	require.Equal(t, "Which region?", outcome.Interaction.Prompt)

	_, err := os.Stat(filepath.Join(store.Dir(), "interaction", "request.json"))
	require.NoError(t, err)

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	require.Equal(t, run.StatusWaiting, meta.Status)
	require.NoError(t, store.Close())

	// The human answers; the continuation ingests it and the model finishes.
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "interaction", "response.txt"), []byte("eu-west-1\n"), 0o644))

	reopened, err := journal.Open(ws, store.RunID())
	require.NoError(t, err)
	defer reopened.Close()

	client2 := &scriptedClient{responses: []llm.Response{{Content: "deployed", FinishReason: "stop"}}}
	eng2 := engine.New(engine.Options{Agent: testAgent(), Store: reopened, Workspace: ws, Client: client2})
	outcome2 := eng2.Run(context.Background(), "")

	require.Equal(t, run.StatusCompleted, outcome2.Status)
	require.Equal(t, "deployed", outcome2.FinalResponse)

	// The ingested answer reached the model as a tool message.
	req := client2.requests[0]
	var sawAnswer bool
	for _, m := range req.Messages {
		if m.Role == llm.RoleTool && m.ToolCallID == "call_ask" {
			// The response file is ingested verbatim, newline included.
			require.Equal(t, "eu-west-1\n", m.Content)
			sawAnswer = true
		}
	}
	require.True(t, sawAnswer)

	// The interaction directory is cleared after ingestion.
	_, err = os.Stat(filepath.Join(reopened.Dir(), "interaction"))
	require.True(t, os.IsNotExist(err))
}

func TestEngine_Run_MaxIterations(t *testing.T) {
	store, ws := newRun(t)
	client := &scriptedClient{}
	// Always ask for another tool call; the loop must hit the boundary.
	for i := 0; i < 5; i++ {
		client.responses = append(client.responses, toolCallResponse("call_x", "echo_tool", `{"text":"again"}`))
	}

	eng := engine.New(engine.Options{
		Agent:         testAgent(),
		Store:         store,
		Workspace:     ws,
		Client:        client,
		MaxIterations: 2,
	})
	outcome := eng.Run(context.Background(), "loop forever")

	require.Equal(t, run.StatusCompleted, outcome.Status)
	require.Contains(t, outcome.FinalResponse, "Maximum iterations reached")

	events, err := store.ReadJournal()
	require.NoError(t, err)
	var sawWarn bool
	for _, ev := range events {
		if ev.Type == journal.EventSystemMessage {
			var p journal.SystemMessagePayload
			require.NoError(t, journal.DecodePayload(ev, &p))
			if p.Level == journal.LevelWarn {
				sawWarn = true
			}
		}
	}
	require.True(t, sawWarn, "iteration exhaustion must leave a WARN system message")
}

func TestEngine_Run_ReplaysPendingActionOnResume(t *testing.T) {
	store, ws := newRun(t)

	// Simulate a crash after THOUGHT + ACTION_REQUEST but before the result.
	_, err := store.AppendEvent(journal.EventRunStart, journal.RunStartPayload{Task: "t"})
	require.NoError(t, err)
	_, err = store.AppendEvent(journal.EventUserMessage, journal.UserMessagePayload{Content: "t"})
	require.NoError(t, err)
	_, err = store.AppendEvent(journal.EventThought, journal.ThoughtPayload{
		Content:      "",
		InvocationID: "inv-1",
		ToolCalls:    toolCallResponse("call_crash", "echo_tool", `{"text":"recovered"}`).RawToolCalls,
	})
	require.NoError(t, err)
	_, err = store.AppendEvent(journal.EventActionRequest, journal.ActionRequestPayload{
		ActionID: "call_crash",
		ToolName: "echo_tool",
		ToolArgs: json.RawMessage(`{"text":"recovered"}`),
	})
	require.NoError(t, err)

	client := &scriptedClient{responses: []llm.Response{{Content: "done after crash", FinishReason: "stop"}}}
	eng := engine.New(engine.Options{Agent: testAgent(), Store: store, Workspace: ws, Client: client})
	outcome := eng.Run(context.Background(), "")

	require.Equal(t, run.StatusCompleted, outcome.Status)

	// The pending action was executed exactly once before thinking again.
	events, err := store.ReadJournal()
	require.NoError(t, err)
	results := 0
	for _, ev := range events {
		if ev.Type == journal.EventActionResult {
			results++
			var p journal.ActionResultPayload
			require.NoError(t, journal.DecodePayload(ev, &p))
			require.Equal(t, "call_crash", p.ActionID)
			require.Contains(t, p.ObservationContent, "recovered")
		}
	}
	require.Equal(t, 1, results)
}

func TestEngine_Run_DispatchesToolCallsMissingActionRequest(t *testing.T) {
	store, ws := newRun(t)

	// A signal can land after the THOUGHT is journaled but before any
	// ACTION_REQUEST; the resumed engine must still run those tools
	// instead of thinking again over a dangling tool_calls turn.
	_, err := store.AppendEvent(journal.EventRunStart, journal.RunStartPayload{Task: "t"})
	require.NoError(t, err)
	_, err = store.AppendEvent(journal.EventUserMessage, journal.UserMessagePayload{Content: "t"})
	require.NoError(t, err)
	_, err = store.AppendEvent(journal.EventThought, journal.ThoughtPayload{
		InvocationID: "inv-1",
		ToolCalls:    toolCallResponse("call_lost", "echo_tool", `{"text":"still here"}`).RawToolCalls,
	})
	require.NoError(t, err)

	client := &scriptedClient{responses: []llm.Response{{Content: "done", FinishReason: "stop"}}}
	eng := engine.New(engine.Options{Agent: testAgent(), Store: store, Workspace: ws, Client: client})
	outcome := eng.Run(context.Background(), "")

	require.Equal(t, run.StatusCompleted, outcome.Status)

	events, err := store.ReadJournal()
	require.NoError(t, err)
	requests, results := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case journal.EventActionRequest:
			requests++
			var p journal.ActionRequestPayload
			require.NoError(t, journal.DecodePayload(ev, &p))
			require.Equal(t, "call_lost", p.ActionID)
			require.Equal(t, "echo_tool", p.ToolName)
		case journal.EventActionResult:
			results++
			var p journal.ActionResultPayload
			require.NoError(t, journal.DecodePayload(ev, &p))
			require.Equal(t, "call_lost", p.ActionID)
			require.Contains(t, p.ObservationContent, "still here")
		}
	}
	require.Equal(t, 1, requests, "the missing ACTION_REQUEST is appended exactly once")
	require.Equal(t, 1, results)

	// The rebuilt conversation answers the assistant turn before thinking:
	// the tool reply directly follows its tool_calls message.
	req := client.requests[0]
	for i, m := range req.Messages {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			require.Less(t, i+1, len(req.Messages))
			require.Equal(t, llm.RoleTool, req.Messages[i+1].Role)
			require.Equal(t, "call_lost", req.Messages[i+1].ToolCallID)
		}
	}
}

func TestEngine_Run_ContinuationMessageFollowsPendingResolution(t *testing.T) {
	store, ws := newRun(t)
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("call_ask", "ask_human", `{"prompt":"Which region?"}`),
	}}
	eng := engine.New(engine.Options{Agent: testAgent(), Store: store, Workspace: ws, Client: client})
	outcome := eng.Run(context.Background(), "deploy")
	require.Equal(t, run.StatusWaiting, outcome.Status)
	require.NoError(t, store.Close())

	// Answer the pause and continue with an extra message in one go.
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "interaction", "response.txt"), []byte("eu-west-1\n"), 0o644))

	reopened, err := journal.Open(ws, store.RunID())
	require.NoError(t, err)
	defer reopened.Close()

	client2 := &scriptedClient{responses: []llm.Response{{Content: "deployed", FinishReason: "stop"}}}
	eng2 := engine.New(engine.Options{Agent: testAgent(), Store: reopened, Workspace: ws, Client: client2})
	outcome2 := eng2.Run(context.Background(), "prefer the cheapest zone")
	require.Equal(t, run.StatusCompleted, outcome2.Status)

	// The ingested answer is journaled before the continuation message.
	events, err := reopened.ReadJournal()
	require.NoError(t, err)
	var resultSeq, messageSeq int64
	for _, ev := range events {
		switch ev.Type {
		case journal.EventActionResult:
			resultSeq = ev.Seq
		case journal.EventUserMessage:
			var p journal.UserMessagePayload
			require.NoError(t, journal.DecodePayload(ev, &p))
			if p.Content == "prefer the cheapest zone" {
				messageSeq = ev.Seq
			}
		}
	}
	require.NotZero(t, resultSeq)
	require.NotZero(t, messageSeq)
	require.Less(t, resultSeq, messageSeq)

	// The tool reply stays adjacent to its tool_calls turn; the
	// continuation message comes last.
	req := client2.requests[0]
	for i, m := range req.Messages {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			require.Less(t, i+1, len(req.Messages))
			require.Equal(t, llm.RoleTool, req.Messages[i+1].Role)
			require.Equal(t, "call_ask", req.Messages[i+1].ToolCallID)
		}
	}
	last := req.Messages[len(req.Messages)-1]
	require.Equal(t, llm.RoleUser, last.Role)
	require.Equal(t, "prefer the cheapest zone", last.Content)
}

func TestEngine_Run_InterruptedContext(t *testing.T) {
	store, ws := newRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []llm.Response{{Content: "never", FinishReason: "stop"}}}
	eng := engine.New(engine.Options{Agent: testAgent(), Store: store, Workspace: ws, Client: client})
	outcome := eng.Run(ctx, "task")

	require.Equal(t, run.StatusInterrupted, outcome.Status)

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	require.Equal(t, run.StatusInterrupted, meta.Status)
}
