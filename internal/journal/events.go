// Package journal implements the append-only run store: the per-run event
// log, the metadata document, and the artifact side-store. The store is the
// sole writer of everything under .delta/<run_id>/; all other components
// mutate durable state only through it.
package journal

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates the journal event envelope types.
type EventType string

const (
	EventRunStart      EventType = "RUN_START"
	EventRunEnd        EventType = "RUN_END"
	EventUserMessage   EventType = "USER_MESSAGE"
	EventThought       EventType = "THOUGHT"
	EventActionRequest EventType = "ACTION_REQUEST"
	EventActionResult  EventType = "ACTION_RESULT"
	EventSystemMessage EventType = "SYSTEM_MESSAGE"
	EventHookAudit     EventType = "HOOK_EXECUTION_AUDIT"
)

// Event is one line of the journal. Seq is 1-based and strictly increasing
// within a run; the journal is the authoritative execution history.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp string          `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// Action result statuses.
const (
	ActionSuccess = "SUCCESS"
	ActionFailed  = "FAILED"
	ActionError   = "ERROR"
)

// Hook audit statuses.
const (
	HookSuccess = "SUCCESS"
	HookFailed  = "FAILED"
	HookSkipped = "SKIPPED"
)

// System message levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// RunStartPayload opens a fresh journal.
type RunStartPayload struct {
	Task     string `json:"task"`
	AgentRef string `json:"agent_ref"`
}

// RunEndPayload closes the journal with the run's terminal status.
type RunEndPayload struct {
	Status string `json:"status"`
}

// UserMessagePayload records a task or continuation message from the caller.
type UserMessagePayload struct {
	Content string `json:"content"`
}

// ThoughtPayload records one assistant turn. ToolCalls is the
// provider-native tool_calls array stored verbatim so it can be re-sent on
// the next turn with IDs intact; it is never normalized or reformatted.
type ThoughtPayload struct {
	Content      string          `json:"content"`
	InvocationID string          `json:"invocation_id"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
}

// ActionRequestPayload records the engine's intent to dispatch one tool call.
type ActionRequestPayload struct {
	ActionID        string          `json:"action_id"`
	ToolName        string          `json:"tool_name"`
	ToolArgs        json.RawMessage `json:"tool_args,omitempty"`
	ResolvedCommand string          `json:"resolved_command,omitempty"`
}

// ActionResultPayload records the observation for a dispatched tool call.
// ExecutionRef names the tool-execution artifact, when one was produced.
type ActionResultPayload struct {
	ActionID           string `json:"action_id"`
	Status             string `json:"status"`
	ObservationContent string `json:"observation_content"`
	ExecutionRef       string `json:"execution_ref,omitempty"`
}

// SystemMessagePayload records an engine-level diagnostic in the journal.
type SystemMessagePayload struct {
	Level   string `json:"level"`
	Content string `json:"content"`
}

// HookAuditPayload records one hook invocation. IOPathRef names the hook
// artifact directory relative to the run directory.
type HookAuditPayload struct {
	HookName  string `json:"hook_name"`
	Status    string `json:"status"`
	IOPathRef string `json:"io_path_ref"`
}

// DecodePayload unmarshals an event payload into the given struct.
func DecodePayload(ev Event, into any) error {
	if err := json.Unmarshal(ev.Payload, into); err != nil {
		return fmt.Errorf("decode %s payload (seq %d): %w", ev.Type, ev.Seq, err)
	}
	return nil
}
