// Package llm defines the internal chat-completion request/response model
// and the provider adapter contract. Provider-native tool_calls travel
// through this package as opaque JSON so that journaled assistant turns can
// be re-sent with their call IDs intact.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat message.
type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"` // role=tool: call being answered
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`   // role=assistant: provider-native array, verbatim
}

// ToolSchema describes one tool for the provider's tool-use protocol.
// Parameters is a JSON-schema object.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is the internal form of one chat-completion call.
type Request struct {
	Model            string       `json:"model"`
	Temperature      *float32     `json:"temperature,omitempty"`
	TopP             *float32     `json:"top_p,omitempty"`
	MaxTokens        int          `json:"max_tokens,omitempty"`
	FrequencyPenalty *float32     `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32     `json:"presence_penalty,omitempty"`
	Messages         []Message    `json:"messages"`
	Tools            []ToolSchema `json:"tools,omitempty"`
}

// ToolCall is one parsed tool call from a response. Arguments has already
// been normalized to a JSON object (providers sometimes emit "", "null" or
// "undefined" for zero-parameter tools).
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the parsed result of one chat-completion call.
type Response struct {
	Content      string          `json:"content,omitempty"`
	ToolCalls    []ToolCall      `json:"tool_calls,omitempty"`
	RawToolCalls json.RawMessage `json:"-"` // provider-native array, pass-through for the journal
	FinishReason string          `json:"finish_reason"`
	Usage        Usage           `json:"usage"`
}

// Client is the chat-completion endpoint contract.
type Client interface {
	// Call sends one request and parses the response. Provider HTTP
	// failures are wrapped as *Error.
	Call(ctx context.Context, req Request) (Response, error)
	// Model returns the configured model identifier.
	Model() string
}
