// Package openai adapts the internal llm.Client contract to any
// OpenAI-compatible chat-completion endpoint with tool use.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	openailib "github.com/sashabaranov/go-openai"

	"github.com/deltaengine/delta/internal/config"
	"github.com/deltaengine/delta/internal/llm"
)

// maxRetries bounds transient-failure retries (429 and 5xx).
const maxRetries = 2

// Client implements llm.Client over the OpenAI wire protocol.
type Client struct {
	client *openailib.Client
	model  string
}

// NewClientFromEnv creates a client from DELTA_API_KEY and, optionally,
// DELTA_BASE_URL. A missing API key is an *llm.APIKeyError: fatal at
// startup, before any run is created.
func NewClientFromEnv(model string) (*Client, error) {
	apiKey := os.Getenv(config.EnvKeyAPIKey)
	if apiKey == "" {
		return nil, &llm.APIKeyError{EnvVar: config.EnvKeyAPIKey}
	}
	cfg := openailib.DefaultConfig(apiKey)
	if baseURL := os.Getenv(config.EnvKeyBaseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openailib.NewClientWithConfig(cfg), model: model}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Call sends one chat-completion request and parses the tool calls.
func (c *Client) Call(ctx context.Context, req llm.Request) (llm.Response, error) {
	oaReq, err := buildRequest(req)
	if err != nil {
		return llm.Response{}, err
	}

	var resp openailib.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, oaReq)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) || attempt == maxRetries {
			return llm.Response{}, wrapProviderError(lastErr)
		}
		select {
		case <-time.After(time.Duration(attempt+1) * time.Second):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	if len(resp.Choices) == 0 {
		return llm.Response{}, &llm.Error{Message: "no choices returned"}
	}
	return parseResponse(resp)
}

func buildRequest(req llm.Request) (openailib.ChatCompletionRequest, error) {
	out := openailib.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = *req.PresencePenalty
	}

	for _, msg := range req.Messages {
		oaMsg := openailib.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.ToolCalls) > 0 {
			// Journaled assistant turns carry the provider-native array;
			// decode it back so call IDs round-trip unchanged.
			var calls []openailib.ToolCall
			if err := json.Unmarshal(msg.ToolCalls, &calls); err != nil {
				return out, fmt.Errorf("decode journaled tool_calls: %w", err)
			}
			oaMsg.ToolCalls = calls
		}
		out.Messages = append(out.Messages, oaMsg)
	}

	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, openailib.Tool{
				Type: openailib.ToolTypeFunction,
				Function: &openailib.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		out.ToolChoice = "auto"
	}
	return out, nil
}

func parseResponse(resp openailib.ChatCompletionResponse) (llm.Response, error) {
	choice := resp.Choices[0]
	out := llm.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(choice.Message.ToolCalls) == 0 {
		return out, nil
	}

	raw, err := json.Marshal(choice.Message.ToolCalls)
	if err != nil {
		return out, fmt.Errorf("re-encode tool_calls: %w", err)
	}
	out.RawToolCalls = raw

	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: NormalizeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// NormalizeArguments coerces the provider's argument string to a JSON
// object. Some providers emit "", "null" or "undefined" for
// zero-parameter tools.
func NormalizeArguments(args string) json.RawMessage {
	switch args {
	case "", "null", "undefined":
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(args)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

func retryable(err error) bool {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openailib.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func wrapProviderError(err error) error {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		return &llm.Error{Message: apiErr.Message, Status: apiErr.HTTPStatusCode, Type: apiErr.Type, Err: err}
	}
	var reqErr *openailib.RequestError
	if errors.As(err, &reqErr) {
		return &llm.Error{Message: reqErr.Error(), Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &llm.Error{Message: err.Error(), Err: err}
}
