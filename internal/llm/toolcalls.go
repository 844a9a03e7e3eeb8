package llm

import (
	"encoding/json"
	"fmt"
)

// journaledToolCall mirrors one element of the provider-native tool_calls
// array that assistant turns carry through the journal.
type journaledToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ParseJournaledToolCalls decodes a journaled provider-native tool_calls
// array back into parsed calls, with the same argument coercion the
// provider adapter applies to live responses.
func ParseJournaledToolCalls(raw json.RawMessage) ([]ToolCall, error) {
	var native []journaledToolCall
	if err := json.Unmarshal(raw, &native); err != nil {
		return nil, fmt.Errorf("decode journaled tool_calls: %w", err)
	}
	calls := make([]ToolCall, 0, len(native))
	for _, tc := range native {
		args := tc.Function.Arguments
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return calls, nil
}
