package run

// ResultSchemaVersion identifies the RunResult JSON schema.
const ResultSchemaVersion = "2.0"

// Result is the structured outcome of a run, printed to stdout when the
// caller selects --format json. Exactly one of Result, Error, Interaction
// is populated, matching the terminal status.
type Result struct {
	SchemaVersion string           `json:"schema_version"`
	RunID         string           `json:"run_id"`
	Status        Status           `json:"status"`
	Result        any              `json:"result,omitempty"`
	Error         *ErrorInfo       `json:"error,omitempty"`
	Interaction   *InteractionInfo `json:"interaction,omitempty"`
	Metrics       Metrics          `json:"metrics"`
	Metadata      ResultMetadata   `json:"metadata"`
}

// ErrorInfo describes a FAILED run.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// InteractionInfo describes the pending human-input request of a
// WAITING_FOR_INPUT run.
type InteractionInfo struct {
	Prompt    string `json:"prompt"`
	InputType string `json:"input_type"`
	Sensitive bool   `json:"sensitive"`
}

// Metrics aggregates iteration and token accounting for the run.
type Metrics struct {
	Iterations int    `json:"iterations"`
	DurationMS int64  `json:"duration_ms"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Usage      Usage  `json:"usage"`
}

// Usage is the token accounting across all LLM invocations of the run.
type Usage struct {
	TotalCostUSD float64               `json:"total_cost_usd"`
	InputTokens  int                   `json:"input_tokens"`
	OutputTokens int                   `json:"output_tokens"`
	ModelUsage   map[string]ModelUsage `json:"model_usage"`
}

// ModelUsage is the per-model token accounting.
type ModelUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResultMetadata carries identifying context for the run.
type ResultMetadata struct {
	AgentName     string `json:"agent_name"`
	WorkspacePath string `json:"workspace_path"`
}
