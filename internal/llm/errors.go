package llm

import "fmt"

// APIKeyError reports a missing API-key environment variable. It is fatal
// at startup: no run is created without credentials.
type APIKeyError struct {
	EnvVar string
}

func (e *APIKeyError) Error() string {
	return fmt.Sprintf("LLM API key not set: export %s", e.EnvVar)
}

// Error wraps a provider failure with the upstream message, HTTP status,
// and provider error type.
type Error struct {
	Message string
	Status  int
	Type    string
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("LLM call failed (%d %s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("LLM call failed: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
