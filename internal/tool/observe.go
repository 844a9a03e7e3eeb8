package tool

import (
	"fmt"
	"strings"
)

// maxStreamChars bounds how much of each captured stream the model sees.
// The full streams are still stored in the tool-execution artifact.
const maxStreamChars = 5000

// FormatObservation renders an execution result as the observation string
// fed back to the model.
func FormatObservation(res Result) string {
	if res.Stdout == "" && res.Stderr == "" {
		return "(Command executed with no output)"
	}
	var b strings.Builder
	b.WriteString("=== STDOUT ===\n")
	b.WriteString(truncateStream(res.Stdout))
	b.WriteString("\n=== STDERR ===\n")
	b.WriteString(truncateStream(res.Stderr))
	b.WriteString(fmt.Sprintf("\n=== EXIT CODE: %d ===", res.ExitCode))
	return b.String()
}

func truncateStream(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStreamChars {
		return s
	}
	return string(runes[:maxStreamChars]) + "\n[truncated]"
}
