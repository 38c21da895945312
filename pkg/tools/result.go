package tools

import "fmt"

// FailureKind classifies expected tool failures. These are reported inside
// a ToolResult, never as Go errors: a failed tool call is a normal outcome
// of a conversation turn.
type FailureKind string

const (
	FailureValidation     FailureKind = "validation"
	FailureAccessDenied   FailureKind = "access_denied"
	FailureNotFound       FailureKind = "not_found"
	FailureIsADirectory   FailureKind = "is_a_directory"
	FailureAmbiguous      FailureKind = "ambiguous"
	FailureInvalidPattern FailureKind = "invalid_pattern"
	FailureTimeout        FailureKind = "timeout"
	FailureInternal       FailureKind = "internal"
)

// ToolResult is the stable contract every tool invocation produces. Title and
// Output are human-readable and suitable for direct display; Metadata carries
// structured details. A result is never mutated after it is returned.
type ToolResult struct {
	Title    string                 `json:"title"`
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Success  bool                   `json:"success"`
}

// Ok builds a successful result.
func Ok(title, output string) ToolResult {
	return ToolResult{Title: title, Output: output, Success: true}
}

// OkMeta builds a successful result with metadata.
func OkMeta(title, output string, meta map[string]interface{}) ToolResult {
	return ToolResult{Title: title, Output: output, Metadata: meta, Success: true}
}

// Fail builds a failed result of the given kind.
func Fail(kind FailureKind, title, output string) ToolResult {
	return ToolResult{
		Title:    title,
		Output:   output,
		Metadata: map[string]interface{}{"error": string(kind)},
		Success:  false,
	}
}

// Failf is Fail with a formatted output string.
func Failf(kind FailureKind, title, format string, args ...interface{}) ToolResult {
	return Fail(kind, title, fmt.Sprintf(format, args...))
}

// FailureOf returns the failure kind recorded in a result's metadata, or ""
// for successful results.
func FailureOf(r ToolResult) FailureKind {
	if r.Success || r.Metadata == nil {
		return ""
	}
	if k, ok := r.Metadata["error"].(string); ok {
		return FailureKind(k)
	}
	return ""
}
