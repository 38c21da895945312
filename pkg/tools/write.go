package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteTool creates or overwrites a file inside the project root, creating
// parent directories as needed.
type WriteTool struct{}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func NewWriteTool() *WriteTool { return &WriteTool{} }

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the project, creating it (and any parent directories) if needed. Overwrites existing files."
}

func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute or project-relative path to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content",
			},
		},
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	var a writeArgs
	if err := decodeArgs(args, &a); err != nil {
		return Failf(FailureValidation, "Invalid arguments", "%v", err)
	}

	resolved, err := ResolvePath(ec.ProjectPath, a.Path)
	if err != nil {
		return Failf(FailureAccessDenied, "Access denied", "%v", err)
	}

	created := true
	if info, err := os.Stat(resolved); err == nil {
		if info.IsDir() {
			return Failf(FailureIsADirectory, "Path is a directory", "%s is a directory", a.Path)
		}
		created = false
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return Failf(FailureAccessDenied, "Access denied", "cannot create parent directory: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(a.Content), 0644); err != nil {
		return Failf(FailureAccessDenied, "Access denied", "cannot write %s: %v", a.Path, err)
	}

	verb := "Created"
	if !created {
		verb = "Updated"
	}
	title := fmt.Sprintf("%s %s", verb, a.Path)
	output := fmt.Sprintf("%s %s (%d lines, %d bytes)", verb, a.Path, countLines(a.Content), len(a.Content))
	return OkMeta(title, output, map[string]interface{}{
		"path":    resolved,
		"created": created,
		"lines":   countLines(a.Content),
		"bytes":   len(a.Content),
	})
}
