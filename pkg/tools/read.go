package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	readDefaultLimit = 2000
	readMaxLineChars = 2000
)

// ReadTool reads a file inside the project root with line numbering and
// windowing.
type ReadTool struct{}

type readArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func NewReadTool() *ReadTool { return &ReadTool{} }

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the project. Returns numbered lines. Use offset and limit to read a window of a large file."
}

func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute or project-relative path to the file",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"description": "Line number to start reading from (0-based)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     readDefaultLimit,
				"description": "Maximum number of lines to return (default 2000)",
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	var a readArgs
	if err := decodeArgs(args, &a); err != nil {
		return Failf(FailureValidation, "Invalid arguments", "%v", err)
	}
	if a.Limit == 0 {
		a.Limit = readDefaultLimit
	}

	resolved, err := ResolvePath(ec.ProjectPath, a.Path)
	if err != nil {
		return Failf(FailureAccessDenied, "Access denied", "%v", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Failf(FailureNotFound, "File not found", "%s does not exist", a.Path)
		}
		return Failf(FailureAccessDenied, "Access denied", "cannot stat %s: %v", a.Path, err)
	}
	if info.IsDir() {
		return Failf(FailureIsADirectory, "Path is a directory",
			"%s is a directory; use the glob tool to list its contents", a.Path)
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return Failf(FailureAccessDenied, "Access denied", "cannot read %s: %v", a.Path, err)
	}

	lines := strings.Split(string(content), "\n")
	total := len(lines)

	if a.Offset >= total {
		return Failf(FailureValidation, "Offset past end of file",
			"offset %d is beyond the file's %d lines", a.Offset, total)
	}
	end := a.Offset + a.Limit
	if end > total {
		end = total
	}
	window := lines[a.Offset:end]

	// Width of the largest line number shown, for right-aligned prefixes.
	width := len(fmt.Sprint(end))
	var b strings.Builder
	for i, line := range window {
		fmt.Fprintf(&b, "%*d\t%s\n", width, a.Offset+i+1, truncateLine(line, readMaxLineChars))
	}

	title := fmt.Sprintf("Read %s", a.Path)
	meta := map[string]interface{}{
		"path":       resolved,
		"totalLines": total,
		"offset":     a.Offset,
		"returned":   len(window),
	}
	return OkMeta(title, b.String(), meta)
}
