package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EditTool performs an exact-string replacement in a file. Matching is
// literal substring counting, never regex, for both the occurrence count and
// the replacement. With replace_all unset, the old string must occur exactly
// once: an under-specified edit from the model is a silent-corruption risk,
// so ambiguity is rejected rather than guessed at.
type EditTool struct{}

type editArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

func NewEditTool() *EditTool { return &EditTool{} }

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. old_string must match exactly one location unless replace_all is true. Include enough surrounding context to make the match unique."
}

func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute or project-relative path to the file",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring a unique match",
			},
		},
		"required":             []string{"path", "old_string", "new_string"},
		"additionalProperties": false,
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	var a editArgs
	if err := decodeArgs(args, &a); err != nil {
		return Failf(FailureValidation, "Invalid arguments", "%v", err)
	}
	if a.OldString == a.NewString {
		return Fail(FailureValidation, "No change requested",
			"old_string and new_string are identical")
	}
	if a.OldString == "" {
		return Fail(FailureValidation, "Invalid arguments", "old_string must not be empty")
	}

	resolved, err := ResolvePath(ec.ProjectPath, a.Path)
	if err != nil {
		return Failf(FailureAccessDenied, "Access denied", "%v", err)
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Failf(FailureNotFound, "File not found", "%s does not exist", a.Path)
		}
		return Failf(FailureAccessDenied, "Access denied", "cannot read %s: %v", a.Path, err)
	}
	content := string(raw)

	count := strings.Count(content, a.OldString)
	switch {
	case count == 0:
		return Failf(FailureNotFound, "String not found",
			"old_string was not found in %s", a.Path)
	case count > 1 && !a.ReplaceAll:
		return Failf(FailureAmbiguous, "Multiple matches found",
			"old_string occurs %d times in %s; add surrounding context to make it unique, or set replace_all to true", count, a.Path)
	}

	var updated string
	replaced := 1
	if a.ReplaceAll {
		updated = strings.ReplaceAll(content, a.OldString, a.NewString)
		replaced = count
	} else {
		updated = strings.Replace(content, a.OldString, a.NewString, 1)
	}

	if err := os.WriteFile(resolved, []byte(updated), 0644); err != nil {
		return Failf(FailureAccessDenied, "Access denied", "cannot write %s: %v", a.Path, err)
	}

	oldLines := countLines(content)
	newLines := countLines(updated)
	title := fmt.Sprintf("Edited %s", a.Path)
	output := fmt.Sprintf("Replaced %d occurrence(s) in %s (%+d lines)", replaced, a.Path, newLines-oldLines)
	return OkMeta(title, output, map[string]interface{}{
		"path":      resolved,
		"replaced":  replaced,
		"oldLines":  oldLines,
		"newLines":  newLines,
		"lineDelta": newLines - oldLines,
	})
}
