package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	grepDefaultLimit    = 50
	grepMaxLimit        = 100
	grepMaxContextLines = 10
	grepMaxFileSize     = 1 << 20 // 1 MiB
	grepBinaryProbe     = 1024
	grepMaxLineChars    = 200
)

// GrepTool searches file contents with a regular expression. Binary files
// and files over 1 MiB are skipped.
type GrepTool struct{}

type grepArgs struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path"`
	FilePattern     string `json:"filePattern"`
	CaseInsensitive bool   `json:"caseInsensitive"`
	ContextLines    int    `json:"contextLines"`
	Limit           int    `json:"limit"`
}

func NewGrepTool() *GrepTool { return &GrepTool{} }

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression. Returns matching lines with file path and 1-based line number, optionally with surrounding context."
}

func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search in (defaults to the project root)",
			},
			"filePattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern restricting which files are searched, e.g. **/*.go",
			},
			"caseInsensitive": map[string]interface{}{
				"type":        "boolean",
				"description": "Match case-insensitively",
			},
			"contextLines": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"maximum":     grepMaxContextLines,
				"description": "Lines of context to include around each match",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     grepMaxLimit,
				"description": "Maximum number of matches to return (default 50)",
			},
		},
		"required":             []string{"pattern"},
		"additionalProperties": false,
	}
}

type grepMatch struct {
	file string
	line int
	text string
	ctx  []string
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	var a grepArgs
	if err := decodeArgs(args, &a); err != nil {
		return Failf(FailureValidation, "Invalid arguments", "%v", err)
	}
	if a.Limit == 0 {
		a.Limit = grepDefaultLimit
	}
	if a.FilePattern == "" {
		a.FilePattern = "**/*"
	}

	// Compile before any file I/O so a bad pattern fails fast.
	expr := a.Pattern
	if a.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Failf(FailureInvalidPattern, "Invalid pattern", "invalid regular expression: %v", err)
	}

	root := ec.ProjectPath
	if a.Path != "" {
		resolved, rerr := ResolvePath(ec.ProjectPath, a.Path)
		if rerr != nil {
			return Failf(FailureAccessDenied, "Access denied", "%v", rerr)
		}
		root = resolved
	}
	if info, serr := os.Stat(root); serr != nil || !info.IsDir() {
		return Failf(FailureNotFound, "Directory not found", "%s is not a directory", a.Path)
	}

	candidates, err := collectGlobMatches(ctx, root, a.FilePattern)
	if err != nil {
		return Failf(FailureInternal, "Search failed", "%v", err)
	}

	var matches []grepMatch
	truncated := false
	for _, c := range candidates {
		if ctx.Err() != nil {
			return Failf(FailureTimeout, "Search cancelled", "%v", ctx.Err())
		}
		fileMatches, ferr := grepFile(filepath.Join(root, c.path), c.path, re, a.ContextLines, a.Limit-len(matches))
		if ferr != nil {
			continue
		}
		matches = append(matches, fileMatches...)
		if len(matches) >= a.Limit {
			truncated = true
			break
		}
	}

	if len(matches) == 0 {
		return OkMeta("No matches", fmt.Sprintf("No matches for %s", a.Pattern),
			map[string]interface{}{"matches": 0})
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d: %s\n", m.file, m.line, truncateLine(m.text, grepMaxLineChars))
		for _, cl := range m.ctx {
			b.WriteString(cl)
			b.WriteByte('\n')
		}
	}
	if truncated {
		fmt.Fprintf(&b, "... (limit of %d matches reached)\n", a.Limit)
	}

	title := fmt.Sprintf("Found %d match(es)", len(matches))
	return OkMeta(title, b.String(), map[string]interface{}{
		"matches":   len(matches),
		"truncated": truncated,
	})
}

// grepFile scans one file and returns up to max matches. Oversized and
// binary-looking files are skipped silently.
func grepFile(absPath, relPath string, re *regexp.Regexp, contextLines, max int) ([]grepMatch, error) {
	if max <= 0 {
		return nil, nil
	}

	info, err := os.Stat(absPath)
	if err != nil || info.Size() > grepMaxFileSize {
		return nil, err
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	probe := make([]byte, grepBinaryProbe)
	n, _ := f.Read(probe)
	if bytes.IndexByte(probe[:n], 0) >= 0 {
		return nil, nil // binary heuristic: NUL byte in the first KiB
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), grepMaxFileSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var out []grepMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		m := grepMatch{file: relPath, line: i + 1, text: line}
		if contextLines > 0 {
			start := i - contextLines
			if start < 0 {
				start = 0
			}
			end := i + contextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			for j := start; j < end; j++ {
				if j == i {
					continue
				}
				m.ctx = append(m.ctx, fmt.Sprintf("%s:%d  %s", relPath, j+1, truncateLine(lines[j], grepMaxLineChars)))
			}
		}
		out = append(out, m)
		if len(out) >= max {
			break
		}
	}
	return out, nil
}
