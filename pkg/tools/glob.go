package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	globDefaultLimit = 100
	globMaxLimit     = 1000
)

// GlobTool enumerates project files matching a glob pattern, newest first.
// Dotfiles and dot-directories are always excluded from the walk.
type GlobTool struct{}

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Limit   int    `json:"limit"`
}

func NewGlobTool() *GlobTool { return &GlobTool{} }

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (supports ** for recursive matching), sorted by modification time, newest first."
}

func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern, e.g. **/*.go or src/*.ts",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search in (defaults to the project root)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     globMaxLimit,
				"description": "Maximum number of files to return (default 100)",
			},
		},
		"required":             []string{"pattern"},
		"additionalProperties": false,
	}
}

type globMatch struct {
	path    string
	modTime time.Time
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	var a globArgs
	if err := decodeArgs(args, &a); err != nil {
		return Failf(FailureValidation, "Invalid arguments", "%v", err)
	}
	if a.Limit == 0 {
		a.Limit = globDefaultLimit
	}

	root := ec.ProjectPath
	if a.Path != "" {
		resolved, err := ResolvePath(ec.ProjectPath, a.Path)
		if err != nil {
			return Failf(FailureAccessDenied, "Access denied", "%v", err)
		}
		root = resolved
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return Failf(FailureNotFound, "Directory not found", "%s is not a directory", a.Path)
	}

	matches, err := collectGlobMatches(ctx, root, a.Pattern)
	if err != nil {
		return Failf(FailureInternal, "Search failed", "%v", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime.After(matches[j].modTime)
	})

	total := len(matches)
	truncated := total > a.Limit
	if truncated {
		matches = matches[:a.Limit]
	}

	if total == 0 {
		return OkMeta("No matches", fmt.Sprintf("No files match %s", a.Pattern),
			map[string]interface{}{"total": 0})
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.path)
		b.WriteByte('\n')
	}
	if truncated {
		fmt.Fprintf(&b, "... (%d of %d matches shown)\n", a.Limit, total)
	}

	title := fmt.Sprintf("Found %d file(s)", total)
	return OkMeta(title, b.String(), map[string]interface{}{
		"total":     total,
		"returned":  len(matches),
		"truncated": truncated,
	})
}

func collectGlobMatches(ctx context.Context, root, pattern string) ([]globMatch, error) {
	var matches []globMatch
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matchGlob(pattern, rel) {
			info, ierr := d.Info()
			var mt time.Time
			if ierr == nil {
				mt = info.ModTime()
			}
			matches = append(matches, globMatch{path: rel, modTime: mt})
		}
		return nil
	})
	if err != nil && err != ctx.Err() {
		return nil, err
	}
	return matches, ctx.Err()
}

// matchGlob matches a slash-separated relative path against a glob pattern,
// extending path.Match with "**" meaning any number of path segments.
func matchGlob(pattern, rel string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// ** matches zero or more leading segments.
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
