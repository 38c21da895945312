package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolvePath resolves a tool-supplied path against the project root and
// enforces containment: the cleaned absolute path must equal the root or be
// a descendant of it. Relative paths are taken relative to the root, not the
// process working directory.
func ResolvePath(projectPath, path string) (string, error) {
	if projectPath == "" {
		return "", fmt.Errorf("project path not configured")
	}
	root := filepath.Clean(projectPath)

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(root, path))
	}

	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the project directory", path)
	}

	return resolved, nil
}

// truncateLine caps a single line at max characters, marking the cut.
func truncateLine(line string, max int) string {
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
