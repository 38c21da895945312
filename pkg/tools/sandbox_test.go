package tools

import (
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative", "src/main.go", filepath.Join(root, "src", "main.go"), false},
		{"dot", ".", root, false},
		{"absolute inside", filepath.Join(root, "a.txt"), filepath.Join(root, "a.txt"), false},
		{"traversal escape", "../outside.txt", "", true},
		{"nested traversal escape", "src/../../outside.txt", "", true},
		{"absolute outside", "/etc/passwd", "", true},
		{"traversal that stays inside", "src/../a.txt", filepath.Join(root, "a.txt"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(root, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolvePath(%q): expected error, got %q", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolvePath(%q): %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolvePath_SiblingPrefix(t *testing.T) {
	// A sibling directory sharing the root as a name prefix must not pass
	// containment.
	base := t.TempDir()
	root := filepath.Join(base, "proj")
	sibling := filepath.Join(base, "proj-other", "file.txt")
	if _, err := ResolvePath(root, sibling); err == nil {
		t.Fatal("expected sibling prefix path to be rejected")
	}
}

func TestResolvePath_NoRoot(t *testing.T) {
	if _, err := ResolvePath("", "a.txt"); err == nil {
		t.Fatal("expected error with empty project path")
	}
}
