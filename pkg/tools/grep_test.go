package tools

import (
	"context"
	"strings"
	"testing"
)

func TestGrepTool(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "a.go", "package a\n\nfunc Handler() {}\n")
	writeTestFile(t, ec, "sub/b.go", "package b\n\nfunc handler() {}\n")
	writeTestFile(t, ec, "c.txt", "no functions here\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern":     "func Handler",
		"filePattern": "**/*.go",
	}, ec)
	if !result.Success {
		t.Fatalf("grep failed: %s", result.Output)
	}
	if !strings.Contains(result.Output, "a.go:3: func Handler() {}") {
		t.Errorf("expected path:line: text form:\n%s", result.Output)
	}
	if strings.Contains(result.Output, "b.go") {
		t.Errorf("case-sensitive search matched lowercase:\n%s", result.Output)
	}
	if result.Metadata["matches"] != 1 {
		t.Errorf("matches: %v", result.Metadata["matches"])
	}
}

func TestGrepTool_CaseInsensitive(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "a.go", "func Handler() {}\n")
	writeTestFile(t, ec, "b.go", "func handler() {}\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern":         "handler",
		"caseInsensitive": true,
	}, ec)
	if !result.Success {
		t.Fatalf("grep failed: %s", result.Output)
	}
	if result.Metadata["matches"] != 2 {
		t.Errorf("matches: %v\n%s", result.Metadata["matches"], result.Output)
	}
}

func TestGrepTool_Context(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "f.txt", "one\ntwo\nthree\nfour\nfive\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern":      "three",
		"contextLines": 1,
	}, ec)
	if !result.Success {
		t.Fatalf("grep failed: %s", result.Output)
	}
	if !strings.Contains(result.Output, "f.txt:3: three") {
		t.Errorf("match line missing:\n%s", result.Output)
	}
	if !strings.Contains(result.Output, "f.txt:2") || !strings.Contains(result.Output, "f.txt:4") {
		t.Errorf("context lines missing:\n%s", result.Output)
	}
	if strings.Contains(result.Output, "f.txt:5") {
		t.Errorf("context too wide:\n%s", result.Output)
	}
}

func TestGrepTool_InvalidPattern(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "a.txt", "data\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern": "[unclosed",
	}, ec)
	if result.Success {
		t.Fatal("expected failure for invalid regex")
	}
	if FailureOf(result) != FailureInvalidPattern {
		t.Errorf("failure kind: got %q", FailureOf(result))
	}
}

func TestGrepTool_SkipsBinary(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "bin.dat", "match\x00me\n")
	writeTestFile(t, ec, "text.txt", "match me\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern": "match",
	}, ec)
	if !result.Success {
		t.Fatalf("grep failed: %s", result.Output)
	}
	if strings.Contains(result.Output, "bin.dat") {
		t.Errorf("binary file should be skipped:\n%s", result.Output)
	}
	if !strings.Contains(result.Output, "text.txt") {
		t.Errorf("text file missing:\n%s", result.Output)
	}
}

func TestGrepTool_NoMatches(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "a.txt", "data\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern": "absent",
	}, ec)
	if !result.Success {
		t.Fatalf("no matches is a successful result: %s", result.Output)
	}
	if result.Metadata["matches"] != 0 {
		t.Errorf("matches: %v", result.Metadata["matches"])
	}
}

func TestGrepTool_LongLineTruncated(t *testing.T) {
	ec := testEC(t)
	writeTestFile(t, ec, "long.txt", "needle "+strings.Repeat("x", 500)+"\n")

	result := NewGrepTool().Execute(context.Background(), map[string]interface{}{
		"pattern": "needle",
	}, ec)
	if !result.Success {
		t.Fatalf("grep failed: %s", result.Output)
	}
	if strings.Contains(result.Output, strings.Repeat("x", 300)) {
		t.Errorf("long line was not truncated:\n%s", result.Output)
	}
	if !strings.Contains(result.Output, "...") {
		t.Errorf("truncation marker missing:\n%s", result.Output)
	}
}
