package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	bashDefaultTimeout = 120 // seconds
	bashMaxTimeout     = 600
	bashMaxOutput      = 30000 // per stream, characters
	bashKillGrace      = 5 * time.Second
)

// BashTool runs a shell command rooted at the project directory. Requires the
// code-execution capability: the registry never exports it to callers
// without canExecuteCode.
type BashTool struct{}

type bashArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

func NewBashTool() *BashTool { return &BashTool{} }

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the project directory. Output is captured and truncated at 30000 characters per stream. Commands are killed after the timeout (default 120s, max 600s)."
}

func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     bashMaxTimeout,
				"description": "Timeout in seconds (default 120)",
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}
}

// commandEnv builds the explicit, non-interactive environment for spawned
// commands. Nothing else from the parent environment leaks through except
// PATH and HOME, which most tooling cannot run without.
func commandEnv() []string {
	env := []string{
		"TERM=dumb",
		"NO_COLOR=1",
		"PAGER=cat",
		"GIT_TERMINAL_PROMPT=0",
		"CI=true",
	}
	if p := os.Getenv("PATH"); p != "" {
		env = append(env, "PATH="+p)
	}
	if h := os.Getenv("HOME"); h != "" {
		env = append(env, "HOME="+h)
	}
	return env
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	var a bashArgs
	if err := decodeArgs(args, &a); err != nil {
		return Failf(FailureValidation, "Invalid arguments", "%v", err)
	}
	if strings.TrimSpace(a.Command) == "" {
		return Fail(FailureValidation, "Invalid arguments", "command must not be empty")
	}
	if a.Timeout == 0 {
		a.Timeout = bashDefaultTimeout
	}

	out, err := ec.runner().Run(ctx, CommandSpec{
		Command:   a.Command,
		Dir:       ec.ProjectPath,
		Env:       commandEnv(),
		Timeout:   time.Duration(a.Timeout) * time.Second,
		Grace:     bashKillGrace,
		MaxOutput: bashMaxOutput,
	})
	if err != nil {
		return Failf(FailureInternal, "Command failed to start", "%v", err)
	}

	var b strings.Builder
	b.WriteString(out.Stdout)
	if out.Stderr != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("STDERR:\n")
		b.WriteString(out.Stderr)
	}
	if out.Truncated {
		fmt.Fprintf(&b, "\n[output truncated at %d characters per stream]", bashMaxOutput)
	}
	if out.TimedOut {
		fmt.Fprintf(&b, "\n[command timed out after %ds]", a.Timeout)
	}
	if b.Len() == 0 {
		b.WriteString("(no output)")
	}

	meta := map[string]interface{}{
		"exitCode":  out.ExitCode,
		"timedOut":  out.TimedOut,
		"truncated": out.Truncated,
	}

	if out.TimedOut {
		return ToolResult{
			Title:    fmt.Sprintf("Command timed out after %ds", a.Timeout),
			Output:   b.String(),
			Metadata: mergeMeta(meta, FailureTimeout),
			Success:  false,
		}
	}
	if out.ExitCode != 0 {
		return ToolResult{
			Title:    fmt.Sprintf("Command exited with code %d", out.ExitCode),
			Output:   b.String(),
			Metadata: meta,
			Success:  false,
		}
	}
	return OkMeta("Command completed", b.String(), meta)
}

func mergeMeta(meta map[string]interface{}, kind FailureKind) map[string]interface{} {
	meta["error"] = string(kind)
	return meta
}
