package tools

import (
	"context"
	"time"
)

// CommandSpec describes one subprocess invocation. The environment is built
// explicitly per spawn; nothing is inherited implicitly beyond what the
// runner puts in Env.
type CommandSpec struct {
	Command string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Grace is how long to wait after a termination signal before the
	// process is killed outright.
	Grace time.Duration
	// MaxOutput caps each of stdout and stderr; output beyond the cap is
	// discarded as it arrives, not buffered then trimmed.
	MaxOutput int
}

// CommandOutput is what a finished (or killed) subprocess produced.
type CommandOutput struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
}

// CommandRunner spawns OS processes with timeout and cancellation. The bash
// tool consumes this interface; tests substitute fakes.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (CommandOutput, error)
}

// ExecutionContext carries per-call state into a tool invocation. It is
// built fresh for every call and never persisted. Cancellation arrives
// through the ctx passed to Execute.
type ExecutionContext struct {
	// ProjectPath is the absolute, cleaned workspace root. Every resolved
	// filesystem path must stay inside it.
	ProjectPath string
	ProjectID   string
	SessionID   string
	UserID      string

	// UpdateMetadata lets long-running tools report progress. May be nil.
	UpdateMetadata func(map[string]interface{})

	// Runner is the process-spawn capability used by execution tools.
	// Nil means the local runner.
	Runner CommandRunner
}

// ReportProgress invokes the metadata callback when one is attached.
func (ec *ExecutionContext) ReportProgress(meta map[string]interface{}) {
	if ec != nil && ec.UpdateMetadata != nil {
		ec.UpdateMetadata(meta)
	}
}

func (ec *ExecutionContext) runner() CommandRunner {
	if ec != nil && ec.Runner != nil {
		return ec.Runner
	}
	return localRunner{}
}
