package tools

import "context"

// TaskTool declares the sub-agent spawning tool. Its schema is what the
// model sees; its Execute is intentionally inert. Spawning a session needs
// orchestrator-level state (the store, the session hierarchy), which a
// stateless tool contract should not own, so the orchestrator intercepts
// calls to this tool before its body would run.
type TaskTool struct{}

// TaskArgs is the decoded argument set for a task call. Exported because the
// orchestrator decodes the intercepted call itself.
type TaskArgs struct {
	Description     string `json:"description"`
	Prompt          string `json:"prompt"`
	SubagentType    string `json:"subagent_type"`
	MaxTurns        int    `json:"max_turns"`
	Model           string `json:"model"`
	RunInBackground bool   `json:"run_in_background"`
	Resume          string `json:"resume"`
}

// DecodeTaskArgs decodes a task tool call's arguments.
func DecodeTaskArgs(args map[string]interface{}) (TaskArgs, error) {
	var a TaskArgs
	err := decodeArgs(args, &a)
	return a, err
}

func NewTaskTool() *TaskTool { return &TaskTool{} }

func (t *TaskTool) Name() string { return "task" }

func (t *TaskTool) Description() string {
	return "Delegate a task to a sub-agent running in its own session. Use subagent_type to pick a specialist (e.g. explore for read-only investigation, plan for design work). Set run_in_background to continue without waiting; the returned session id can be inspected or resumed later."
}

func (t *TaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable label for the task",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Full instructions for the sub-agent",
			},
			"subagent_type": map[string]interface{}{
				"type":        "string",
				"description": "Agent configuration to run the task with (e.g. default, explore, plan)",
			},
			"max_turns": map[string]interface{}{
				"type":        "integer",
				"minimum":     1,
				"maximum":     50,
				"description": "Turn budget for the sub-agent (defaults per agent type)",
			},
			"model": map[string]interface{}{
				"type":        "string",
				"description": "Model alias to run the sub-agent with (defaults to the parent's model)",
			},
			"run_in_background": map[string]interface{}{
				"type":        "boolean",
				"description": "Return immediately with the child session id instead of waiting",
			},
			"resume": map[string]interface{}{
				"type":        "string",
				"description": "Existing child session id to continue instead of creating a new one",
			},
		},
		"required":             []string{"description", "prompt", "subagent_type"},
		"additionalProperties": false,
	}
}

func (t *TaskTool) Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	// Reached only if the orchestrator's interception is missing.
	return Fail(FailureInternal, "Task not intercepted",
		"the task tool must be executed by the orchestrator, not called directly")
}
