package agent

// Built-in agent names. These are reserved: a custom agent with one of these
// names never shadows the built-in.
const (
	NameDefault = "default"
	NameExplore = "explore"
	NamePlan    = "plan"
)

// defaultTurnBudget is the fallback task turn budget when the caller does
// not pass max_turns and the agent type has no entry of its own.
const defaultTurnBudget = 25

// turnBudgets maps agent types to their default task turn budget.
var turnBudgets = map[string]int{
	NameDefault: 25,
	NameExplore: 15,
	NamePlan:    20,
}

// TurnBudget returns the default task turn budget for an agent type.
func TurnBudget(agentType string) int {
	if b, ok := turnBudgets[agentType]; ok {
		return b
	}
	return defaultTurnBudget
}

var builtins = map[string]*Config{
	NameDefault: {
		Name:        NameDefault,
		Description: "General-purpose agent with the full tool set",
		Mode:        ModeAll,
		MaxSteps:    25,
		Builtin:     true,
	},
	NameExplore: {
		Name:        NameExplore,
		Description: "Read-only agent for investigating the project: reads, searches, and reports back without modifying anything",
		Mode:        ModeSubagent,
		MaxSteps:    15,
		Tools:       []string{"read", "glob", "grep"},
		SystemPrompt: "You are an exploration agent. Investigate the project to answer the question you were given. " +
			"You cannot modify files or run commands; gather evidence with read, glob, and grep, then report your findings concisely.",
		Builtin: true,
	},
	NamePlan: {
		Name:        NamePlan,
		Description: "Read-only agent that produces an implementation plan",
		Mode:        ModeSubagent,
		MaxSteps:    20,
		Tools:       []string{"read", "glob", "grep"},
		SystemPrompt: "You are a planning agent. Study the relevant parts of the project and produce a concrete, " +
			"step-by-step implementation plan. Do not modify anything.",
		Builtin: true,
	},
}

// Builtin returns the built-in config for a name, or nil.
func Builtin(name string) *Config {
	if cfg, ok := builtins[name]; ok {
		return cfg.Clone()
	}
	return nil
}

// IsReservedName reports whether a name belongs to a built-in agent. The
// custom-agent creation path uses this to reject collisions up front.
func IsReservedName(name string) bool {
	_, ok := builtins[name]
	return ok
}
