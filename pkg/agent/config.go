// Package agent defines agent configurations and the registry that resolves
// them. Built-in agents are process-wide constants; custom agents are loaded
// per project from the store and can never shadow a built-in name.
package agent

// Mode declares where an agent may be used.
type Mode string

const (
	// ModePrimary agents drive top-level sessions.
	ModePrimary Mode = "primary"
	// ModeSubagent agents are only reachable through the task tool.
	ModeSubagent Mode = "subagent"
	// ModeAll agents can do both.
	ModeAll Mode = "all"
)

// Config is one agent's resolved configuration.
type Config struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Mode         Mode     `json:"mode"`
	Hidden       bool     `json:"hidden,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	// Tools is an ordered allow-list. Empty means the agent may use every
	// tool made available to it.
	Tools   []string `json:"tools,omitempty"`
	Builtin bool     `json:"-"`
}

// Clone returns a deep copy so callers can mutate merged configs freely.
func (c *Config) Clone() *Config {
	out := *c
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		out.TopP = &v
	}
	if c.Tools != nil {
		out.Tools = append([]string(nil), c.Tools...)
	}
	return &out
}

// Merge overlays non-zero scalar fields of overrides onto base. If overrides
// declares a tool list it replaces the base list outright rather than
// unioning with it: the override expresses complete intent about tools.
func Merge(base, overrides *Config) *Config {
	out := base.Clone()
	if overrides == nil {
		return out
	}
	if overrides.Description != "" {
		out.Description = overrides.Description
	}
	if overrides.Mode != "" {
		out.Mode = overrides.Mode
	}
	if overrides.Provider != "" {
		out.Provider = overrides.Provider
	}
	if overrides.Model != "" {
		out.Model = overrides.Model
	}
	if overrides.Temperature != nil {
		v := *overrides.Temperature
		out.Temperature = &v
	}
	if overrides.TopP != nil {
		v := *overrides.TopP
		out.TopP = &v
	}
	if overrides.MaxSteps != 0 {
		out.MaxSteps = overrides.MaxSteps
	}
	if overrides.SystemPrompt != "" {
		out.SystemPrompt = overrides.SystemPrompt
	}
	if overrides.Tools != nil {
		out.Tools = append([]string(nil), overrides.Tools...)
	}
	return out
}

// ResolveTools computes the tool names an agent may actually use. An agent
// with no declared list gets everything in available; otherwise the result
// is the intersection of the agent's list with available, in the agent's
// declared order. The narrower permission always wins.
func ResolveTools(cfg *Config, available []string) []string {
	if len(cfg.Tools) == 0 {
		return append([]string(nil), available...)
	}
	if available == nil {
		return append([]string(nil), cfg.Tools...)
	}
	allowed := make(map[string]bool, len(available))
	for _, name := range available {
		allowed[name] = true
	}
	var out []string
	for _, name := range cfg.Tools {
		if allowed[name] {
			out = append(out, name)
		}
	}
	return out
}
