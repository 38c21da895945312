package agent

import (
	"context"
	"sort"
)

// Store is the narrow slice of the persistence layer the registry needs for
// project-defined agents.
type Store interface {
	GetAgent(ctx context.Context, projectID, name string) (*Config, error)
	ListAgents(ctx context.Context, projectID string) ([]*Config, error)
}

// Registry resolves agent names to configurations: built-ins first, then
// project-defined custom agents when a store and project are available.
type Registry struct{}

func NewRegistry() *Registry { return &Registry{} }

// Get resolves an agent by name. Built-in names always win, so they resolve
// even with no store at all; custom agents are consulted only when both a
// store and a project id are supplied. Returns nil when nothing matches.
func (r *Registry) Get(ctx context.Context, store Store, name, projectID string) (*Config, error) {
	if cfg := Builtin(name); cfg != nil {
		return cfg, nil
	}
	if store == nil || projectID == "" {
		return nil, nil
	}
	cfg, err := store.GetAgent(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListOptions filters a merged agent listing.
type ListOptions struct {
	Mode          Mode
	IncludeHidden bool
	BuiltinOnly   bool
	CustomOnly    bool
}

// List merges built-in and custom agents, filters, and returns them sorted
// by name. A custom agent reusing a reserved name is dropped from the merge
// rather than shadowing the built-in.
func (r *Registry) List(ctx context.Context, store Store, projectID string, opts ListOptions) ([]*Config, error) {
	var out []*Config

	if !opts.CustomOnly {
		for name := range builtins {
			out = append(out, Builtin(name))
		}
	}

	if !opts.BuiltinOnly && store != nil && projectID != "" {
		custom, err := store.ListAgents(ctx, projectID)
		if err != nil {
			return nil, err
		}
		for _, cfg := range custom {
			if IsReservedName(cfg.Name) {
				continue
			}
			out = append(out, cfg)
		}
	}

	filtered := out[:0]
	for _, cfg := range out {
		if cfg.Hidden && !opts.IncludeHidden {
			continue
		}
		if opts.Mode != "" && cfg.Mode != opts.Mode && cfg.Mode != ModeAll {
			continue
		}
		filtered = append(filtered, cfg)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })
	return filtered, nil
}
