package agent

import (
	"context"
	"testing"
)

// fakeStore serves custom agent configs from a map keyed by name.
type fakeStore struct {
	agents map[string]*Config
}

func (f *fakeStore) GetAgent(ctx context.Context, projectID, name string) (*Config, error) {
	return f.agents[name], nil
}

func (f *fakeStore) ListAgents(ctx context.Context, projectID string) ([]*Config, error) {
	var out []*Config
	for _, cfg := range f.agents {
		out = append(out, cfg)
	}
	return out, nil
}

func TestRegistryGet_BuiltinWins(t *testing.T) {
	r := NewRegistry()
	st := &fakeStore{agents: map[string]*Config{
		"explore": {Name: "explore", Model: "shadow-model"},
	}}

	cfg, err := r.Get(context.Background(), st, "explore", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || !cfg.Builtin {
		t.Fatal("builtin explore must win over a custom agent of the same name")
	}
	if cfg.Model == "shadow-model" {
		t.Error("custom agent shadowed the builtin")
	}
}

func TestRegistryGet_Custom(t *testing.T) {
	r := NewRegistry()
	st := &fakeStore{agents: map[string]*Config{
		"reviewer": {Name: "reviewer", Mode: ModeSubagent, Model: "gpt-4.1"},
	}}

	cfg, err := r.Get(context.Background(), st, "reviewer", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.Model != "gpt-4.1" {
		t.Fatalf("custom agent not resolved: %+v", cfg)
	}

	// Without a project there are no custom agents.
	cfg, err = r.Get(context.Background(), st, "reviewer", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != nil {
		t.Error("custom agent resolved without a project id")
	}

	// Unknown names resolve to nil, not an error.
	cfg, err = r.Get(context.Background(), st, "ghost", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != nil {
		t.Errorf("unexpected config for unknown agent: %+v", cfg)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	st := &fakeStore{agents: map[string]*Config{
		"reviewer": {Name: "reviewer", Mode: ModeSubagent},
		"default":  {Name: "default", Mode: ModeAll}, // reserved name, must be dropped
		"secret":   {Name: "secret", Mode: ModeSubagent, Hidden: true},
	}}

	list, err := r.List(context.Background(), st, "p1", ListOptions{})
	if err != nil {
		t.Fatal(err)
	}

	names := make(map[string]bool)
	defaults := 0
	for _, cfg := range list {
		names[cfg.Name] = true
		if cfg.Name == "default" {
			defaults++
		}
	}
	if !names["reviewer"] || !names["explore"] || !names["plan"] {
		t.Errorf("merged list incomplete: %v", names)
	}
	if defaults != 1 {
		t.Errorf("reserved-name custom agent not dropped: %d defaults", defaults)
	}
	if names["secret"] {
		t.Error("hidden agent listed without IncludeHidden")
	}

	// Name-sorted.
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Fatalf("list not sorted: %q before %q", list[i-1].Name, list[i].Name)
		}
	}
}

func TestRegistryList_ModeFilter(t *testing.T) {
	r := NewRegistry()
	list, err := r.List(context.Background(), nil, "", ListOptions{Mode: ModePrimary})
	if err != nil {
		t.Fatal(err)
	}
	for _, cfg := range list {
		if cfg.Mode == ModeSubagent {
			t.Errorf("subagent-only %q listed for primary mode", cfg.Name)
		}
	}
	// default is ModeAll and must pass any mode filter.
	found := false
	for _, cfg := range list {
		if cfg.Name == NameDefault {
			found = true
		}
	}
	if !found {
		t.Error("default agent missing from primary listing")
	}
}
