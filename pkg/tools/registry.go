package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ericvicenti/botical-sub003/pkg/logger"
)

// RegisteredTool pairs a tool with its registry metadata and compiled
// argument schema. Owned exclusively by the registry.
type RegisteredTool struct {
	Tool
	Category              Category
	RequiresCodeExecution bool

	schema *jsonschema.Schema
}

// RegisterOptions carries per-tool registry metadata.
type RegisterOptions struct {
	Category              Category
	RequiresCodeExecution bool
}

// Registry is the process-wide tool catalog. It is an explicit value owned by
// the composition root: registration happens during startup, before any
// concurrent execution, and is idempotent so repeated module initialization
// cannot produce duplicate-registration errors.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*RegisteredTool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*RegisteredTool)}
}

// Register inserts a tool under its name. If the name is already taken the
// call is a no-op: first registration wins. An invalid parameter schema is
// the only way to fail.
func (r *Registry) Register(tool Tool, opts RegisterOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		return nil
	}

	schema, err := compileParameterSchema(tool.Name(), tool.Parameters())
	if err != nil {
		return fmt.Errorf("tool %q: %w", tool.Name(), err)
	}

	cat := opts.Category
	if cat == "" {
		cat = CategoryOther
	}

	r.tools[tool.Name()] = &RegisteredTool{
		Tool:                  tool,
		Category:              cat,
		RequiresCodeExecution: opts.RequiresCodeExecution,
		schema:                schema,
	}
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (*RegisteredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// sortedNames returns tool names in sorted order for deterministic iteration.
// Stable ordering keeps exported tool definitions byte-identical across
// calls, which matters for the provider's prompt prefix cache.
func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered tool, name-sorted.
func (r *Registry) All() []*RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RegisteredTool, 0, len(r.tools))
	for _, name := range r.sortedNames() {
		out = append(out, r.tools[name])
	}
	return out
}

// ByCategory returns registered tools of one category, name-sorted.
func (r *Registry) ByCategory(cat Category) []*RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*RegisteredTool
	for _, name := range r.sortedNames() {
		if t := r.tools[name]; t.Category == cat {
			out = append(out, t)
		}
	}
	return out
}

// Callable is one exported tool in the calling convention the completion
// provider expects, with the execution context closed over.
type Callable struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Invoke      func(ctx context.Context, args map[string]interface{}) ToolResult
}

// CallableOptions filters a Callable export.
type CallableOptions struct {
	// Names restricts the export to an allow-list, preserving its order.
	// Nil means every registered tool, name-sorted.
	Names []string
	// CanExecuteCode gates tools registered with RequiresCodeExecution.
	// The gate is enforced here, centrally: a gated tool is simply never
	// exported to a caller without the capability.
	CanExecuteCode bool
}

// Callable exports the permitted subset of registered tools bound to an
// execution context.
func (r *Registry) Callable(ec *ExecutionContext, opts CallableOptions) []Callable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := opts.Names
	if names == nil {
		names = r.sortedNames()
	}

	out := make([]Callable, 0, len(names))
	for _, name := range names {
		rt, ok := r.tools[name]
		if !ok {
			continue
		}
		if rt.RequiresCodeExecution && !opts.CanExecuteCode {
			continue
		}
		out = append(out, r.callable(rt, ec))
	}
	return out
}

func (r *Registry) callable(rt *RegisteredTool, ec *ExecutionContext) Callable {
	return Callable{
		Name:        rt.Name(),
		Description: rt.Description(),
		Parameters:  rt.Parameters(),
		Invoke: func(ctx context.Context, args map[string]interface{}) ToolResult {
			return r.execute(ctx, rt, args, ec)
		},
	}
}

// Execute runs a registered tool by name with validation and recovery.
// Unknown names come back as a failed result, not an error: a model
// hallucinating a tool name must not abort the turn loop.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, ec *ExecutionContext) ToolResult {
	rt, ok := r.Get(name)
	if !ok {
		return Failf(FailureNotFound, "Unknown tool", "tool %q is not registered", name)
	}
	return r.execute(ctx, rt, args, ec)
}

func (r *Registry) execute(ctx context.Context, rt *RegisteredTool, args map[string]interface{}, ec *ExecutionContext) (result ToolResult) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tool", "Tool panicked",
				map[string]interface{}{"tool": rt.Name(), "panic": fmt.Sprint(rec)})
			result = Failf(FailureInternal, "Tool error", "tool %s failed: %v", rt.Name(), rec)
		}
		logger.InfoCF("tool", "Tool execution finished",
			map[string]interface{}{
				"tool":        rt.Name(),
				"duration_ms": time.Since(start).Milliseconds(),
				"success":     result.Success,
			})
	}()

	normalized, err := normalizeArgs(args)
	if err != nil {
		return Failf(FailureValidation, "Invalid arguments", "arguments are not valid JSON: %v", err)
	}

	if rt.schema != nil {
		if err := rt.schema.Validate(normalized); err != nil {
			return Failf(FailureValidation, "Invalid arguments", "invalid arguments for %s: %v", rt.Name(), err)
		}
	}

	return rt.Execute(ctx, normalized.(map[string]interface{}), ec)
}

// compileParameterSchema compiles a tool's declared parameter schema once.
func compileParameterSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameter schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse parameter schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := "tool://" + name + "/schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return schema, nil
}

// normalizeArgs round-trips args through JSON so both schema validation and
// tool decoding see canonical JSON types regardless of how the args map was
// constructed.
func normalizeArgs(args map[string]interface{}) (interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeArgs unmarshals a normalized args map into a typed argument struct.
func decodeArgs(args map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
