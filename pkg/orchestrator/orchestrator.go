// Package orchestrator runs conversation turns: it resolves the session's
// agent, exports the permitted tool set, drives the completion loop, executes
// tool calls, and persists every message. Task tool calls never reach the
// tool registry; the orchestrator intercepts them and spawns child sessions.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericvicenti/botical-sub003/pkg/agent"
	"github.com/ericvicenti/botical-sub003/pkg/config"
	"github.com/ericvicenti/botical-sub003/pkg/cost"
	"github.com/ericvicenti/botical-sub003/pkg/logger"
	"github.com/ericvicenti/botical-sub003/pkg/providers"
	"github.com/ericvicenti/botical-sub003/pkg/store"
	"github.com/ericvicenti/botical-sub003/pkg/tools"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAgentNotFound   = errors.New("agent not found")
)

const maxTokensPerCall = 8192

// ProviderFactory builds a completion provider for a model and an optional
// explicit provider name. Swappable for tests.
type ProviderFactory func(model, providerName string, cfg *config.Config) (providers.LLMProvider, error)

type Orchestrator struct {
	store   *store.Store
	tools   *tools.Registry
	agents  *agent.Registry
	cfg     *config.Config
	factory ProviderFactory
}

func New(st *store.Store, tr *tools.Registry, ar *agent.Registry, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:   st,
		tools:   tr,
		agents:  ar,
		cfg:     cfg,
		factory: providers.CreateProviderForModel,
	}
}

// SetProviderFactory overrides provider construction.
func (o *Orchestrator) SetProviderFactory(f ProviderFactory) {
	o.factory = f
}

// RunRequest starts one turn on an existing session.
type RunRequest struct {
	SessionID string
	Input     string
	// Agent overrides the session's stored agent for this run when set.
	Agent string
	// CanExecuteCode gates execution-category tools for this run and every
	// child session it spawns.
	CanExecuteCode bool
	// MaxSteps overrides the agent's step budget when positive.
	MaxSteps int
	// Model overrides the agent's model when set. Already alias-resolved.
	Model string
	// OnEvent, when set, receives turn progress as it happens. Called from
	// the run's goroutine; handlers must not block.
	OnEvent func(Event)
}

// Event types delivered through RunRequest.OnEvent.
const (
	EventAssistant  = "assistant"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventDone       = "done"
)

// Event is one step of turn progress.
type Event struct {
	Type    string
	Step    int
	Content string
	// Tool is set for tool_call and tool_result events.
	Tool    string
	Success bool
}

func (req RunRequest) emit(ev Event) {
	if req.OnEvent != nil {
		req.OnEvent(ev)
	}
}

// RunResult is the outcome of one completed turn.
type RunResult struct {
	SessionID string
	Content   string
	Steps     int
}

// Run executes one conversation turn to completion.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	sess, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}

	agentName := sess.Agent
	if req.Agent != "" {
		agentName = req.Agent
	}
	agentCfg, err := o.agents.Get(ctx, o.store, agentName, sess.ProjectID)
	if err != nil {
		return nil, err
	}
	if agentCfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}

	project, err := o.store.GetProject(ctx, sess.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project not found: %s", sess.ProjectID)
	}

	if err := o.store.SetSessionStatus(ctx, sess.ID, store.StatusRunning); err != nil {
		return nil, err
	}

	result, runErr := o.runTurn(ctx, sess, agentCfg, project, req)

	status := store.StatusIdle
	if runErr != nil {
		status = store.StatusError
	}
	if err := o.store.SetSessionStatus(context.WithoutCancel(ctx), sess.ID, status); err != nil {
		logger.ErrorCF("orchestrator", "Failed to update session status",
			map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}

	return result, runErr
}

func (o *Orchestrator) runTurn(ctx context.Context, sess *store.Session, agentCfg *agent.Config, project *store.Project, req RunRequest) (*RunResult, error) {
	start := time.Now()

	// Per-run request overrides shadow the stored agent config, and the
	// merged config is what child tasks inherit from.
	agentCfg = agent.Merge(agentCfg, &agent.Config{Model: req.Model, MaxSteps: req.MaxSteps})

	model := agentCfg.Model
	if model == "" {
		model = o.cfg.Defaults.Model
	}
	model = o.cfg.ResolveModelAlias(model)

	providerName := agentCfg.Provider
	if providerName == "" {
		providerName = o.cfg.Defaults.Provider
	}

	provider, err := o.factory(model, providerName, o.cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	maxSteps := agentCfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = agent.TurnBudget(agentCfg.Name)
	}

	ec := &tools.ExecutionContext{
		ProjectPath: project.Path,
		ProjectID:   project.ID,
		SessionID:   sess.ID,
	}
	callables := o.tools.Callable(ec, tools.CallableOptions{
		Names:          callableNames(agentCfg),
		CanExecuteCode: req.CanExecuteCode,
	})
	byName := make(map[string]tools.Callable, len(callables))
	toolDefs := make([]providers.ToolDefinition, 0, len(callables))
	for _, c := range callables {
		byName[c.Name] = c
		toolDefs = append(toolDefs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  c.Parameters,
			},
		})
	}

	messages, err := o.buildMessages(ctx, sess, agentCfg)
	if err != nil {
		return nil, err
	}

	// The user message is persisted before the first provider call so a
	// provider failure never loses the input.
	if _, err := o.store.AppendMessage(ctx, &store.Message{
		SessionID: sess.ID,
		Role:      store.RoleUser,
		Content:   req.Input,
	}); err != nil {
		return nil, err
	}
	messages = append(messages, providers.Message{Role: "user", Content: req.Input})

	var (
		finalContent string
		steps        int
		appended     = 1
		inputTokens  int64
		outputTokens int64
		costUSD      float64
	)

	for steps < maxSteps {
		steps++

		logger.DebugCF("orchestrator", "Completion step", map[string]interface{}{
			"session_id": sess.ID,
			"step":       steps,
			"max":        maxSteps,
			"model":      model,
		})

		options := map[string]interface{}{"max_tokens": maxTokensPerCall}
		if agentCfg.Temperature != nil {
			options["temperature"] = *agentCfg.Temperature
		}
		if agentCfg.TopP != nil {
			options["top_p"] = *agentCfg.TopP
		}

		response, err := provider.Chat(ctx, messages, toolDefs, model, options)
		if err != nil {
			// Record the failure on an assistant placeholder so the session
			// history shows where the turn broke.
			failed, appendErr := o.store.AppendMessage(context.WithoutCancel(ctx), &store.Message{
				SessionID: sess.ID,
				Role:      store.RoleAssistant,
			})
			if appendErr == nil {
				_ = o.store.MarkMessageErrored(context.WithoutCancel(ctx), failed.ID, "provider_error", err.Error())
			}
			return nil, fmt.Errorf("provider call failed: %w", err)
		}

		var stepIn, stepOut int64
		if response.Usage != nil {
			stepIn = int64(response.Usage.PromptTokens)
			stepOut = int64(response.Usage.CompletionTokens)
			inputTokens += stepIn
			outputTokens += stepOut
			costUSD += cost.ForUsage(model, stepIn, stepOut, o.cfg.ModelPrices)
		}

		assistantMsg := providers.Message{Role: "assistant", Content: response.Content}
		for _, tc := range response.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCallPayload{
				ID:   tc.ID,
				Type: "function",
				Function: providers.FunctionCallPayload{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		messages = append(messages, assistantMsg)

		var toolCallsJSON string
		if len(assistantMsg.ToolCalls) > 0 {
			raw, _ := json.Marshal(assistantMsg.ToolCalls)
			toolCallsJSON = string(raw)
		}
		if _, err := o.store.AppendMessage(ctx, &store.Message{
			SessionID:    sess.ID,
			Role:         store.RoleAssistant,
			Content:      response.Content,
			ToolCalls:    toolCallsJSON,
			InputTokens:  stepIn,
			OutputTokens: stepOut,
		}); err != nil {
			return nil, err
		}
		appended++

		if response.Content != "" {
			req.emit(Event{Type: EventAssistant, Step: steps, Content: response.Content})
		}

		if len(response.ToolCalls) == 0 {
			finalContent = response.Content
			break
		}

		for _, tc := range response.ToolCalls {
			req.emit(Event{Type: EventToolCall, Step: steps, Tool: tc.Name})
			result := o.executeToolCall(ctx, tc, sess, agentCfg, byName, req)
			req.emit(Event{Type: EventToolResult, Step: steps, Tool: tc.Name, Content: result.Title, Success: result.Success})

			content := formatToolResult(result)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
			if _, err := o.store.AppendMessage(ctx, &store.Message{
				SessionID:  sess.ID,
				Role:       store.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			}); err != nil {
				return nil, err
			}
			appended++
		}
	}

	if finalContent == "" && steps >= maxSteps {
		finalContent = "Step budget exhausted before the task completed."
	}
	req.emit(Event{Type: EventDone, Step: steps, Content: finalContent, Success: true})

	if err := o.store.AddSessionUsage(context.WithoutCancel(ctx), sess.ID, appended, inputTokens, outputTokens, costUSD); err != nil {
		logger.ErrorCF("orchestrator", "Failed to record session usage",
			map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}

	logger.InfoCF("orchestrator", "Turn finished", map[string]interface{}{
		"session_id":  sess.ID,
		"agent":       agentCfg.Name,
		"steps":       steps,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &RunResult{SessionID: sess.ID, Content: finalContent, Steps: steps}, nil
}

// callableNames maps an agent's tool allow-list to registry export options.
// Nil means every registered tool.
func callableNames(cfg *agent.Config) []string {
	if len(cfg.Tools) == 0 {
		return nil
	}
	return agent.ResolveTools(cfg, nil)
}

// executeToolCall dispatches one tool call. The task tool is intercepted
// here; everything else goes through the exported callables, so gated and
// disallowed tools come back as not-found failures rather than executing.
func (o *Orchestrator) executeToolCall(ctx context.Context, tc providers.ToolCall, sess *store.Session, agentCfg *agent.Config, byName map[string]tools.Callable, req RunRequest) tools.ToolResult {
	if tc.Name == "task" {
		if _, ok := byName["task"]; !ok {
			return tools.Failf(tools.FailureNotFound, "Unknown tool", "tool %q is not available to this agent", tc.Name)
		}
		return o.runTask(ctx, tc.Arguments, sess, agentCfg, req)
	}

	c, ok := byName[tc.Name]
	if !ok {
		return tools.Failf(tools.FailureNotFound, "Unknown tool", "tool %q is not available to this agent", tc.Name)
	}
	return c.Invoke(ctx, tc.Arguments)
}

// formatToolResult renders a tool result for the model.
func formatToolResult(r tools.ToolResult) string {
	if r.Success {
		if r.Output == "" {
			return r.Title
		}
		return r.Output
	}
	if r.Output == "" {
		return "Error: " + r.Title
	}
	return fmt.Sprintf("Error: %s\n%s", r.Title, r.Output)
}

// buildMessages reconstructs the provider conversation from the persisted
// session history.
func (o *Orchestrator) buildMessages(ctx context.Context, sess *store.Session, agentCfg *agent.Config) ([]providers.Message, error) {
	systemPrompt := sess.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = agentCfg.SystemPrompt
	}

	var messages []providers.Message
	if systemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	}

	history, err := o.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		// Messages that never produced a response stay in the store for
		// inspection but are not replayed to the provider.
		if m.ErrorType != "" {
			continue
		}
		msg := providers.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.ToolCalls != "" {
			if err := json.Unmarshal([]byte(m.ToolCalls), &msg.ToolCalls); err != nil {
				logger.WarnCF("orchestrator", "Dropping unparseable tool calls from history",
					map[string]interface{}{"message_id": m.ID, "error": err.Error()})
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
