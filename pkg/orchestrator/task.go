package orchestrator

import (
	"context"
	"fmt"

	"github.com/ericvicenti/botical-sub003/pkg/agent"
	"github.com/ericvicenti/botical-sub003/pkg/logger"
	"github.com/ericvicenti/botical-sub003/pkg/store"
	"github.com/ericvicenti/botical-sub003/pkg/tools"
)

// runTask handles an intercepted task tool call: it resolves the child agent,
// creates or resumes the child session, and either runs it to completion or
// detaches it into the background. All expected failures come back as failed
// tool results so the parent turn keeps going.
func (o *Orchestrator) runTask(ctx context.Context, args map[string]interface{}, parent *store.Session, parentCfg *agent.Config, req RunRequest) tools.ToolResult {
	ta, err := tools.DecodeTaskArgs(args)
	if err != nil {
		return tools.Failf(tools.FailureValidation, "Invalid arguments", "invalid task arguments: %v", err)
	}
	if ta.Prompt == "" || ta.SubagentType == "" || ta.Description == "" {
		return tools.Fail(tools.FailureValidation, "Invalid arguments",
			"description, prompt, and subagent_type are required")
	}

	childCfg, err := o.agents.Get(ctx, o.store, ta.SubagentType, parent.ProjectID)
	if err != nil {
		return tools.Failf(tools.FailureInternal, "Agent lookup failed", "resolve agent %q: %v", ta.SubagentType, err)
	}
	if childCfg == nil {
		// Unknown agent types degrade to the generic default rather than
		// failing the spawn.
		childCfg, err = o.agents.Get(ctx, o.store, agent.NameDefault, parent.ProjectID)
		if err != nil || childCfg == nil {
			return tools.Failf(tools.FailureInternal, "Agent lookup failed", "resolve fallback agent: %v", err)
		}
		logger.WarnCF("orchestrator", "Unknown subagent type, using default", map[string]interface{}{
			"requested": ta.SubagentType,
		})
	}
	if childCfg.Mode == agent.ModePrimary {
		return tools.Failf(tools.FailureValidation, "Agent not spawnable",
			"agent %q only drives top-level sessions and cannot run as a sub-agent", ta.SubagentType)
	}

	// The child inherits the parent's model unless the call names one or
	// the child agent declares its own.
	childModel := ""
	if ta.Model != "" {
		childModel = o.cfg.ResolveModelAlias(ta.Model)
	} else if childCfg.Model == "" {
		childModel = parentCfg.Model
	}

	maxSteps := ta.MaxTurns
	if maxSteps <= 0 {
		maxSteps = agent.TurnBudget(childCfg.Name)
	}

	child, result := o.resolveChildSession(ctx, ta, parent, childCfg)
	if child == nil {
		return result
	}

	childReq := RunRequest{
		SessionID:      child.ID,
		Input:          ta.Prompt,
		CanExecuteCode: req.CanExecuteCode,
		MaxSteps:       maxSteps,
		Model:          childModel,
	}

	logger.InfoCF("orchestrator", "Spawning task", map[string]interface{}{
		"parent_session": parent.ID,
		"child_session":  child.ID,
		"agent":          ta.SubagentType,
		"background":     ta.RunInBackground,
		"max_steps":      maxSteps,
	})

	if ta.RunInBackground {
		// Detached from the parent turn: the child keeps running after this
		// result returns, and its session is polled for completion.
		go func() {
			bgCtx := context.WithoutCancel(ctx)
			if _, err := o.Run(bgCtx, childReq); err != nil {
				logger.ErrorCF("orchestrator", "Background task failed", map[string]interface{}{
					"child_session": child.ID,
					"error":         err.Error(),
				})
			}
		}()
		return tools.OkMeta("Task started",
			fmt.Sprintf("Task %q is running in the background in session %s. Check the session status to collect its result, or resume it with the task tool.", ta.Description, child.ID),
			map[string]interface{}{
				"session_id": child.ID,
				"agent":      childCfg.Name,
				"background": true,
			})
	}

	childResult, err := o.Run(ctx, childReq)
	if err != nil {
		return tools.Failf(tools.FailureInternal, "Task failed",
			"task %q failed in session %s: %v", ta.Description, child.ID, err)
	}

	return tools.OkMeta("Task completed", childResult.Content, map[string]interface{}{
		"session_id": child.ID,
		"agent":      childCfg.Name,
		"steps":      childResult.Steps,
	})
}

// resolveChildSession resumes the named child session or creates a fresh one.
// On failure it returns a nil session and the failed result to report.
func (o *Orchestrator) resolveChildSession(ctx context.Context, ta tools.TaskArgs, parent *store.Session, childCfg *agent.Config) (*store.Session, tools.ToolResult) {
	if ta.Resume != "" {
		child, err := o.store.GetSession(ctx, ta.Resume)
		if err != nil {
			return nil, tools.Failf(tools.FailureInternal, "Session lookup failed", "resume session %s: %v", ta.Resume, err)
		}
		if child == nil || child.ParentID != parent.ID {
			return nil, tools.Failf(tools.FailureNotFound, "Unknown session",
				"no child session %s to resume from this session", ta.Resume)
		}
		return child, tools.ToolResult{}
	}

	child, err := o.store.CreateSession(ctx, store.NewSessionParams{
		ProjectID:    parent.ProjectID,
		Agent:        childCfg.Name,
		ParentID:     parent.ID,
		Title:        ta.Description,
		SystemPrompt: childCfg.SystemPrompt,
	})
	if err != nil {
		return nil, tools.Failf(tools.FailureInternal, "Session creation failed", "create child session: %v", err)
	}
	return child, tools.ToolResult{}
}
