package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ericvicenti/botical-sub003/pkg/agent"
	"github.com/ericvicenti/botical-sub003/pkg/orchestrator"
	"github.com/ericvicenti/botical-sub003/pkg/scheduler"
	"github.com/ericvicenti/botical-sub003/pkg/store"
)

// cmdChat runs an interactive session against the default agent.
func (a *app) cmdChat(ctx context.Context) error {
	sess, err := a.store.CreateSession(ctx, store.NewSessionParams{
		ProjectID: a.project.ID,
		Agent:     agent.NameDefault,
		Title:     "Interactive session",
	})
	if err != nil {
		return err
	}

	var historyFile string
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".botical_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: historyFile,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("Session %s in %s. Ctrl-D to exit.\n", sess.ID, a.project.Path)

	for {
		line, err := rl.Readline()
		if err != nil { // Ctrl-C or Ctrl-D
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		result, err := a.orch.Run(ctx, orchestrator.RunRequest{
			SessionID:      sess.ID,
			Input:          line,
			CanExecuteCode: a.cfg.CanExecuteCode,
			OnEvent:        printProgress,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(result.Content)
	}
}

// printProgress shows tool activity while a turn is in flight.
func printProgress(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventToolCall:
		fmt.Fprintf(os.Stderr, "  [%s]\n", ev.Tool)
	case orchestrator.EventToolResult:
		if !ev.Success {
			fmt.Fprintf(os.Stderr, "  [%s failed: %s]\n", ev.Tool, ev.Content)
		}
	}
}

// cmdRun executes a single prompt and prints the final response.
func (a *app) cmdRun(ctx context.Context, args []string) error {
	agentName := agent.NameDefault
	if len(args) >= 2 && args[0] == "-agent" {
		agentName = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		return fmt.Errorf("run: prompt required")
	}
	prompt := strings.Join(args, " ")

	sess, err := a.store.CreateSession(ctx, store.NewSessionParams{
		ProjectID: a.project.ID,
		Agent:     agentName,
		Title:     truncateTitle(prompt),
	})
	if err != nil {
		return err
	}

	result, err := a.orch.Run(ctx, orchestrator.RunRequest{
		SessionID:      sess.ID,
		Input:          prompt,
		CanExecuteCode: a.cfg.CanExecuteCode,
	})
	if err != nil {
		return err
	}
	fmt.Println(result.Content)
	return nil
}

// cmdServe runs the cron scheduler until interrupted.
func (a *app) cmdServe(ctx context.Context) error {
	s := scheduler.New(a.store, a.orch, a.cfg.Scheduler.IntervalSeconds, a.cfg.CanExecuteCode)
	return s.Start(ctx)
}

// cmdAgents lists the agents available in this project.
func (a *app) cmdAgents(ctx context.Context) error {
	list, err := a.agents.List(ctx, a.store, a.project.ID, agent.ListOptions{})
	if err != nil {
		return err
	}
	for _, cfg := range list {
		kind := "custom"
		if cfg.Builtin {
			kind = "builtin"
		}
		fmt.Printf("%-12s %-8s %-9s %s\n", cfg.Name, kind, cfg.Mode, cfg.Description)
	}
	return nil
}

// cmdSessions lists recent sessions for this project.
func (a *app) cmdSessions(ctx context.Context) error {
	sessions, err := a.store.ListSessions(ctx, a.project.ID, 20)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-8s %-10s %4d msgs  %s\n",
			s.ID, s.Status, s.Agent, s.MessageCount, title)
	}
	return nil
}

// cmdSchedule adds a scheduled prompt for the default agent.
func (a *app) cmdSchedule(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("schedule: usage: schedule <cron expression> <prompt>")
	}
	expr := args[0]
	prompt := strings.Join(args[1:], " ")

	if err := scheduler.ValidateExpr(expr); err != nil {
		return err
	}

	sched, err := a.store.CreateSchedule(ctx, &store.Schedule{
		ProjectID: a.project.ID,
		Agent:     agent.NameDefault,
		CronExpr:  expr,
		Prompt:    prompt,
		Enabled:   true,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Schedule %s created: %s\n", sched.ID, expr)
	return nil
}

func truncateTitle(s string) string {
	if len(s) <= 60 {
		return s
	}
	return s[:57] + "..."
}
