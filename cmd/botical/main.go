package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ericvicenti/botical-sub003/pkg/agent"
	"github.com/ericvicenti/botical-sub003/pkg/config"
	"github.com/ericvicenti/botical-sub003/pkg/logger"
	"github.com/ericvicenti/botical-sub003/pkg/orchestrator"
	"github.com/ericvicenti/botical-sub003/pkg/store"
	"github.com/ericvicenti/botical-sub003/pkg/tools"
)

func main() {
	flag.Usage = usage
	configPath := flag.String("config", config.DefaultConfigPath(), "config file path")
	projectPath := flag.String("project", ".", "project directory")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatal(err)
	}
	if err := logger.Setup(cfg.LogPath(), cfg.Debug); err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg, *projectPath)
	if err != nil {
		fatal(err)
	}
	defer app.Close()

	switch args[0] {
	case "chat":
		err = app.cmdChat(ctx)
	case "run":
		err = app.cmdRun(ctx, args[1:])
	case "serve":
		err = app.cmdServe(ctx)
	case "agents":
		err = app.cmdAgents(ctx)
	case "sessions":
		err = app.cmdSessions(ctx)
	case "schedule":
		err = app.cmdSchedule(ctx, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `botical - agent host runtime

Usage:
  botical [flags] chat                       interactive session
  botical [flags] run [-agent name] <prompt> one-shot run
  botical [flags] serve                      run the cron scheduler
  botical [flags] agents                     list available agents
  botical [flags] sessions                   list recent sessions
  botical [flags] schedule <cron> <prompt>   add a scheduled prompt

Flags:
`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "botical: %v\n", err)
	os.Exit(1)
}

// app wires the store, registries, and orchestrator for one project.
type app struct {
	cfg     *config.Config
	store   *store.Store
	tools   *tools.Registry
	agents  *agent.Registry
	orch    *orchestrator.Orchestrator
	project *store.Project
}

func newApp(ctx context.Context, cfg *config.Config, projectPath string) (*app, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	project, err := st.CreateProject(ctx, filepath.Base(abs), abs)
	if err != nil {
		st.Close()
		return nil, err
	}

	tr := tools.NewRegistry()
	if err := tools.RegisterBuiltins(tr); err != nil {
		st.Close()
		return nil, err
	}

	ar := agent.NewRegistry()

	return &app{
		cfg:     cfg,
		store:   st,
		tools:   tr,
		agents:  ar,
		orch:    orchestrator.New(st, tr, ar, cfg),
		project: project,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}
