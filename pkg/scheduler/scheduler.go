// Package scheduler runs cron-scheduled agent prompts. Each due schedule
// gets a fresh session so scheduled runs never interleave with interactive
// conversations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ericvicenti/botical-sub003/pkg/logger"
	"github.com/ericvicenti/botical-sub003/pkg/orchestrator"
	"github.com/ericvicenti/botical-sub003/pkg/store"
)

type Scheduler struct {
	store    *store.Store
	orch     *orchestrator.Orchestrator
	interval time.Duration
	canExec  bool

	gron     *gronx.Gronx
	mu       sync.Mutex
	inFlight map[string]bool
	stopChan chan struct{}
	stopOnce sync.Once
}

func New(st *store.Store, orch *orchestrator.Orchestrator, intervalSeconds int, canExecuteCode bool) *Scheduler {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	return &Scheduler{
		store:    st,
		orch:     orch,
		interval: time.Duration(intervalSeconds) * time.Second,
		canExec:  canExecuteCode,
		gron:     gronx.New(),
		inFlight: make(map[string]bool),
		stopChan: make(chan struct{}),
	}
}

// ValidateExpr reports whether a cron expression is usable.
func ValidateExpr(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %q", expr)
	}
	return nil
}

// Start blocks, ticking until the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.InfoCF("scheduler", "Scheduler started",
		map[string]interface{}{"interval": s.interval.String()})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopChan:
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		logger.ErrorCF("scheduler", "Failed to list schedules",
			map[string]interface{}{"error": err.Error()})
		return
	}

	now := time.Now()
	for _, sched := range schedules {
		due, err := s.gron.IsDue(sched.CronExpr, now)
		if err != nil {
			logger.WarnCF("scheduler", "Skipping schedule with bad cron expression",
				map[string]interface{}{"schedule_id": sched.ID, "expr": sched.CronExpr, "error": err.Error()})
			continue
		}
		if !due {
			continue
		}
		// A schedule already run in the current minute is not re-fired even
		// if several ticks land in it.
		if sched.LastRun != nil && sched.LastRun.Truncate(time.Minute).Equal(now.UTC().Truncate(time.Minute)) {
			continue
		}
		if !s.claim(sched.ID) {
			continue
		}
		go s.runSchedule(ctx, sched, now)
	}
}

// claim marks a schedule as in flight. Returns false when a previous run of
// the same schedule has not finished yet.
func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Scheduler) runSchedule(ctx context.Context, sched *store.Schedule, firedAt time.Time) {
	defer s.release(sched.ID)

	if err := s.store.MarkScheduleRun(ctx, sched.ID, firedAt); err != nil {
		logger.ErrorCF("scheduler", "Failed to mark schedule run",
			map[string]interface{}{"schedule_id": sched.ID, "error": err.Error()})
	}

	sess, err := s.store.CreateSession(ctx, store.NewSessionParams{
		ProjectID: sched.ProjectID,
		Agent:     sched.Agent,
		Title:     fmt.Sprintf("Scheduled run %s", firedAt.UTC().Format("2006-01-02 15:04")),
	})
	if err != nil {
		logger.ErrorCF("scheduler", "Failed to create session for schedule",
			map[string]interface{}{"schedule_id": sched.ID, "error": err.Error()})
		return
	}

	logger.InfoCF("scheduler", "Running schedule", map[string]interface{}{
		"schedule_id": sched.ID,
		"session_id":  sess.ID,
		"agent":       sched.Agent,
	})

	result, err := s.orch.Run(ctx, orchestrator.RunRequest{
		SessionID:      sess.ID,
		Input:          sched.Prompt,
		CanExecuteCode: s.canExec,
	})
	if err != nil {
		logger.ErrorCF("scheduler", "Scheduled run failed",
			map[string]interface{}{"schedule_id": sched.ID, "session_id": sess.ID, "error": err.Error()})
		return
	}

	logger.InfoCF("scheduler", "Scheduled run finished", map[string]interface{}{
		"schedule_id": sched.ID,
		"session_id":  sess.ID,
		"steps":       result.Steps,
	})
}
