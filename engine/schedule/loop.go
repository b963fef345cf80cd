package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// DefaultPollInterval is how often the scheduler evaluates triggers.
const DefaultPollInterval = 30 * time.Second

// Runner starts workflow executions; the execution service satisfies it.
type Runner interface {
	StartExecution(ctx context.Context, name string, input core.Input) (core.ID, error)
}

// WorkflowLister is the discovery surface the scheduler polls.
type WorkflowLister interface {
	Workflows(ctx context.Context, namespace *string) ([]resource.Workflow, error)
}

type triggerKey struct {
	workflow string
	index    int
}

// Scheduler fires workflow schedule triggers. Each trigger's last-run mark
// is recorded before the launch so a crashing run never causes a double
// fire, and an in-flight guard keeps slow runs from piling up.
type Scheduler struct {
	source   WorkflowLister
	runner   Runner
	interval time.Duration

	mu       sync.Mutex
	lastRun  map[triggerKey]time.Time
	inFlight map[triggerKey]bool

	now func() time.Time
}

func NewScheduler(source WorkflowLister, runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{
		source:   source,
		runner:   runner,
		interval: interval,
		lastRun:  make(map[triggerKey]time.Time),
		inFlight: make(map[triggerKey]bool),
		now:      time.Now,
	}
}

// Run evaluates triggers on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled schedule trigger once. A trigger seen for
// the first time is baselined at the current time without firing, so a
// gateway restart never replays missed schedules.
func (s *Scheduler) Tick(ctx context.Context) {
	log := logger.FromContext(ctx)
	workflows, err := s.source.Workflows(ctx, nil)
	if err != nil {
		log.Error("schedule tick skipped, workflow discovery failed", "error", err)
		return
	}
	now := s.now()
	for i := range workflows {
		wf := &workflows[i]
		name := wf.Metadata.Name
		if name == "" {
			continue
		}
		for idx, trigger := range wf.ScheduleTriggers() {
			if !trigger.Enabled {
				continue
			}
			s.evaluate(ctx, name, idx, trigger, now)
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, name string, idx int, trigger resource.Trigger, now time.Time) {
	log := logger.FromContext(ctx)
	key := triggerKey{workflow: resource.IndexKey(name), index: idx}

	s.mu.Lock()
	last, seen := s.lastRun[key]
	if !seen {
		s.lastRun[key] = now
		s.mu.Unlock()
		log.Debug("baselined schedule trigger", "workflow", name, "trigger", idx)
		return
	}
	if s.inFlight[key] {
		s.mu.Unlock()
		log.Debug("schedule trigger still running, skipping", "workflow", name, "trigger", idx)
		return
	}
	s.mu.Unlock()

	due, err := isDue(trigger.Cron, last, now)
	if err != nil {
		log.Warn("invalid cron expression on trigger", "workflow", name, "trigger", idx, "error", err)
		return
	}
	if !due {
		return
	}

	// The mark moves before the launch: a failed or hung run costs one
	// firing, never a duplicate.
	s.mu.Lock()
	s.lastRun[key] = now
	s.inFlight[key] = true
	s.mu.Unlock()

	input := core.Input(trigger.Input)
	go func() {
		defer func() {
			s.mu.Lock()
			s.inFlight[key] = false
			s.mu.Unlock()
		}()
		runCtx := context.WithoutCancel(ctx)
		id, err := s.runner.StartExecution(runCtx, name, input)
		if err != nil {
			log.Error("scheduled execution failed to start", "workflow", name, "trigger", idx, "error", err)
			return
		}
		log.Info("scheduled execution started", "workflow", name, "trigger", idx, "execution_id", id)
	}()
}
