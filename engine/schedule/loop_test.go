package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

type startCall struct {
	name  string
	input core.Input
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []startCall
	started chan startCall
	release chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan startCall, 16)}
}

func (f *fakeRunner) StartExecution(_ context.Context, name string, input core.Input) (core.ID, error) {
	call := startCall{name: name, input: input}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	f.started <- call
	if f.release != nil {
		<-f.release
	}
	return core.NewID(), nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixedLister struct {
	workflows []resource.Workflow
}

func (f *fixedLister) Workflows(context.Context, *string) ([]resource.Workflow, error) {
	return f.workflows, nil
}

func scheduledWorkflow(name, cron string, enabled bool, input map[string]any) resource.Workflow {
	return resource.Workflow{
		Metadata: resource.Metadata{Name: name},
		Spec: resource.WorkflowSpec{
			Triggers: []resource.Trigger{
				{Type: resource.TriggerTypeSchedule, Cron: cron, Enabled: enabled, Input: input},
			},
		},
	}
}

func waitForStart(t *testing.T, runner *fakeRunner) startCall {
	t.Helper()
	select {
	case call := <-runner.started:
		return call
	case <-time.After(time.Second):
		t.Fatal("no execution started in time")
		return startCall{}
	}
}

func assertNoStart(t *testing.T, runner *fakeRunner) {
	t.Helper()
	select {
	case call := <-runner.started:
		t.Fatalf("unexpected execution of %s", call.name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_Tick(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	newScheduler := func(lister WorkflowLister, runner Runner) (*Scheduler, *time.Time) {
		s := NewScheduler(lister, runner, time.Second)
		current := base
		s.now = func() time.Time { return current }
		return s, &current
	}

	t.Run("Should baseline a new trigger without firing", func(t *testing.T) {
		runner := newFakeRunner()
		lister := &fixedLister{workflows: []resource.Workflow{
			scheduledWorkflow("nightly", "* * * * *", true, nil),
		}}
		s, _ := newScheduler(lister, runner)

		s.Tick(context.Background())
		assertNoStart(t, runner)
	})

	t.Run("Should fire once the boundary passes after the baseline", func(t *testing.T) {
		runner := newFakeRunner()
		lister := &fixedLister{workflows: []resource.Workflow{
			scheduledWorkflow("minutely", "* * * * *", true, map[string]any{"source": "schedule"}),
		}}
		s, now := newScheduler(lister, runner)

		s.Tick(context.Background())
		*now = now.Add(2 * time.Minute)
		s.Tick(context.Background())

		call := waitForStart(t, runner)
		assert.Equal(t, "minutely", call.name)
		assert.Equal(t, core.Input{"source": "schedule"}, call.input)
	})

	t.Run("Should never fire a disabled trigger", func(t *testing.T) {
		runner := newFakeRunner()
		lister := &fixedLister{workflows: []resource.Workflow{
			scheduledWorkflow("dormant", "* * * * *", false, nil),
		}}
		s, now := newScheduler(lister, runner)

		s.Tick(context.Background())
		*now = now.Add(5 * time.Minute)
		s.Tick(context.Background())

		assertNoStart(t, runner)
		assert.Zero(t, runner.callCount())
	})

	t.Run("Should not fire before the next cron boundary", func(t *testing.T) {
		runner := newFakeRunner()
		lister := &fixedLister{workflows: []resource.Workflow{
			scheduledWorkflow("minutely", "* * * * *", true, nil),
		}}
		s, now := newScheduler(lister, runner)

		s.Tick(context.Background())
		*now = now.Add(10 * time.Second)
		s.Tick(context.Background())

		assertNoStart(t, runner)
	})

	t.Run("Should skip a trigger whose run is still in flight", func(t *testing.T) {
		runner := newFakeRunner()
		runner.release = make(chan struct{})
		lister := &fixedLister{workflows: []resource.Workflow{
			scheduledWorkflow("slow", "* * * * *", true, nil),
		}}
		s, now := newScheduler(lister, runner)

		s.Tick(context.Background())
		*now = now.Add(2 * time.Minute)
		s.Tick(context.Background())
		waitForStart(t, runner)

		*now = now.Add(2 * time.Minute)
		s.Tick(context.Background())
		assertNoStart(t, runner)

		close(runner.release)
		require.Eventually(t, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return !s.inFlight[triggerKey{workflow: "slow", index: 0}]
		}, time.Second, 5*time.Millisecond)

		*now = now.Add(2 * time.Minute)
		s.Tick(context.Background())
		waitForStart(t, runner)
		assert.Equal(t, 2, runner.callCount())
	})

	t.Run("Should ignore triggers with invalid cron expressions", func(t *testing.T) {
		runner := newFakeRunner()
		lister := &fixedLister{workflows: []resource.Workflow{
			scheduledWorkflow("broken", "not a cron", true, nil),
		}}
		s, now := newScheduler(lister, runner)

		s.Tick(context.Background())
		*now = now.Add(time.Hour)
		s.Tick(context.Background())

		assertNoStart(t, runner)
	})

	t.Run("Should ignore non-schedule trigger types", func(t *testing.T) {
		runner := newFakeRunner()
		lister := &fixedLister{workflows: []resource.Workflow{{
			Metadata: resource.Metadata{Name: "webhooked"},
			Spec: resource.WorkflowSpec{
				Triggers: []resource.Trigger{{Type: "webhook", Enabled: true}},
			},
		}}}
		s, now := newScheduler(lister, runner)

		s.Tick(context.Background())
		*now = now.Add(time.Hour)
		s.Tick(context.Background())

		assertNoStart(t, runner)
	})
}
