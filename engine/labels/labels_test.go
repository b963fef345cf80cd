package labels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daz23456/workflow-sub005/engine/resource"
)

func taggedWorkflow(name string, tags, categories []string) resource.Workflow {
	return resource.Workflow{
		Metadata: resource.Metadata{Name: name},
		Spec:     resource.WorkflowSpec{Tags: tags, Categories: categories},
	}
}

func taggedTask(name, category string, tags ...string) resource.Task {
	return resource.Task{
		Metadata: resource.Metadata{Name: name},
		Spec:     resource.TaskSpec{Category: category, Tags: tags},
	}
}

func workflowRow(name string, tags, categories []string) WorkflowLabels {
	return WorkflowLabels{WorkflowName: name, Namespace: "default", Tags: tags, Categories: categories}
}

func taskRow(name, category string, tags ...string) TaskLabels {
	return TaskLabels{TaskName: name, Namespace: "default", Tags: tags, Category: category}
}

func TestCompute(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Should count workflow and task usage separately", func(t *testing.T) {
		workflows := []WorkflowLabels{
			workflowRow("a", []string{"billing"}, []string{"finance"}),
			workflowRow("b", []string{"billing"}, nil),
		}
		tasks := []TaskLabels{
			taskRow("t1", "finance", "billing"),
		}
		aggregates := Compute(workflows, tasks, at)
		require.Len(t, aggregates, 2)

		byValue := map[string]Aggregate{}
		for _, agg := range aggregates {
			byValue[string(agg.Kind)+":"+agg.Value] = agg
		}
		billing := byValue["tag:billing"]
		assert.Equal(t, 2, billing.WorkflowCount)
		assert.Equal(t, 1, billing.TaskCount)
		finance := byValue["category:finance"]
		assert.Equal(t, 1, finance.WorkflowCount)
		assert.Equal(t, 1, finance.TaskCount)
	})

	t.Run("Should fold label values case-insensitively", func(t *testing.T) {
		workflows := []WorkflowLabels{
			workflowRow("a", []string{"Billing"}, nil),
			workflowRow("b", []string{"billing"}, nil),
		}
		aggregates := Compute(workflows, nil, at)
		require.Len(t, aggregates, 1)
		assert.Equal(t, "Billing", aggregates[0].Value, "first spelling wins")
		assert.Equal(t, 2, aggregates[0].WorkflowCount)
	})

	t.Run("Should skip empty values", func(t *testing.T) {
		tasks := []TaskLabels{taskRow("t1", "", "")}
		assert.Empty(t, Compute(nil, tasks, at))
	})

	t.Run("Should sort by kind then value", func(t *testing.T) {
		workflows := []WorkflowLabels{
			workflowRow("a", []string{"zeta", "alpha"}, []string{"ops"}),
		}
		aggregates := Compute(workflows, nil, at)
		require.Len(t, aggregates, 3)
		assert.Equal(t, KindCategory, aggregates[0].Kind)
		assert.Equal(t, "alpha", aggregates[1].Value)
		assert.Equal(t, "zeta", aggregates[2].Value)
	})
}

type memLabelRepo struct {
	mu            sync.Mutex
	workflows     []WorkflowLabels
	tasks         []TaskLabels
	keptWorkflows []string
	keptTasks     []string
	recomputed    int
	aggregates    []Aggregate
}

func (m *memLabelRepo) UpsertWorkflowLabels(_ context.Context, rows []WorkflowLabels) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = rows
	return nil
}

func (m *memLabelRepo) UpsertTaskLabels(_ context.Context, rows []TaskLabels) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = rows
	return nil
}

func (m *memLabelRepo) DeleteMissing(_ context.Context, workflowsPresent, tasksPresent []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keptWorkflows = workflowsPresent
	m.keptTasks = tasksPresent
	return nil
}

func (m *memLabelRepo) RecomputeUsageStats(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputed++
	m.aggregates = Compute(m.workflows, m.tasks, time.Now().UTC())
	return nil
}

func (m *memLabelRepo) All(context.Context) ([]Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregates, nil
}

type fixedSource struct {
	workflows []resource.Workflow
	tasks     []resource.Task
	err       error
}

func (f *fixedSource) Workflows(context.Context, *string) ([]resource.Workflow, error) {
	return f.workflows, f.err
}

func (f *fixedSource) Tasks(context.Context, *string) ([]resource.Task, error) {
	return f.tasks, f.err
}

func TestService_Sync(t *testing.T) {
	t.Parallel()

	t.Run("Should persist one label row per resource", func(t *testing.T) {
		source := &fixedSource{
			workflows: []resource.Workflow{taggedWorkflow("a", []string{"billing"}, []string{"finance"})},
			tasks:     []resource.Task{taggedTask("t1", "finance", "billing")},
		}
		repo := &memLabelRepo{}
		svc := NewService(source, repo)

		stats, err := svc.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Workflows)
		assert.Equal(t, 1, stats.Tasks)
		require.Len(t, repo.workflows, 1)
		assert.Equal(t, "a", repo.workflows[0].WorkflowName)
		assert.Equal(t, "default", repo.workflows[0].Namespace)
		assert.Equal(t, []string{"billing"}, repo.workflows[0].Tags)
		assert.False(t, repo.workflows[0].SyncedAt.IsZero())
		require.Len(t, repo.tasks, 1)
		assert.Equal(t, "t1", repo.tasks[0].TaskName)
		assert.Equal(t, "finance", repo.tasks[0].Category)
	})

	t.Run("Should prune rows for resources that disappeared", func(t *testing.T) {
		source := &fixedSource{
			workflows: []resource.Workflow{taggedWorkflow("a", nil, nil)},
			tasks:     []resource.Task{taggedTask("t1", "ops")},
		}
		repo := &memLabelRepo{}
		svc := NewService(source, repo)

		_, err := svc.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, repo.keptWorkflows)
		assert.Equal(t, []string{"t1"}, repo.keptTasks)
	})

	t.Run("Should recompute aggregates after the rows settle", func(t *testing.T) {
		source := &fixedSource{
			workflows: []resource.Workflow{taggedWorkflow("a", []string{"billing"}, nil)},
		}
		repo := &memLabelRepo{}
		svc := NewService(source, repo)

		_, err := svc.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, repo.recomputed)
		aggregates, err := svc.All(context.Background())
		require.NoError(t, err)
		require.Len(t, aggregates, 1)
		assert.Equal(t, "billing", aggregates[0].Value)
		assert.Equal(t, 1, aggregates[0].WorkflowCount)
	})

	t.Run("Should keep explicit namespaces on the rows", func(t *testing.T) {
		wf := taggedWorkflow("a", nil, nil)
		wf.Metadata.Namespace = "payments"
		repo := &memLabelRepo{}
		svc := NewService(&fixedSource{workflows: []resource.Workflow{wf}}, repo)

		_, err := svc.Sync(context.Background())
		require.NoError(t, err)
		require.Len(t, repo.workflows, 1)
		assert.Equal(t, "payments", repo.workflows[0].Namespace)
	})

	t.Run("Should propagate discovery failures without touching the store", func(t *testing.T) {
		repo := &memLabelRepo{}
		svc := NewService(&fixedSource{err: assert.AnError}, repo)
		_, err := svc.Sync(context.Background())
		require.Error(t, err)
		assert.Empty(t, repo.workflows)
		assert.Zero(t, repo.recomputed)
	})
}
