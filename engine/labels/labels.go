package labels

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

const defaultNamespace = "default"

// Kind separates the two label vocabularies carried by resources.
type Kind string

const (
	KindTag      Kind = "tag"
	KindCategory Kind = "category"
)

// WorkflowLabels is the persisted label row of one workflow.
type WorkflowLabels struct {
	WorkflowName string    `json:"workflowName"`
	Namespace    string    `json:"namespace"`
	Tags         []string  `json:"tags"`
	Categories   []string  `json:"categories"`
	SyncedAt     time.Time `json:"syncedAt"`
}

// TaskLabels is the persisted label row of one task.
type TaskLabels struct {
	TaskName  string    `json:"taskName"`
	Namespace string    `json:"namespace"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// Aggregate is one label value with its usage counts across the stored
// label rows.
type Aggregate struct {
	Value         string    `json:"value"`
	Kind          Kind      `json:"kind"`
	WorkflowCount int       `json:"workflowCount"`
	TaskCount     int       `json:"taskCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Repository persists per-resource label rows and the usage aggregates
// derived from them. DeleteMissing removes rows for resources no longer
// present; RecomputeUsageStats rebuilds the aggregates from the stored
// rows.
type Repository interface {
	UpsertWorkflowLabels(ctx context.Context, rows []WorkflowLabels) error
	UpsertTaskLabels(ctx context.Context, rows []TaskLabels) error
	DeleteMissing(ctx context.Context, workflowsPresent, tasksPresent []string) error
	RecomputeUsageStats(ctx context.Context) error
	All(ctx context.Context) ([]Aggregate, error)
}

// SyncStats summarizes one label sync pass.
type SyncStats struct {
	Workflows int
	Tasks     int
}

// Source lists the resources whose labels are synced.
type Source interface {
	Workflows(ctx context.Context, namespace *string) ([]resource.Workflow, error)
	Tasks(ctx context.Context, namespace *string) ([]resource.Task, error)
}

// Service keeps the persisted label rows and usage aggregates in step with
// the discovered resources.
type Service struct {
	source Source
	repo   Repository
	now    func() time.Time
}

func NewService(source Source, repo Repository) *Service {
	return &Service{source: source, repo: repo, now: time.Now}
}

// Run syncs immediately and then on every interval until ctx ends.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if _, err := s.Sync(ctx); err != nil {
		logger.FromContext(ctx).Warn("label sync failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				logger.FromContext(ctx).Warn("label sync failed", "error", err)
			}
		}
	}
}

// Sync upserts one label row per discovered workflow and task, prunes rows
// for resources that disappeared, and recomputes the usage aggregates from
// what is stored.
func (s *Service) Sync(ctx context.Context) (SyncStats, error) {
	workflows, err := s.source.Workflows(ctx, nil)
	if err != nil {
		return SyncStats{}, fmt.Errorf("labels: list workflows: %w", err)
	}
	tasks, err := s.source.Tasks(ctx, nil)
	if err != nil {
		return SyncStats{}, fmt.Errorf("labels: list tasks: %w", err)
	}
	syncedAt := s.now().UTC()
	workflowRows := make([]WorkflowLabels, 0, len(workflows))
	workflowNames := make([]string, 0, len(workflows))
	for i := range workflows {
		workflowRows = append(workflowRows, WorkflowLabels{
			WorkflowName: workflows[i].Metadata.Name,
			Namespace:    namespaceOrDefault(workflows[i].Metadata.Namespace),
			Tags:         workflows[i].Spec.Tags,
			Categories:   workflows[i].Spec.Categories,
			SyncedAt:     syncedAt,
		})
		workflowNames = append(workflowNames, workflows[i].Metadata.Name)
	}
	taskRows := make([]TaskLabels, 0, len(tasks))
	taskNames := make([]string, 0, len(tasks))
	for i := range tasks {
		taskRows = append(taskRows, TaskLabels{
			TaskName:  tasks[i].Metadata.Name,
			Namespace: namespaceOrDefault(tasks[i].Metadata.Namespace),
			Tags:      tasks[i].Spec.Tags,
			Category:  tasks[i].Spec.Category,
			SyncedAt:  syncedAt,
		})
		taskNames = append(taskNames, tasks[i].Metadata.Name)
	}
	if err := s.repo.UpsertWorkflowLabels(ctx, workflowRows); err != nil {
		return SyncStats{}, fmt.Errorf("labels: upsert workflow labels: %w", err)
	}
	if err := s.repo.UpsertTaskLabels(ctx, taskRows); err != nil {
		return SyncStats{}, fmt.Errorf("labels: upsert task labels: %w", err)
	}
	stats := SyncStats{Workflows: len(workflowRows), Tasks: len(taskRows)}
	if err := s.repo.DeleteMissing(ctx, workflowNames, taskNames); err != nil {
		return stats, fmt.Errorf("labels: delete missing label rows: %w", err)
	}
	if err := s.repo.RecomputeUsageStats(ctx); err != nil {
		return stats, fmt.Errorf("labels: recompute usage stats: %w", err)
	}
	return stats, nil
}

// All returns the persisted aggregates.
func (s *Service) All(ctx context.Context) ([]Aggregate, error) {
	return s.repo.All(ctx)
}

func namespaceOrDefault(namespace string) string {
	if namespace == "" {
		return defaultNamespace
	}
	return namespace
}

type aggregateKey struct {
	value string
	kind  Kind
}

// Compute counts label usage across the stored label rows. Values are
// folded case-insensitively; the first spelling seen is kept for display.
func Compute(workflows []WorkflowLabels, tasks []TaskLabels, at time.Time) []Aggregate {
	counts := make(map[aggregateKey]*Aggregate)
	bump := func(value string, kind Kind, isWorkflow bool) {
		if value == "" {
			return
		}
		key := aggregateKey{value: resource.IndexKey(value), kind: kind}
		agg, ok := counts[key]
		if !ok {
			agg = &Aggregate{Value: value, Kind: kind, UpdatedAt: at}
			counts[key] = agg
		}
		if isWorkflow {
			agg.WorkflowCount++
		} else {
			agg.TaskCount++
		}
	}
	for i := range workflows {
		for _, tag := range workflows[i].Tags {
			bump(tag, KindTag, true)
		}
		for _, category := range workflows[i].Categories {
			bump(category, KindCategory, true)
		}
	}
	for i := range tasks {
		for _, tag := range tasks[i].Tags {
			bump(tag, KindTag, false)
		}
		bump(tasks[i].Category, KindCategory, false)
	}
	out := make([]Aggregate, 0, len(counts))
	for _, agg := range counts {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return resource.IndexKey(out[i].Value) < resource.IndexKey(out[j].Value)
	})
	return out
}
