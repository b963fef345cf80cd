package execution

import (
	"sort"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

// TaskTrace is the timing view of one task inside an execution trace.
type TaskTrace struct {
	TaskID      string    `json:"taskId"`
	TaskRef     string    `json:"taskRef"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMS  int64     `json:"durationMs"`
	WaitTimeMS  int64     `json:"waitTimeMs"`
	DependsOn   []string  `json:"dependsOn,omitempty"`
}

// Trace is the dependency-driven timing breakdown of an execution.
type Trace struct {
	ExecutionID    core.ID     `json:"executionId"`
	WorkflowName   string      `json:"workflowName"`
	Tasks          []TaskTrace `json:"tasks"`
	ParallelGroups [][]string  `json:"parallelGroups,omitempty"`
}

// BuildTrace derives wait times and parallel groups from a persisted record
// and the workflow's step definitions. A task's wait time is the gap
// between the completion of its slowest dependency and its own start; root
// tasks wait zero.
func BuildTrace(record *Record, steps []resource.TaskStep) *Trace {
	trace := &Trace{
		ExecutionID:  record.ID,
		WorkflowName: record.WorkflowName,
	}
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		deps[step.ID] = step.DependsOn
	}
	completedAt := make(map[string]time.Time, len(record.Tasks))
	for _, task := range record.Tasks {
		completedAt[task.TaskID] = task.CompletedAt
	}
	for _, task := range record.Tasks {
		tt := TaskTrace{
			TaskID:      task.TaskID,
			TaskRef:     task.TaskRef,
			StartedAt:   task.StartedAt,
			CompletedAt: task.CompletedAt,
			DurationMS:  task.DurationMS,
			DependsOn:   deps[task.TaskID],
		}
		var latest time.Time
		for _, dep := range deps[task.TaskID] {
			if end, ok := completedAt[dep]; ok && end.After(latest) {
				latest = end
			}
		}
		if !latest.IsZero() && task.StartedAt.After(latest) {
			tt.WaitTimeMS = task.StartedAt.Sub(latest).Milliseconds()
		}
		trace.Tasks = append(trace.Tasks, tt)
	}
	sort.Slice(trace.Tasks, func(i, j int) bool {
		if trace.Tasks[i].StartedAt.Equal(trace.Tasks[j].StartedAt) {
			return trace.Tasks[i].TaskID < trace.Tasks[j].TaskID
		}
		return trace.Tasks[i].StartedAt.Before(trace.Tasks[j].StartedAt)
	})
	trace.ParallelGroups = parallelGroups(trace.Tasks)
	return trace
}

// parallelGroups clusters tasks whose execution intervals overlap. Only
// groups with at least two members are reported.
func parallelGroups(tasks []TaskTrace) [][]string {
	var groups [][]string
	var current []string
	var groupEnd time.Time
	for _, task := range tasks {
		if len(current) > 0 && task.StartedAt.Before(groupEnd) {
			current = append(current, task.TaskID)
			if task.CompletedAt.After(groupEnd) {
				groupEnd = task.CompletedAt
			}
			continue
		}
		if len(current) > 1 {
			groups = append(groups, current)
		}
		current = []string{task.TaskID}
		groupEnd = task.CompletedAt
	}
	if len(current) > 1 {
		groups = append(groups, current)
	}
	return groups
}
