package execution

import (
	"encoding/json"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
)

// Record is the persisted form of one workflow execution. It is written
// twice per run: once in the Running state and once terminal; the store
// upserts on ID.
type Record struct {
	ID            core.ID              `json:"id"`
	WorkflowName  string               `json:"workflowName"`
	Namespace     string               `json:"namespace"`
	Status        core.ExecutionStatus `json:"status"`
	StartedAt     time.Time            `json:"startedAt"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
	DurationMS    *int64               `json:"durationMs,omitempty"`
	InputSnapshot json.RawMessage      `json:"inputSnapshot,omitempty"`
	Error         *string              `json:"error,omitempty"`
	Tasks         []TaskRecord         `json:"tasks,omitempty"`
}

// TaskRecord captures per-task telemetry inside a Record.
type TaskRecord struct {
	TaskID        string          `json:"taskId"`
	TaskRef       string          `json:"taskRef"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
	DurationMS    int64           `json:"durationMs"`
	Status        core.TaskStatus `json:"status"`
	RetryCount    int             `json:"retryCount"`
	ResolvedURL   string          `json:"resolvedUrl,omitempty"`
	HTTPMethod    string          `json:"httpMethod,omitempty"`
	OutputPreview string          `json:"outputPreview,omitempty"`
	ErrorInfo     *TaskErrorInfo  `json:"errorInfo,omitempty"`
}

// Response mirrors the persisted record plus derived fields, returned to
// HTTP callers of the execute endpoint.
type Response struct {
	ExecutionID             core.ID              `json:"executionId"`
	WorkflowName            string               `json:"workflowName"`
	Namespace               string               `json:"namespace"`
	Success                 bool                 `json:"success"`
	Status                  core.ExecutionStatus `json:"status"`
	Error                   *string              `json:"error,omitempty"`
	Output                  core.Output          `json:"output,omitempty"`
	StartedAt               time.Time            `json:"startedAt"`
	CompletedAt             time.Time            `json:"completedAt"`
	ExecutionTimeMS         int64                `json:"executionTimeMs"`
	ExecutedTasks           []string             `json:"executedTasks"`
	Tasks                   []TaskRecord         `json:"tasks,omitempty"`
	OrchestrationCostMicros int64                `json:"orchestrationCost,omitempty"`
	GraphDiagnostics        *GraphDiagnostics    `json:"graphDiagnostics,omitempty"`
}

// Result is what the inner orchestrator reports back to the service.
type Result struct {
	Success            bool
	Output             core.Output
	Errors             []string
	TaskResults        map[string]*TaskResult
	OrchestrationCost  time.Duration
	GraphDiagnostics   *GraphDiagnostics
	GraphBuildDuration time.Duration
}

// TaskResult is the orchestrator's view of one executed task.
type TaskResult struct {
	TaskID      string
	TaskRef     string
	Success     bool
	Output      core.Output
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int
	ResolvedURL string
	HTTPMethod  string
	ErrorInfo   *TaskErrorInfo
}

// GraphDiagnostics summarizes the resolved task graph.
type GraphDiagnostics struct {
	TaskCount int      `json:"taskCount"`
	EdgeCount int      `json:"edgeCount"`
	RootTasks []string `json:"rootTasks"`
	MaxDepth  int      `json:"maxDepth"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Plan describes the resolved DAG for the side-effect-free test endpoint.
type Plan struct {
	WorkflowName string            `json:"workflowName"`
	Stages       [][]string        `json:"stages"`
	Diagnostics  *GraphDiagnostics `json:"diagnostics,omitempty"`
	Validation   *ValidationResult `json:"validation,omitempty"`
}

// WorkflowStatistics aggregates persisted executions per workflow.
type WorkflowStatistics struct {
	WorkflowName  string     `json:"workflowName"`
	TotalRuns     int64      `json:"totalRuns"`
	SucceededRuns int64      `json:"succeededRuns"`
	FailedRuns    int64      `json:"failedRuns"`
	AvgDurationMS float64    `json:"avgDurationMs"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
}

// DurationDataPoint is one day's duration aggregate for trend charts.
type DurationDataPoint struct {
	Date          time.Time `json:"date"`
	AvgDurationMS float64   `json:"avgDurationMs"`
	Runs          int64     `json:"runs"`
}

// DurationSample is one observed duration used for baseline computation.
type DurationSample struct {
	WorkflowName string
	TaskID       string
	DurationMS   float64
	ObservedAt   time.Time
}
