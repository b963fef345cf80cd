package streaming

import (
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
)

// EventType enumerates the wire-visible event taxonomy.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventSignalFlow        EventType = "signal_flow"
	EventAnomalyDetected   EventType = "anomaly_detected"
)

// Event is one execution progress message. Every event carries the
// execution id and an emission timestamp; the remaining fields depend on
// the type.
type Event struct {
	Type         EventType      `json:"type"`
	ExecutionID  core.ID        `json:"executionId"`
	WorkflowName string         `json:"workflowName,omitempty"`
	TaskID       string         `json:"taskId,omitempty"`
	TaskName     string         `json:"taskName,omitempty"`
	FromTaskID   string         `json:"fromTaskId,omitempty"`
	ToTaskID     string         `json:"toTaskId,omitempty"`
	Status       string         `json:"status,omitempty"`
	Output       core.Output    `json:"output,omitempty"`
	DurationMS   int64          `json:"durationMs,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}
