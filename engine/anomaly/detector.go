package anomaly

import (
	"context"
	"math"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/execution"
)

// epsilon keeps the z-score finite when a duration history has no variance.
const epsilon = 1e-9

// Notifier receives detected anomalies; the streaming hub satisfies it.
type Notifier interface {
	AnomalyDetected(ctx context.Context, workflowName, taskID, severity string, data map[string]any)
}

// Detector scores workflow and task durations against their baselines.
type Detector struct {
	store      *Store
	notifier   Notifier
	thresholds Thresholds
	now        func() time.Time
}

// NewDetector builds a detector; notifier may be nil to score silently and
// thresholds may be nil for the default sigma buckets.
func NewDetector(store *Store, notifier Notifier, thresholds *Thresholds) *Detector {
	d := &Detector{store: store, notifier: notifier, thresholds: DefaultThresholds(), now: time.Now}
	if thresholds != nil {
		d.thresholds = *thresholds
	}
	return d
}

// Evaluate scores one observed duration. An empty taskID scores the
// workflow's overall duration. It returns nil when no baseline exists or
// the deviation is below the Low threshold.
func (d *Detector) Evaluate(
	ctx context.Context,
	workflowName, taskID string,
	actualMS float64,
	executionID core.ID,
) *Event {
	baseline := d.store.Lookup(workflowName, taskID)
	if baseline == nil {
		return nil
	}
	z := (actualMS - baseline.MeanMS) / math.Max(baseline.StdDevMS, epsilon)
	severity, anomalous := d.thresholds.severityFor(math.Abs(z))
	if !anomalous {
		return nil
	}
	event := &Event{
		WorkflowName: baseline.WorkflowName,
		TaskID:       taskID,
		ExecutionID:  executionID,
		ActualMS:     actualMS,
		MeanMS:       baseline.MeanMS,
		StdDevMS:     baseline.StdDevMS,
		ZScore:       z,
		Severity:     severity,
		DetectedAt:   d.now().UTC(),
	}
	if d.notifier != nil {
		d.notifier.AnomalyDetected(ctx, event.WorkflowName, taskID, string(severity), map[string]any{
			"executionId": string(executionID),
			"actualMs":    actualMS,
			"meanMs":      baseline.MeanMS,
			"stdDevMs":    baseline.StdDevMS,
			"zScore":      z,
		})
	}
	return event
}

// ObserveExecution scores the execution's overall duration and every task
// duration, which makes the detector the execution service's statistics
// observer.
func (d *Detector) ObserveExecution(ctx context.Context, record *execution.Record) error {
	if record == nil {
		return nil
	}
	if record.DurationMS != nil {
		d.Evaluate(ctx, record.WorkflowName, "", float64(*record.DurationMS), record.ID)
	}
	for _, task := range record.Tasks {
		d.Evaluate(ctx, record.WorkflowName, task.TaskID, float64(task.DurationMS), record.ID)
	}
	return nil
}
