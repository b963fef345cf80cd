package anomaly

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

// Baseline is the rolling duration profile of a workflow or of one task
// within it. An empty TaskID means the baseline covers the workflow's
// overall duration.
type Baseline struct {
	WorkflowName string    `json:"workflowName"`
	TaskID       string    `json:"taskId"`
	MeanMS       float64   `json:"meanMs"`
	StdDevMS     float64   `json:"stdDevMs"`
	SampleCount  int       `json:"sampleCount"`
	WindowStart  time.Time `json:"windowStart"`
	WindowEnd    time.Time `json:"windowEnd"`
	ComputedAt   time.Time `json:"computedAt"`
}

// Event is one detected duration anomaly.
type Event struct {
	WorkflowName string    `json:"workflowName"`
	TaskID       string    `json:"taskId"`
	ExecutionID  core.ID   `json:"executionId"`
	ActualMS     float64   `json:"actualMs"`
	MeanMS       float64   `json:"meanMs"`
	StdDevMS     float64   `json:"stdDevMs"`
	ZScore       float64   `json:"zScore"`
	Severity     Severity  `json:"severity"`
	DetectedAt   time.Time `json:"detectedAt"`
}

// Severity buckets an anomaly by how many standard deviations the observed
// duration sits from the mean.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Thresholds maps absolute z-scores to severities. Each field is the
// minimum |z| for its severity.
type Thresholds struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// DefaultThresholds returns the standard 2/3/4/5 sigma buckets.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 2, Medium: 3, High: 4, Critical: 5}
}

// severityFor maps an absolute z-score to a severity. Scores under the Low
// threshold are not anomalies.
func (t Thresholds) severityFor(absZ float64) (Severity, bool) {
	switch {
	case absZ >= t.Critical:
		return SeverityCritical, true
	case absZ >= t.High:
		return SeverityHigh, true
	case absZ >= t.Medium:
		return SeverityMedium, true
	case absZ >= t.Low:
		return SeverityLow, true
	default:
		return "", false
	}
}

// BaselineRepository persists computed baselines across restarts.
type BaselineRepository interface {
	UpsertBaselines(ctx context.Context, baselines []Baseline) error
	Baselines(ctx context.Context) ([]Baseline, error)
}

type baselineKey struct {
	workflow string
	taskID   string
}

// Store is the in-memory baseline index the detector reads on the execution
// hot path.
type Store struct {
	mu        sync.RWMutex
	baselines map[baselineKey]Baseline
}

func NewStore() *Store {
	return &Store{baselines: make(map[baselineKey]Baseline)}
}

// Replace swaps the full baseline set atomically.
func (s *Store) Replace(baselines []Baseline) {
	next := make(map[baselineKey]Baseline, len(baselines))
	for _, b := range baselines {
		next[baselineKey{workflow: resource.IndexKey(b.WorkflowName), taskID: b.TaskID}] = b
	}
	s.mu.Lock()
	s.baselines = next
	s.mu.Unlock()
}

// Lookup returns the baseline for a (workflow, task) pair, or nil.
func (s *Store) Lookup(workflowName, taskID string) *Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[baselineKey{workflow: resource.IndexKey(workflowName), taskID: taskID}]
	if !ok {
		return nil
	}
	return &b
}

// Len reports how many baselines are loaded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

// meanStdDev computes the population mean and standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
