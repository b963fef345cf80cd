package execution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daz23456/workflow-sub005/engine/core"
)

// Metrics exposes execution counters and latency. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"workflow", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_workflow_execution_duration_seconds",
			Help:    "Wall-clock duration of workflow executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"workflow"}),
	}
	if reg != nil {
		reg.MustRegister(m.executions, m.duration)
	}
	return m
}

func (m *Metrics) observeExecution(workflow string, status core.ExecutionStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(workflow, string(status)).Inc()
	m.duration.WithLabelValues(workflow).Observe(d.Seconds())
}
