package gateway

import (
	"context"
	"time"

	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/engine/version"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// DefaultWatchInterval is how often the watcher reconciles endpoints and
// captures workflow versions.
const DefaultWatchInterval = 10 * time.Second

// WorkflowLister is the discovery surface the watcher polls.
type WorkflowLister interface {
	Workflows(ctx context.Context, namespace *string) ([]resource.Workflow, error)
}

// Watcher periodically lists workflows, reconciles the endpoint registry,
// and appends a version for every workflow whose spec changed.
type Watcher struct {
	source   WorkflowLister
	registry *Registry
	versions *version.Service
	interval time.Duration
}

// NewWatcher builds a watcher; versions may be nil to skip version capture.
func NewWatcher(source WorkflowLister, registry *Registry, versions *version.Service, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{source: source, registry: registry, versions: versions, interval: interval}
}

// Run reconciles once immediately and then on every tick until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	w.Sync(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sync(ctx)
		}
	}
}

// Sync performs one reconciliation pass. A discovery failure skips the pass
// entirely; per-workflow version failures skip only that workflow.
func (w *Watcher) Sync(ctx context.Context) {
	log := logger.FromContext(ctx)
	workflows, err := w.source.Workflows(ctx, nil)
	if err != nil {
		log.Error("workflow discovery failed, keeping previous endpoints", "error", err)
		return
	}
	registered := w.registry.SyncAll(ctx, workflows)
	log.Debug("endpoint registry reconciled", "workflows", registered)
	if w.versions == nil {
		return
	}
	for i := range workflows {
		created, err := w.versions.CreateVersionIfChanged(ctx, &workflows[i])
		if err != nil {
			log.Warn("failed to capture workflow version", "workflow", workflows[i].Metadata.Name, "error", err)
			continue
		}
		if created {
			log.Info("captured new workflow version", "workflow", workflows[i].Metadata.Name)
		}
	}
}
