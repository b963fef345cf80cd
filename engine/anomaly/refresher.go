package anomaly

import (
	"context"
	"time"

	"github.com/daz23456/workflow-sub005/engine/execution"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

const (
	// DefaultRefreshInterval is how often baselines are recomputed.
	DefaultRefreshInterval = time.Hour
	// DefaultWindowDays bounds how far back samples are drawn from.
	DefaultWindowDays = 30
	// DefaultMinSamples is the floor below which no baseline is computed;
	// a thin history would make the z-score meaningless.
	DefaultMinSamples = 20
)

// SampleSource provides historical duration samples, typically the
// execution repository. Workflow-level samples carry an empty TaskID.
type SampleSource interface {
	DurationSamples(ctx context.Context, daysBack int) ([]execution.DurationSample, error)
}

// RefresherOptions tunes baseline recomputation.
type RefresherOptions struct {
	Interval   time.Duration
	WindowDays int
	MinSamples int
}

// Refresher recomputes workflow and task duration baselines on an interval
// and swaps them into the store.
type Refresher struct {
	source     SampleSource
	store      *Store
	repo       BaselineRepository
	interval   time.Duration
	windowDays int
	minSamples int
	now        func() time.Time
}

// NewRefresher builds a refresher; repo may be nil for memory-only
// baselines.
func NewRefresher(source SampleSource, store *Store, repo BaselineRepository, opts *RefresherOptions) *Refresher {
	r := &Refresher{
		source:     source,
		store:      store,
		repo:       repo,
		interval:   DefaultRefreshInterval,
		windowDays: DefaultWindowDays,
		minSamples: DefaultMinSamples,
		now:        time.Now,
	}
	if opts != nil {
		if opts.Interval > 0 {
			r.interval = opts.Interval
		}
		if opts.WindowDays > 0 {
			r.windowDays = opts.WindowDays
		}
		if opts.MinSamples > 0 {
			r.minSamples = opts.MinSamples
		}
	}
	return r
}

// Run refreshes immediately and then on every interval until ctx ends. On
// startup, persisted baselines are loaded first so detection works before
// the first recomputation finishes.
func (r *Refresher) Run(ctx context.Context) {
	r.loadPersisted(ctx)
	r.Refresh(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Refresher) loadPersisted(ctx context.Context) {
	if r.repo == nil {
		return
	}
	baselines, err := r.repo.Baselines(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to load persisted baselines", "error", err)
		return
	}
	if len(baselines) > 0 {
		r.store.Replace(baselines)
	}
}

// Refresh recomputes all baselines from the sample window. Groups with
// fewer than the minimum sample count produce no baseline.
func (r *Refresher) Refresh(ctx context.Context) {
	log := logger.FromContext(ctx)
	samples, err := r.source.DurationSamples(ctx, r.windowDays)
	if err != nil {
		log.Error("baseline refresh failed, keeping previous baselines", "error", err)
		return
	}
	baselines := r.compute(samples)
	r.store.Replace(baselines)
	log.Debug("duration baselines refreshed", "baselines", len(baselines), "samples", len(samples))
	if r.repo == nil {
		return
	}
	if err := r.repo.UpsertBaselines(ctx, baselines); err != nil {
		log.Warn("failed to persist baselines", "error", err)
	}
}

func (r *Refresher) compute(samples []execution.DurationSample) []Baseline {
	grouped := make(map[baselineKey][]float64)
	names := make(map[baselineKey]string)
	for _, s := range samples {
		key := baselineKey{workflow: s.WorkflowName, taskID: s.TaskID}
		grouped[key] = append(grouped[key], s.DurationMS)
		names[key] = s.WorkflowName
	}
	computedAt := r.now().UTC()
	windowStart := computedAt.AddDate(0, 0, -r.windowDays)
	baselines := make([]Baseline, 0, len(grouped))
	for key, values := range grouped {
		if len(values) < r.minSamples {
			continue
		}
		mean, stddev := meanStdDev(values)
		baselines = append(baselines, Baseline{
			WorkflowName: names[key],
			TaskID:       key.taskID,
			MeanMS:       mean,
			StdDevMS:     stddev,
			SampleCount:  len(values),
			WindowStart:  windowStart,
			WindowEnd:    computedAt,
			ComputedAt:   computedAt,
		})
	}
	return baselines
}
