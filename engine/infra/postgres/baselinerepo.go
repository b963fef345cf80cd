package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/daz23456/workflow-sub005/engine/anomaly"
)

// BaselineRepo implements anomaly.BaselineRepository on PostgreSQL.
type BaselineRepo struct {
	db DBInterface
}

func NewBaselineRepo(db DBInterface) *BaselineRepo {
	return &BaselineRepo{db: db}
}

type baselineRow struct {
	WorkflowName string    `db:"workflow_name"`
	TaskID       string    `db:"task_id"`
	MeanMS       float64   `db:"mean_ms"`
	StdDevMS     float64   `db:"stddev_ms"`
	SampleCount  int       `db:"sample_count"`
	WindowStart  time.Time `db:"window_start"`
	WindowEnd    time.Time `db:"window_end"`
	ComputedAt   time.Time `db:"computed_at"`
}

// UpsertBaselines replaces the stored baseline set in one transaction:
// stale rows go first so deleted workflows do not keep ghost baselines.
func (r *BaselineRepo) UpsertBaselines(ctx context.Context, baselines []anomaly.Baseline) error {
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM task_baselines"); err != nil {
			return fmt.Errorf("postgres: clear baselines: %w", err)
		}
		for _, b := range baselines {
			sql, args, err := squirrel.Insert("task_baselines").
				Columns(
					"workflow_name", "task_id", "mean_ms", "stddev_ms",
					"sample_count", "window_start", "window_end", "computed_at",
				).
				Values(
					b.WorkflowName, b.TaskID, b.MeanMS, b.StdDevMS,
					b.SampleCount, b.WindowStart, b.WindowEnd, b.ComputedAt,
				).
				PlaceholderFormat(squirrel.Dollar).
				ToSql()
			if err != nil {
				return fmt.Errorf("postgres: build baseline insert: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("postgres: insert baseline %s/%s: %w", b.WorkflowName, b.TaskID, err)
			}
		}
		return nil
	})
}

// Baselines returns every stored baseline.
func (r *BaselineRepo) Baselines(ctx context.Context) ([]anomaly.Baseline, error) {
	const query = "SELECT * FROM task_baselines"
	var rows []baselineRow
	if err := pgxscan.Select(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("postgres: list baselines: %w", err)
	}
	out := make([]anomaly.Baseline, 0, len(rows))
	for _, row := range rows {
		out = append(out, anomaly.Baseline{
			WorkflowName: row.WorkflowName,
			TaskID:       row.TaskID,
			MeanMS:       row.MeanMS,
			StdDevMS:     row.StdDevMS,
			SampleCount:  row.SampleCount,
			WindowStart:  row.WindowStart,
			WindowEnd:    row.WindowEnd,
			ComputedAt:   row.ComputedAt,
		})
	}
	return out, nil
}
