package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/execution"
)

// ExecutionRepo implements execution.Repository on PostgreSQL.
type ExecutionRepo struct {
	db DBInterface
}

func NewExecutionRepo(db DBInterface) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

type executionRow struct {
	ID            string     `db:"id"`
	WorkflowName  string     `db:"workflow_name"`
	Namespace     string     `db:"namespace"`
	Status        string     `db:"status"`
	StartedAt     time.Time  `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
	DurationMS    *int64     `db:"duration_ms"`
	InputSnapshot []byte     `db:"input_snapshot"`
	Error         *string    `db:"error"`
	Tasks         []byte     `db:"tasks"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (r *executionRow) toRecord() (*execution.Record, error) {
	record := &execution.Record{
		ID:            core.ID(r.ID),
		WorkflowName:  r.WorkflowName,
		Namespace:     r.Namespace,
		Status:        core.ExecutionStatus(r.Status),
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		DurationMS:    r.DurationMS,
		InputSnapshot: r.InputSnapshot,
		Error:         r.Error,
	}
	if len(r.Tasks) > 0 {
		if err := json.Unmarshal(r.Tasks, &record.Tasks); err != nil {
			return nil, fmt.Errorf("postgres: decode task records for %s: %w", r.ID, err)
		}
	}
	return record, nil
}

// Save upserts the record on id so the terminal write replaces the Running
// one.
func (r *ExecutionRepo) Save(ctx context.Context, record *execution.Record) error {
	tasks, err := json.Marshal(record.Tasks)
	if err != nil {
		return fmt.Errorf("postgres: encode task records: %w", err)
	}
	if record.Tasks == nil {
		tasks = []byte("[]")
	}
	sql, args, err := squirrel.Insert("workflow_executions").
		Columns(
			"id", "workflow_name", "namespace", "status",
			"started_at", "completed_at", "duration_ms",
			"input_snapshot", "error", "tasks", "updated_at",
		).
		Values(
			string(record.ID), record.WorkflowName, record.Namespace, string(record.Status),
			record.StartedAt, record.CompletedAt, record.DurationMS,
			[]byte(record.InputSnapshot), record.Error, tasks, squirrel.Expr("now()"),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			error = EXCLUDED.error,
			tasks = EXCLUDED.tasks,
			updated_at = now()`).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build execution upsert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", record.ID, err)
	}
	return nil
}

// Get loads one execution record by id.
func (r *ExecutionRepo) Get(ctx context.Context, id core.ID) (*execution.Record, error) {
	sql, args, err := squirrel.Select("*").
		From("workflow_executions").
		Where(squirrel.Eq{"id": string(id)}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build execution query: %w", err)
	}
	var row executionRow
	if err := pgxscan.Get(ctx, r.db, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, execution.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load execution %s: %w", id, err)
	}
	return row.toRecord()
}

// List returns executions newest first, narrowed by the filter.
func (r *ExecutionRepo) List(ctx context.Context, filter execution.ListFilter) ([]execution.Record, error) {
	pagination := filter.Pagination.Normalize()
	sb := squirrel.Select("*").
		From("workflow_executions").
		OrderBy("started_at DESC").
		Limit(uint64(pagination.Take)).
		Offset(uint64(pagination.Skip)).
		PlaceholderFormat(squirrel.Dollar)
	if filter.WorkflowName != nil {
		sb = sb.Where(squirrel.Eq{"workflow_name": *filter.WorkflowName})
	}
	if filter.Status != nil {
		sb = sb.Where(squirrel.Eq{"status": string(*filter.Status)})
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build execution list query: %w", err)
	}
	var rows []executionRow
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	records := make([]execution.Record, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

type statisticsRow struct {
	WorkflowName  string     `db:"workflow_name"`
	TotalRuns     int64      `db:"total_runs"`
	SucceededRuns int64      `db:"succeeded_runs"`
	FailedRuns    int64      `db:"failed_runs"`
	AvgDurationMS *float64   `db:"avg_duration_ms"`
	LastRunAt     *time.Time `db:"last_run_at"`
}

// AllWorkflowStatistics aggregates every persisted execution per workflow.
func (r *ExecutionRepo) AllWorkflowStatistics(ctx context.Context) (map[string]execution.WorkflowStatistics, error) {
	const query = `
		SELECT workflow_name,
		       COUNT(*) AS total_runs,
		       COUNT(*) FILTER (WHERE status = 'Succeeded') AS succeeded_runs,
		       COUNT(*) FILTER (WHERE status = 'Failed') AS failed_runs,
		       AVG(duration_ms) AS avg_duration_ms,
		       MAX(started_at) AS last_run_at
		FROM workflow_executions
		GROUP BY workflow_name`
	var rows []statisticsRow
	if err := pgxscan.Select(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("postgres: aggregate workflow statistics: %w", err)
	}
	out := make(map[string]execution.WorkflowStatistics, len(rows))
	for _, row := range rows {
		stats := execution.WorkflowStatistics{
			WorkflowName:  row.WorkflowName,
			TotalRuns:     row.TotalRuns,
			SucceededRuns: row.SucceededRuns,
			FailedRuns:    row.FailedRuns,
			LastRunAt:     row.LastRunAt,
		}
		if row.AvgDurationMS != nil {
			stats.AvgDurationMS = *row.AvgDurationMS
		}
		out[row.WorkflowName] = stats
	}
	return out, nil
}

type trendRow struct {
	Date          time.Time `db:"date"`
	AvgDurationMS float64   `db:"avg_duration_ms"`
	Runs          int64     `db:"runs"`
}

// DurationTrends returns daily duration aggregates for one workflow.
func (r *ExecutionRepo) DurationTrends(
	ctx context.Context,
	workflowName string,
	daysBack int,
) ([]execution.DurationDataPoint, error) {
	const query = `
		SELECT date_trunc('day', started_at) AS date,
		       AVG(duration_ms) AS avg_duration_ms,
		       COUNT(*) AS runs
		FROM workflow_executions
		WHERE workflow_name = $1
		  AND duration_ms IS NOT NULL
		  AND started_at >= now() - make_interval(days => $2)
		GROUP BY 1
		ORDER BY 1`
	var rows []trendRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, workflowName, daysBack); err != nil {
		return nil, fmt.Errorf("postgres: load duration trends for %q: %w", workflowName, err)
	}
	points := make([]execution.DurationDataPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, execution.DurationDataPoint{
			Date:          row.Date,
			AvgDurationMS: row.AvgDurationMS,
			Runs:          row.Runs,
		})
	}
	return points, nil
}

type sampleRow struct {
	WorkflowName string    `db:"workflow_name"`
	TaskID       string    `db:"task_id"`
	DurationMS   float64   `db:"duration_ms"`
	ObservedAt   time.Time `db:"observed_at"`
}

// DurationSamples returns the duration telemetry inside the sample window
// for baseline computation: one sample per succeeded task, plus one
// workflow-level sample (empty task_id) per succeeded execution.
func (r *ExecutionRepo) DurationSamples(ctx context.Context, daysBack int) ([]execution.DurationSample, error) {
	const query = `
		SELECT e.workflow_name,
		       t ->> 'taskId' AS task_id,
		       (t ->> 'durationMs')::DOUBLE PRECISION AS duration_ms,
		       e.started_at AS observed_at
		FROM workflow_executions e,
		     jsonb_array_elements(e.tasks) AS t
		WHERE e.started_at >= now() - make_interval(days => $1)
		  AND t ->> 'status' = 'Succeeded'
		UNION ALL
		SELECT e.workflow_name,
		       '' AS task_id,
		       e.duration_ms::DOUBLE PRECISION AS duration_ms,
		       e.started_at AS observed_at
		FROM workflow_executions e
		WHERE e.started_at >= now() - make_interval(days => $1)
		  AND e.status = 'Succeeded'
		  AND e.duration_ms IS NOT NULL`
	var rows []sampleRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, daysBack); err != nil {
		return nil, fmt.Errorf("postgres: load duration samples: %w", err)
	}
	samples := make([]execution.DurationSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, execution.DurationSample{
			WorkflowName: row.WorkflowName,
			TaskID:       row.TaskID,
			DurationMS:   row.DurationMS,
			ObservedAt:   row.ObservedAt,
		})
	}
	return samples, nil
}
