package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/daz23456/workflow-sub005/engine/labels"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

// LabelRepo implements labels.Repository on PostgreSQL. Label rows are
// stored per resource; the usage aggregates are derived from them.
type LabelRepo struct {
	db  DBInterface
	now func() time.Time
}

func NewLabelRepo(db DBInterface) *LabelRepo {
	return &LabelRepo{db: db, now: time.Now}
}

type workflowLabelRow struct {
	WorkflowName string    `db:"workflow_name"`
	Namespace    string    `db:"namespace"`
	Tags         []string  `db:"tags"`
	Categories   []string  `db:"categories"`
	SyncedAt     time.Time `db:"synced_at"`
}

type taskLabelRow struct {
	TaskName  string    `db:"task_name"`
	Namespace string    `db:"namespace"`
	Tags      []string  `db:"tags"`
	Category  string    `db:"category"`
	SyncedAt  time.Time `db:"synced_at"`
}

type labelRow struct {
	Kind          string    `db:"kind"`
	ValueKey      string    `db:"value_key"`
	Value         string    `db:"value"`
	WorkflowCount int       `db:"workflow_count"`
	TaskCount     int       `db:"task_count"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// UpsertWorkflowLabels writes the workflow label rows in one transaction,
// keyed by workflow name.
func (r *LabelRepo) UpsertWorkflowLabels(ctx context.Context, rows []labels.WorkflowLabels) error {
	if len(rows) == 0 {
		return nil
	}
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		for _, row := range rows {
			sql, args, err := squirrel.Insert("workflow_labels").
				Columns("workflow_name", "namespace", "tags", "categories", "synced_at").
				Values(row.WorkflowName, row.Namespace, emptyIfNil(row.Tags), emptyIfNil(row.Categories), row.SyncedAt).
				Suffix(`ON CONFLICT (workflow_name) DO UPDATE SET
					namespace = EXCLUDED.namespace,
					tags = EXCLUDED.tags,
					categories = EXCLUDED.categories,
					synced_at = EXCLUDED.synced_at`).
				PlaceholderFormat(squirrel.Dollar).
				ToSql()
			if err != nil {
				return fmt.Errorf("postgres: build workflow label upsert: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("postgres: upsert workflow labels %s: %w", row.WorkflowName, err)
			}
		}
		return nil
	})
}

// UpsertTaskLabels writes the task label rows in one transaction, keyed by
// task name.
func (r *LabelRepo) UpsertTaskLabels(ctx context.Context, rows []labels.TaskLabels) error {
	if len(rows) == 0 {
		return nil
	}
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		for _, row := range rows {
			sql, args, err := squirrel.Insert("task_labels").
				Columns("task_name", "namespace", "tags", "category", "synced_at").
				Values(row.TaskName, row.Namespace, emptyIfNil(row.Tags), row.Category, row.SyncedAt).
				Suffix(`ON CONFLICT (task_name) DO UPDATE SET
					namespace = EXCLUDED.namespace,
					tags = EXCLUDED.tags,
					category = EXCLUDED.category,
					synced_at = EXCLUDED.synced_at`).
				PlaceholderFormat(squirrel.Dollar).
				ToSql()
			if err != nil {
				return fmt.Errorf("postgres: build task label upsert: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("postgres: upsert task labels %s: %w", row.TaskName, err)
			}
		}
		return nil
	})
}

// DeleteMissing removes label rows for resources that are no longer
// present. An empty present list clears the table.
func (r *LabelRepo) DeleteMissing(ctx context.Context, workflowsPresent, tasksPresent []string) error {
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if err := r.deleteAbsent(ctx, tx, "workflow_labels", "workflow_name", workflowsPresent); err != nil {
			return err
		}
		return r.deleteAbsent(ctx, tx, "task_labels", "task_name", tasksPresent)
	})
}

func (r *LabelRepo) deleteAbsent(ctx context.Context, tx pgx.Tx, table, column string, present []string) error {
	sb := squirrel.Delete(table).PlaceholderFormat(squirrel.Dollar)
	if len(present) > 0 {
		sb = sb.Where(squirrel.NotEq{column: present})
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build %s delete: %w", table, err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: delete stale %s rows: %w", table, err)
	}
	return nil
}

// RecomputeUsageStats rebuilds the label aggregates from the stored label
// rows and replaces the aggregate table transactionally.
func (r *LabelRepo) RecomputeUsageStats(ctx context.Context) error {
	var workflowRows []workflowLabelRow
	if err := pgxscan.Select(ctx, r.db, &workflowRows, "SELECT * FROM workflow_labels"); err != nil {
		return fmt.Errorf("postgres: load workflow labels: %w", err)
	}
	var taskRows []taskLabelRow
	if err := pgxscan.Select(ctx, r.db, &taskRows, "SELECT * FROM task_labels"); err != nil {
		return fmt.Errorf("postgres: load task labels: %w", err)
	}
	workflows := make([]labels.WorkflowLabels, 0, len(workflowRows))
	for _, row := range workflowRows {
		workflows = append(workflows, labels.WorkflowLabels{
			WorkflowName: row.WorkflowName,
			Namespace:    row.Namespace,
			Tags:         row.Tags,
			Categories:   row.Categories,
			SyncedAt:     row.SyncedAt,
		})
	}
	tasks := make([]labels.TaskLabels, 0, len(taskRows))
	for _, row := range taskRows {
		tasks = append(tasks, labels.TaskLabels{
			TaskName:  row.TaskName,
			Namespace: row.Namespace,
			Tags:      row.Tags,
			Category:  row.Category,
			SyncedAt:  row.SyncedAt,
		})
	}
	aggregates := labels.Compute(workflows, tasks, r.now().UTC())
	return withTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM label_aggregates"); err != nil {
			return fmt.Errorf("postgres: clear label aggregates: %w", err)
		}
		for _, agg := range aggregates {
			sql, args, err := squirrel.Insert("label_aggregates").
				Columns("kind", "value_key", "value", "workflow_count", "task_count", "updated_at").
				Values(
					string(agg.Kind), resource.IndexKey(agg.Value), agg.Value,
					agg.WorkflowCount, agg.TaskCount, agg.UpdatedAt,
				).
				PlaceholderFormat(squirrel.Dollar).
				ToSql()
			if err != nil {
				return fmt.Errorf("postgres: build label aggregate insert: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("postgres: insert label aggregate %s/%s: %w", agg.Kind, agg.Value, err)
			}
		}
		return nil
	})
}

// All returns every stored aggregate ordered by kind then value.
func (r *LabelRepo) All(ctx context.Context) ([]labels.Aggregate, error) {
	sql, args, err := squirrel.Select("*").
		From("label_aggregates").
		OrderBy("kind", "value_key").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build label list query: %w", err)
	}
	var rows []labelRow
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("postgres: list label aggregates: %w", err)
	}
	out := make([]labels.Aggregate, 0, len(rows))
	for _, row := range rows {
		out = append(out, labels.Aggregate{
			Value:         row.Value,
			Kind:          labels.Kind(row.Kind),
			WorkflowCount: row.WorkflowCount,
			TaskCount:     row.TaskCount,
			UpdatedAt:     row.UpdatedAt,
		})
	}
	return out, nil
}

// emptyIfNil keeps nil slices out of array columns declared NOT NULL.
func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
