package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/daz23456/workflow-sub005/engine/version"
)

// VersionRepo implements version.Repository on PostgreSQL.
type VersionRepo struct {
	db DBInterface
}

func NewVersionRepo(db DBInterface) *VersionRepo {
	return &VersionRepo{db: db}
}

type versionRow struct {
	WorkflowName string    `db:"workflow_name"`
	Revision     int       `db:"revision"`
	CapturedAt   time.Time `db:"captured_at"`
	ContentHash  string    `db:"content_hash"`
	SpecSnapshot []byte    `db:"spec_snapshot"`
}

func (r *versionRow) toVersion() version.Version {
	return version.Version{
		WorkflowName: r.WorkflowName,
		Revision:     r.Revision,
		CapturedAt:   r.CapturedAt,
		ContentHash:  r.ContentHash,
		SpecSnapshot: r.SpecSnapshot,
	}
}

// Latest returns the newest version for a workflow, or nil when none exist.
func (r *VersionRepo) Latest(ctx context.Context, workflowName string) (*version.Version, error) {
	sql, args, err := squirrel.Select("*").
		From("workflow_versions").
		Where(squirrel.Eq{"workflow_name": workflowName}).
		OrderBy("revision DESC").
		Limit(1).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build latest version query: %w", err)
	}
	var row versionRow
	if err := pgxscan.Get(ctx, r.db, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: load latest version of %q: %w", workflowName, err)
	}
	v := row.toVersion()
	return &v, nil
}

// Append inserts a new version row. Revisions are append-only; a conflict
// means two gateways raced on the same revision and the loser's write is an
// error the caller logs and retries on the next watch pass.
func (r *VersionRepo) Append(ctx context.Context, v *version.Version) error {
	sql, args, err := squirrel.Insert("workflow_versions").
		Columns("workflow_name", "revision", "captured_at", "content_hash", "spec_snapshot").
		Values(v.WorkflowName, v.Revision, v.CapturedAt, v.ContentHash, []byte(v.SpecSnapshot)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build version insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: append version %d of %q: %w", v.Revision, v.WorkflowName, err)
	}
	return nil
}

// List returns all versions of a workflow, newest first.
func (r *VersionRepo) List(ctx context.Context, workflowName string) ([]version.Version, error) {
	sql, args, err := squirrel.Select("*").
		From("workflow_versions").
		Where(squirrel.Eq{"workflow_name": workflowName}).
		OrderBy("revision DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build version list query: %w", err)
	}
	var rows []versionRow
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("postgres: list versions of %q: %w", workflowName, err)
	}
	versions := make([]version.Version, 0, len(rows))
	for i := range rows {
		versions = append(versions, rows[i].toVersion())
	}
	return versions, nil
}
