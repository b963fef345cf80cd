package execution

import (
	"context"
	"errors"

	"github.com/daz23456/workflow-sub005/engine/core"
)

// ErrNotFound is returned by Get for unknown execution ids.
var ErrNotFound = errors.New("execution not found")

// ListFilter narrows execution list queries.
type ListFilter struct {
	WorkflowName *string
	Status       *core.ExecutionStatus
	Pagination   core.PaginationParams
}

// Repository is the persistence contract for execution records. Save is an
// upsert keyed on Record.ID so the terminal write replaces the Running one.
type Repository interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, id core.ID) (*Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	AllWorkflowStatistics(ctx context.Context) (map[string]WorkflowStatistics, error)
	DurationTrends(ctx context.Context, workflowName string, daysBack int) ([]DurationDataPoint, error)
	DurationSamples(ctx context.Context, daysBack int) ([]DurationSample, error)
}
