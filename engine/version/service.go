package version

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// Version is an immutable snapshot of a workflow spec, appended whenever the
// spec's content hash changes.
type Version struct {
	WorkflowName string          `json:"workflowName"`
	Revision     int             `json:"revision"`
	CapturedAt   time.Time       `json:"capturedAt"`
	ContentHash  string          `json:"contentHash"`
	SpecSnapshot json.RawMessage `json:"specSnapshot"`
}

// Repository is the persistence contract for workflow versions.
type Repository interface {
	Latest(ctx context.Context, workflowName string) (*Version, error)
	Append(ctx context.Context, v *Version) error
	List(ctx context.Context, workflowName string) ([]Version, error)
}

// Service tracks workflow spec revisions.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// CreateVersionIfChanged fingerprints the workflow spec and appends a new
// version iff the hash differs from the latest recorded one. It returns
// true when a version was appended.
func (s *Service) CreateVersionIfChanged(ctx context.Context, wf *resource.Workflow) (bool, error) {
	if wf == nil {
		return false, fmt.Errorf("version: workflow is required")
	}
	name := wf.Metadata.Name
	if name == "" {
		return false, fmt.Errorf("version: workflow name is required")
	}
	hash := core.ContentHash(wf.Spec)
	latest, err := s.repo.Latest(ctx, name)
	if err != nil {
		return false, fmt.Errorf("version: load latest for %q: %w", name, err)
	}
	if latest != nil && latest.ContentHash == hash {
		return false, nil
	}
	revision := 1
	if latest != nil {
		revision = latest.Revision + 1
	}
	snapshot, err := json.Marshal(wf.Spec)
	if err != nil {
		return false, fmt.Errorf("version: marshal spec for %q: %w", name, err)
	}
	v := &Version{
		WorkflowName: name,
		Revision:     revision,
		CapturedAt:   s.now().UTC(),
		ContentHash:  hash,
		SpecSnapshot: snapshot,
	}
	if err := s.repo.Append(ctx, v); err != nil {
		return false, fmt.Errorf("version: append revision %d for %q: %w", revision, name, err)
	}
	logger.FromContext(ctx).Debug("workflow version captured", "workflow", name, "revision", revision)
	return true, nil
}

// List returns the recorded versions of a workflow, newest first.
func (s *Service) List(ctx context.Context, workflowName string) ([]Version, error) {
	return s.repo.List(ctx, workflowName)
}
