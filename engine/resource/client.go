package resource

import "context"

// Kind names a registry resource kind.
type Kind string

const (
	KindWorkflow Kind = "Workflow"
	KindTask     Kind = "WorkflowTask"
)

// Client lists declarative resources from the cluster registry. A nil
// namespace means all namespaces and is distinct from the "default"
// namespace. Implementations must be safe for concurrent use.
type Client interface {
	ListWorkflows(ctx context.Context, namespace *string) ([]Workflow, error)
	ListTasks(ctx context.Context, namespace *string) ([]Task, error)
}
