package core

// Input carries the caller-supplied parameters of a workflow execution.
type Input map[string]any

// Output carries the values produced by a workflow or task execution.
type Output map[string]any

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "Running"
	StatusSucceeded ExecutionStatus = "Succeeded"
	StatusFailed    ExecutionStatus = "Failed"
	StatusCanceled  ExecutionStatus = "Canceled"
)

func (s ExecutionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is a final state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TaskStatus is the per-task outcome within an execution.
type TaskStatus string

const (
	TaskStatusSucceeded TaskStatus = "Succeeded"
	TaskStatusFailed    TaskStatus = "Failed"
)

// PaginationParams bounds list queries. Zero Take falls back to DefaultTake.
type PaginationParams struct {
	Skip int
	Take int
}

const (
	DefaultTake = 50
	MaxTake     = 500
)

// Normalize clamps the parameters into the supported range.
func (p PaginationParams) Normalize() PaginationParams {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Take <= 0 {
		p.Take = DefaultTake
	}
	if p.Take > MaxTake {
		p.Take = MaxTake
	}
	return p
}
