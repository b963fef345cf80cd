package resource

import (
	"context"
	"sync"
)

// StaticClient is an in-memory registry client. It backs tests and local
// development where no cluster registry is reachable.
type StaticClient struct {
	mu            sync.Mutex
	workflows     []Workflow
	tasks         []Task
	err           error
	workflowCalls int
	taskCalls     int
}

func NewStaticClient() *StaticClient {
	return &StaticClient{}
}

// SetWorkflows replaces the workflow list returned by ListWorkflows.
func (c *StaticClient) SetWorkflows(workflows []Workflow) {
	c.mu.Lock()
	c.workflows = workflows
	c.mu.Unlock()
}

// SetTasks replaces the task list returned by ListTasks.
func (c *StaticClient) SetTasks(tasks []Task) {
	c.mu.Lock()
	c.tasks = tasks
	c.mu.Unlock()
}

// SetError makes every list call fail with err until cleared.
func (c *StaticClient) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// WorkflowCalls reports how many ListWorkflows calls reached the client.
func (c *StaticClient) WorkflowCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflowCalls
}

// TaskCalls reports how many ListTasks calls reached the client.
func (c *StaticClient) TaskCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskCalls
}

func (c *StaticClient) ListWorkflows(_ context.Context, _ *string) ([]Workflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflowCalls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Workflow, len(c.workflows))
	copy(out, c.workflows)
	return out, nil
}

func (c *StaticClient) ListTasks(_ context.Context, _ *string) ([]Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskCalls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Task, len(c.tasks))
	copy(out, c.tasks)
	return out, nil
}
