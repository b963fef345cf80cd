package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

// EventSink receives progress events from the orchestrator for a single
// execution. Implementations must not block; the orchestrator calls them
// inline on task goroutines.
type EventSink interface {
	TaskStarted(ctx context.Context, taskID, taskName string)
	TaskCompleted(
		ctx context.Context,
		taskID, taskName string,
		status core.TaskStatus,
		output core.Output,
		duration time.Duration,
	)
	SignalFlow(ctx context.Context, fromTaskID, toTaskID string)
}

// NopSink discards all events. The test endpoint uses it so dry runs never
// reach the visualization group.
type NopSink struct{}

func (NopSink) TaskStarted(context.Context, string, string) {}
func (NopSink) TaskCompleted(context.Context, string, string, core.TaskStatus, core.Output, time.Duration) {
}
func (NopSink) SignalFlow(context.Context, string, string) {}

// Orchestrator executes a workflow's task graph. The task map is keyed by
// the folded task resource name; resources without a name key under the
// empty string.
type Orchestrator interface {
	Execute(
		ctx context.Context,
		wf *resource.Workflow,
		tasks map[string]*resource.Task,
		input core.Input,
		sink EventSink,
	) (*Result, error)
}

const defaultMaxConcurrency = 8

// DAGOrchestrator runs tasks in dependency order with bounded concurrency.
type DAGOrchestrator struct {
	executor       StepExecutor
	maxConcurrency int
	now            func() time.Time
}

func NewDAGOrchestrator(executor StepExecutor, maxConcurrency int) *DAGOrchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &DAGOrchestrator{executor: executor, maxConcurrency: maxConcurrency, now: time.Now}
}

type graphNode struct {
	step       resource.TaskStep
	deps       []int
	dependents []int
}

type taskGraph struct {
	nodes []graphNode
	byID  map[string]int
}

// BuildGraph resolves and validates the workflow's task graph.
func BuildGraph(wf *resource.Workflow) (*taskGraph, *GraphDiagnostics, error) {
	steps := wf.Spec.Tasks
	g := &taskGraph{
		nodes: make([]graphNode, 0, len(steps)),
		byID:  make(map[string]int, len(steps)),
	}
	for i, step := range steps {
		if step.ID == "" {
			return nil, nil, fmt.Errorf("task at position %d has no id", i)
		}
		if _, exists := g.byID[step.ID]; exists {
			return nil, nil, fmt.Errorf("duplicate task id %q", step.ID)
		}
		g.byID[step.ID] = i
		g.nodes = append(g.nodes, graphNode{step: step})
	}
	edges := 0
	var warnings []string
	for i := range g.nodes {
		seen := make(map[string]struct{})
		for _, dep := range g.nodes[i].step.DependsOn {
			depIdx, ok := g.byID[dep]
			if !ok {
				return nil, nil, fmt.Errorf("task %q depends on unknown task %q", g.nodes[i].step.ID, dep)
			}
			if depIdx == i {
				return nil, nil, fmt.Errorf("task %q depends on itself", g.nodes[i].step.ID)
			}
			if _, dup := seen[dep]; dup {
				warnings = append(warnings, fmt.Sprintf("task %q lists dependency %q more than once", g.nodes[i].step.ID, dep))
				continue
			}
			seen[dep] = struct{}{}
			g.nodes[i].deps = append(g.nodes[i].deps, depIdx)
			g.nodes[depIdx].dependents = append(g.nodes[depIdx].dependents, i)
			edges++
		}
	}
	stages, err := g.topoStages()
	if err != nil {
		return nil, nil, err
	}
	diag := &GraphDiagnostics{
		TaskCount: len(g.nodes),
		EdgeCount: edges,
		MaxDepth:  len(stages),
		Warnings:  warnings,
	}
	for i := range g.nodes {
		if len(g.nodes[i].deps) == 0 {
			diag.RootTasks = append(diag.RootTasks, g.nodes[i].step.ID)
		}
	}
	sort.Strings(diag.RootTasks)
	return g, diag, nil
}

// topoStages returns tasks grouped into dependency levels, erroring on
// cycles.
func (g *taskGraph) topoStages() ([][]string, error) {
	indegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].deps)
	}
	var stages [][]string
	remaining := len(g.nodes)
	frontier := make([]int, 0, len(g.nodes))
	for i, d := range indegree {
		if d == 0 {
			frontier = append(frontier, i)
		}
	}
	for len(frontier) > 0 {
		stage := make([]string, 0, len(frontier))
		next := make([]int, 0)
		for _, i := range frontier {
			stage = append(stage, g.nodes[i].step.ID)
			remaining--
			for _, dep := range g.nodes[i].dependents {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(stage)
		stages = append(stages, stage)
		frontier = next
	}
	if remaining > 0 {
		return nil, fmt.Errorf("task graph contains a cycle")
	}
	return stages, nil
}

// BuildPlan resolves the DAG without executing anything.
func BuildPlan(wf *resource.Workflow) (*Plan, error) {
	g, diag, err := BuildGraph(wf)
	if err != nil {
		return nil, err
	}
	stages, err := g.topoStages()
	if err != nil {
		return nil, err
	}
	return &Plan{WorkflowName: wf.Metadata.Name, Stages: stages, Diagnostics: diag}, nil
}

func (o *DAGOrchestrator) Execute(
	ctx context.Context,
	wf *resource.Workflow,
	tasks map[string]*resource.Task,
	input core.Input,
	sink EventSink,
) (*Result, error) {
	start := o.now()
	graph, diag, err := BuildGraph(wf)
	buildDuration := o.now().Sub(start)
	if err != nil {
		return &Result{
			Success:            false,
			Errors:             []string{fmt.Sprintf("workflow graph invalid: %v", err)},
			TaskResults:        map[string]*TaskResult{},
			GraphBuildDuration: buildDuration,
		}, nil
	}
	if sink == nil {
		sink = NopSink{}
	}
	run := &graphRun{
		orchestrator: o,
		graph:        graph,
		tasks:        tasks,
		input:        input,
		sink:         sink,
		done:         make([]chan struct{}, len(graph.nodes)),
		succeeded:    make([]bool, len(graph.nodes)),
		results:      make(map[string]*TaskResult, len(graph.nodes)),
		sem:          make(chan struct{}, o.maxConcurrency),
	}
	for i := range run.done {
		run.done[i] = make(chan struct{})
	}
	var wg sync.WaitGroup
	for i := range graph.nodes {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			run.runTask(ctx, idx)
		}(i)
	}
	wg.Wait()
	result := run.collect()
	result.GraphDiagnostics = diag
	result.GraphBuildDuration = buildDuration
	result.OrchestrationCost = o.overhead(start, buildDuration, result)
	return result, nil
}

// overhead approximates time spent orchestrating rather than executing
// tasks: graph build plus elapsed time outside the busy task span.
func (o *DAGOrchestrator) overhead(start time.Time, build time.Duration, result *Result) time.Duration {
	elapsed := o.now().Sub(start)
	var first, last time.Time
	for _, tr := range result.TaskResults {
		if first.IsZero() || tr.StartedAt.Before(first) {
			first = tr.StartedAt
		}
		if tr.CompletedAt.After(last) {
			last = tr.CompletedAt
		}
	}
	if first.IsZero() {
		return elapsed
	}
	cost := build + elapsed - last.Sub(first)
	if cost < 0 {
		cost = 0
	}
	return cost
}

type graphRun struct {
	orchestrator *DAGOrchestrator
	graph        *taskGraph
	tasks        map[string]*resource.Task
	input        core.Input
	sink         EventSink

	mu        sync.Mutex
	done      []chan struct{}
	succeeded []bool
	results   map[string]*TaskResult
	sem       chan struct{}
}

func (r *graphRun) runTask(ctx context.Context, idx int) {
	defer close(r.done[idx])
	node := &r.graph.nodes[idx]
	for _, dep := range node.deps {
		select {
		case <-r.done[dep]:
		case <-ctx.Done():
			return
		}
	}
	r.mu.Lock()
	depsOK := true
	outputs := make(map[string]core.Output, len(node.deps))
	for _, dep := range node.deps {
		if !r.succeeded[dep] {
			depsOK = false
			break
		}
		depID := r.graph.nodes[dep].step.ID
		if res := r.results[depID]; res != nil {
			outputs[depID] = res.Output
		}
	}
	r.mu.Unlock()
	if !depsOK || ctx.Err() != nil {
		return
	}
	for _, dep := range node.deps {
		r.sink.SignalFlow(ctx, r.graph.nodes[dep].step.ID, node.step.ID)
	}
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return
	}
	r.execute(ctx, idx, node, outputs)
}

func (r *graphRun) execute(ctx context.Context, idx int, node *graphNode, outputs map[string]core.Output) {
	step := node.step
	taskName := step.TaskRef
	r.sink.TaskStarted(ctx, step.ID, taskName)
	started := r.orchestrator.now()
	result := &TaskResult{TaskID: step.ID, TaskRef: step.TaskRef, StartedAt: started}
	task, found := r.tasks[resource.IndexKey(step.TaskRef)]
	var stepResult *StepResult
	var err error
	if !found {
		err = &StepError{
			Err:  fmt.Errorf("task resource %q not found", step.TaskRef),
			Type: ErrorTypeValidation,
		}
	} else {
		stepResult, err = r.orchestrator.executor.ExecuteStep(ctx, &StepRequest{
			Step:          step,
			Task:          task,
			WorkflowInput: r.input,
			Outputs:       outputs,
		})
	}
	completed := r.orchestrator.now()
	result.CompletedAt = completed
	if err != nil {
		result.Success = false
		result.ErrorInfo = stepErrorInfo(step, err, completed.Sub(started))
		var se *StepError
		if errors.As(err, &se) {
			result.ResolvedURL = se.ServiceURL
			result.HTTPMethod = se.HTTPMethod
			result.RetryCount = se.RetryAttempts
		}
	} else {
		result.Success = true
		if stepResult != nil {
			result.Output = stepResult.Output
			result.ResolvedURL = stepResult.ResolvedURL
			result.HTTPMethod = stepResult.HTTPMethod
			result.RetryCount = stepResult.RetryCount
		}
	}
	status := core.TaskStatusFailed
	if result.Success {
		status = core.TaskStatusSucceeded
	}
	r.sink.TaskCompleted(ctx, step.ID, taskName, status, result.Output, completed.Sub(started))
	r.mu.Lock()
	r.results[step.ID] = result
	r.succeeded[idx] = result.Success
	r.mu.Unlock()
}

func (r *graphRun) collect() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := &Result{
		Success:     true,
		TaskResults: r.results,
		Output:      core.Output{},
	}
	ids := make([]string, 0, len(r.results))
	for id := range r.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tr := r.results[id]
		if tr.Success {
			if tr.Output != nil {
				result.Output[id] = map[string]any(tr.Output)
			}
			continue
		}
		result.Success = false
		msg := fmt.Sprintf("task %s failed", id)
		if tr.ErrorInfo != nil {
			msg = fmt.Sprintf("task %s failed: %s", id, tr.ErrorInfo.ErrorMessage)
		}
		result.Errors = append(result.Errors, msg)
	}
	// Tasks skipped because a dependency failed or the context ended leave
	// no result; an incomplete graph is never a success.
	if len(r.results) < len(r.graph.nodes) {
		result.Success = false
	}
	return result
}

func stepErrorInfo(step resource.TaskStep, err error, elapsed time.Duration) *TaskErrorInfo {
	info := &TaskErrorInfo{
		TaskID:               step.ID,
		TaskName:             step.TaskRef,
		ErrorMessage:         err.Error(),
		ErrorType:            ClassifyError(err),
		DurationUntilErrorMS: elapsed.Milliseconds(),
	}
	var se *StepError
	if errors.As(err, &se) {
		if se.Type != "" {
			info.ErrorType = se.Type
		}
		info.ServiceURL = se.ServiceURL
		info.HTTPMethod = se.HTTPMethod
		info.HTTPStatusCode = se.HTTPStatusCode
		info.ResponseBodyPreview = se.ResponseBodyPreview
		info.RetryAttempts = se.RetryAttempts
	}
	info.IsRetryable = IsRetryableType(info.ErrorType)
	return info
}
