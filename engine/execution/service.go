package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// ErrWorkflowNotFound is returned by StartExecution for unknown names.
var ErrWorkflowNotFound = errors.New("workflow not found")

const (
	// DefaultTimeout bounds a workflow execution unless configured
	// otherwise.
	DefaultTimeout = 30 * time.Second

	unknownWorkflowName = "unknown"
	defaultNamespace    = "default"

	canceledMessage     = "Workflow execution was canceled"
	unexpectedPrefix    = "Unexpected error during workflow execution: "
	timedOutMessageFmt  = "Workflow execution timed out after %s"
	errorJoinSeparator  = "; "
)

// ValidationError carries a failed input validation out of Execute. No
// record is persisted and no events are emitted for it.
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return "workflow input validation failed"
	}
	parts := make([]string, 0, len(e.Result.Errors))
	for _, fe := range e.Result.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "workflow input validation failed: " + strings.Join(parts, errorJoinSeparator)
}

// Notifier pushes execution progress to the event hub. Implementations
// swallow their own failures; emission must never fail an execution.
type Notifier interface {
	WorkflowStarted(ctx context.Context, execID core.ID, workflowName string)
	TaskStarted(ctx context.Context, execID core.ID, taskID, taskName string)
	TaskCompleted(
		ctx context.Context,
		execID core.ID,
		taskID, taskName string,
		status core.TaskStatus,
		output core.Output,
		duration time.Duration,
	)
	WorkflowCompleted(
		ctx context.Context,
		execID core.ID,
		workflowName string,
		status core.ExecutionStatus,
		output core.Output,
		duration time.Duration,
	)
	SignalFlow(ctx context.Context, execID core.ID, fromTaskID, toTaskID string)
}

// Observer consumes completed executions for rolling statistics and anomaly
// scoring. Failures are logged and swallowed.
type Observer interface {
	ObserveExecution(ctx context.Context, record *Record) error
}

// ResourceSource is the slice of the discovery service the executor needs.
type ResourceSource interface {
	WorkflowByName(ctx context.Context, name string, namespace *string) (*resource.Workflow, error)
	Tasks(ctx context.Context, namespace *string) ([]resource.Task, error)
}

// Options tunes the execution service.
type Options struct {
	Timeout            time.Duration
	OutputPreviewLimit int
	Metrics            *Metrics
}

// Service owns the execute pipeline: validation, the Running record, the
// bounded orchestrator run, result mapping, the terminal record, and event
// emission.
type Service struct {
	source       ResourceSource
	orchestrator Orchestrator
	repo         Repository
	notifier     Notifier
	observer     Observer
	timeout      time.Duration
	previewLimit int
	metrics      *Metrics
	now          func() time.Time
}

// NewService wires the execution pipeline. repo, notifier, and observer may
// each be nil: persistence, events, and statistics are then skipped while
// responses are still produced.
func NewService(
	source ResourceSource,
	orchestrator Orchestrator,
	repo Repository,
	notifier Notifier,
	observer Observer,
	opts *Options,
) *Service {
	s := &Service{
		source:       source,
		orchestrator: orchestrator,
		repo:         repo,
		notifier:     notifier,
		observer:     observer,
		timeout:      DefaultTimeout,
		previewLimit: defaultOutputPreviewLimit,
		now:          time.Now,
	}
	if opts != nil {
		if opts.Timeout > 0 {
			s.timeout = opts.Timeout
		}
		if opts.OutputPreviewLimit > 0 {
			s.previewLimit = opts.OutputPreviewLimit
		}
		s.metrics = opts.Metrics
	}
	return s
}

type runState struct {
	execID    core.ID
	workflow  *resource.Workflow
	name      string
	namespace string
	input     core.Input
	taskMap   map[string]*resource.Task
	startedAt time.Time
}

// Execute runs the workflow synchronously and returns the mapped response.
// Input validation failures return a *ValidationError and leave no trace in
// the store or on the event stream.
func (s *Service) Execute(ctx context.Context, wf *resource.Workflow, input core.Input) (*Response, error) {
	state, err := s.begin(ctx, wf, input)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, state), nil
}

// StartExecution resolves the workflow by name, writes the Running record,
// and returns the execution id immediately; the run completes on a detached
// context and is persisted asynchronously.
func (s *Service) StartExecution(ctx context.Context, name string, input core.Input) (core.ID, error) {
	wf, err := s.source.WorkflowByName(ctx, name, nil)
	if err != nil {
		return "", fmt.Errorf("execution: resolve workflow %q: %w", name, err)
	}
	if wf == nil {
		return "", fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	state, err := s.begin(ctx, wf, input)
	if err != nil {
		return "", err
	}
	go s.run(context.WithoutCancel(ctx), state)
	return state.execID, nil
}

// TestRun resolves the execution plan without side effects: nothing is
// persisted and nothing reaches the event hub.
func (s *Service) TestRun(_ context.Context, wf *resource.Workflow, input core.Input) (*Plan, error) {
	validation, err := ValidateInput(wf.Spec.Input, input)
	if err != nil {
		return nil, err
	}
	plan, err := BuildPlan(wf)
	if err != nil {
		return nil, fmt.Errorf("execution: resolve plan: %w", err)
	}
	plan.Validation = validation
	return plan, nil
}

func (s *Service) begin(ctx context.Context, wf *resource.Workflow, input core.Input) (*runState, error) {
	if wf == nil {
		return nil, fmt.Errorf("execution: workflow is required")
	}
	state := &runState{
		execID:    core.NewID(),
		workflow:  wf,
		name:      wf.Metadata.Name,
		namespace: wf.Metadata.Namespace,
		input:     input,
	}
	if state.name == "" {
		state.name = unknownWorkflowName
	}
	if state.namespace == "" {
		state.namespace = defaultNamespace
	}
	validation, err := ValidateInput(wf.Spec.Input, input)
	if err != nil {
		return nil, fmt.Errorf("execution: validate input: %w", err)
	}
	if !validation.IsValid {
		return nil, &ValidationError{Result: validation}
	}
	taskMap, err := s.loadTaskMap(ctx, state.namespace)
	if err != nil {
		return nil, err
	}
	state.taskMap = taskMap
	state.startedAt = s.now().UTC()
	s.saveRecord(ctx, &Record{
		ID:            state.execID,
		WorkflowName:  state.name,
		Namespace:     state.namespace,
		Status:        core.StatusRunning,
		StartedAt:     state.startedAt,
		InputSnapshot: core.CanonicalJSON(input),
	})
	if s.notifier != nil {
		s.notifier.WorkflowStarted(ctx, state.execID, state.name)
	}
	return state, nil
}

// loadTaskMap indexes the discovered task resources by folded name. A task
// without a name keys under the empty string, which keeps empty taskRef
// steps resolvable; the registry's lenient naming is preserved on purpose.
func (s *Service) loadTaskMap(ctx context.Context, namespace string) (map[string]*resource.Task, error) {
	tasks, err := s.source.Tasks(ctx, &namespace)
	if err != nil {
		return nil, fmt.Errorf("execution: load tasks: %w", err)
	}
	taskMap := make(map[string]*resource.Task, len(tasks))
	for i := range tasks {
		taskMap[resource.IndexKey(tasks[i].Metadata.Name)] = &tasks[i]
	}
	return taskMap, nil
}

func (s *Service) run(ctx context.Context, state *runState) *Response {
	log := logger.FromContext(ctx)
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, orchestratorErr := s.invokeOrchestrator(execCtx, state)

	completedAt := s.now().UTC()
	duration := completedAt.Sub(state.startedAt)

	status, errMsg := s.classify(ctx, execCtx, result, orchestratorErr)
	if result == nil {
		result = &Result{TaskResults: map[string]*TaskResult{}}
	}

	record := &Record{
		ID:            state.execID,
		WorkflowName:  state.name,
		Namespace:     state.namespace,
		Status:        status,
		StartedAt:     state.startedAt,
		CompletedAt:   &completedAt,
		InputSnapshot: core.CanonicalJSON(state.input),
		Error:         errMsg,
		Tasks:         taskRecordsFromResults(state.workflow, result.TaskResults, s.previewLimit),
	}
	durationMS := duration.Milliseconds()
	record.DurationMS = &durationMS
	s.saveRecord(ctx, record)
	s.metrics.observeExecution(state.name, status, duration)

	if s.notifier != nil {
		s.notifier.WorkflowCompleted(ctx, state.execID, state.name, status, result.Output, duration)
	}
	if s.observer != nil {
		if err := s.observer.ObserveExecution(ctx, record); err != nil {
			log.Warn("execution statistics update failed", "execution_id", state.execID, "error", err)
		}
	}

	response := &Response{
		ExecutionID:             state.execID,
		WorkflowName:            state.name,
		Namespace:               state.namespace,
		Success:                 status == core.StatusSucceeded,
		Status:                  status,
		Error:                   errMsg,
		Output:                  result.Output,
		StartedAt:               state.startedAt,
		CompletedAt:             completedAt,
		ExecutionTimeMS:         durationMS,
		ExecutedTasks:           executedTaskIDs(result.TaskResults),
		Tasks:                   record.Tasks,
		OrchestrationCostMicros: result.OrchestrationCost.Microseconds(),
		GraphDiagnostics:        result.GraphDiagnostics,
	}
	return response
}

// invokeOrchestrator shields the pipeline from orchestrator panics so a
// misbehaving implementation still yields a persisted Failed record.
func (s *Service) invokeOrchestrator(ctx context.Context, state *runState) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("orchestrator panic: %v", r)
		}
	}()
	return s.orchestrator.Execute(ctx, state.workflow, state.taskMap, state.input, &boundSink{
		notifier: s.notifier,
		execID:   state.execID,
	})
}

// classify turns the orchestrator outcome and the two contexts into the
// final status and error string. The caller context is inspected first so a
// client cancel is never misreported as a timeout.
func (s *Service) classify(
	callerCtx, execCtx context.Context,
	result *Result,
	orchestratorErr error,
) (core.ExecutionStatus, *string) {
	if orchestratorErr != nil {
		msg := unexpectedPrefix + orchestratorErr.Error()
		return core.StatusFailed, &msg
	}
	if callerCtx.Err() != nil {
		msg := canceledMessage
		return core.StatusCanceled, &msg
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf(timedOutMessageFmt, s.timeout)
		return core.StatusFailed, &msg
	}
	if result == nil {
		msg := unexpectedPrefix + "orchestrator returned no result"
		return core.StatusFailed, &msg
	}
	if result.Success {
		return core.StatusSucceeded, nil
	}
	msg := strings.Join(result.Errors, errorJoinSeparator)
	if msg == "" {
		msg = "workflow execution failed"
	}
	return core.StatusFailed, &msg
}

// saveRecord upserts through the repository when one is configured. Store
// failures are logged and swallowed so the response is still produced.
func (s *Service) saveRecord(ctx context.Context, record *Record) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, record); err != nil {
		logger.FromContext(ctx).Error(
			"failed to persist execution record",
			"execution_id", record.ID,
			"status", record.Status,
			"error", err,
		)
	}
}

func executedTaskIDs(results map[string]*TaskResult) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// boundSink forwards orchestrator events to the notifier under a fixed
// execution id.
type boundSink struct {
	notifier Notifier
	execID   core.ID
}

func (b *boundSink) TaskStarted(ctx context.Context, taskID, taskName string) {
	if b.notifier == nil {
		return
	}
	b.notifier.TaskStarted(ctx, b.execID, taskID, taskName)
}

func (b *boundSink) TaskCompleted(
	ctx context.Context,
	taskID, taskName string,
	status core.TaskStatus,
	output core.Output,
	duration time.Duration,
) {
	if b.notifier == nil {
		return
	}
	b.notifier.TaskCompleted(ctx, b.execID, taskID, taskName, status, output, duration)
}

func (b *boundSink) SignalFlow(ctx context.Context, fromTaskID, toTaskID string) {
	if b.notifier == nil {
		return
	}
	b.notifier.SignalFlow(ctx, b.execID, fromTaskID, toTaskID)
}
