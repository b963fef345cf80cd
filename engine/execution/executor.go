package execution

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

// StepRequest carries everything a step executor needs to run one task.
type StepRequest struct {
	Step          resource.TaskStep
	Task          *resource.Task
	WorkflowInput core.Input
	// Outputs holds the outputs of already-completed dependency tasks,
	// keyed by task step id.
	Outputs map[string]core.Output
}

// StepResult is the executor's report for one task invocation.
type StepResult struct {
	Output      core.Output
	ResolvedURL string
	HTTPMethod  string
	RetryCount  int
}

// StepError lets executors attach transport detail to a failure. The
// orchestrator folds it into the task's TaskErrorInfo.
type StepError struct {
	Err                 error
	Type                ErrorType
	ServiceURL          string
	HTTPMethod          string
	HTTPStatusCode      int
	ResponseBodyPreview string
	RetryAttempts       int
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// StepExecutor runs a single task step. Implementations must honor ctx
// cancellation; the orchestrator relies on it to propagate deadline and
// cancel to in-flight steps.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, req *StepRequest) (*StepResult, error)
}

const (
	httpTaskType       = "http"
	defaultHTTPTimeout = 20 * time.Second
	maxBodyPreview     = 500
)

// HTTPStepExecutor invokes http-typed tasks. The target URL and method come
// from the step's input map; the workflow input plus dependency outputs form
// the request body.
type HTTPStepExecutor struct {
	client  *resty.Client
	retries int
}

// NewHTTPStepExecutor builds an executor with sane timeouts and bounded
// retries on transport failures.
func NewHTTPStepExecutor(retries int) *HTTPStepExecutor {
	if retries < 0 {
		retries = 0
	}
	client := resty.New().
		SetTimeout(defaultHTTPTimeout).
		SetRetryCount(retries)
	return &HTTPStepExecutor{client: client, retries: retries}
}

func (e *HTTPStepExecutor) ExecuteStep(ctx context.Context, req *StepRequest) (*StepResult, error) {
	if req.Task != nil && req.Task.Spec.Type != "" && !strings.EqualFold(req.Task.Spec.Type, httpTaskType) {
		return nil, &StepError{
			Err:  fmt.Errorf("unsupported task type %q for task %q", req.Task.Spec.Type, req.Step.TaskRef),
			Type: ErrorTypeValidation,
		}
	}
	url := req.Step.Input["url"]
	if url == "" {
		return nil, &StepError{
			Err:  fmt.Errorf("task %q has no url input", req.Step.ID),
			Type: ErrorTypeValidation,
		}
	}
	method := strings.ToUpper(req.Step.Input["method"])
	if method == "" {
		method = http.MethodPost
	}
	body := map[string]any{
		"input":   map[string]any(req.WorkflowInput),
		"outputs": req.Outputs,
	}
	var payload map[string]any
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&payload).
		Execute(method, url)
	if err != nil {
		return nil, &StepError{
			Err:           fmt.Errorf("call %s %s: %w", method, url, err),
			Type:          ClassifyError(err),
			ServiceURL:    url,
			HTTPMethod:    method,
			RetryAttempts: e.retries,
		}
	}
	if resp.IsError() {
		preview := string(resp.Body())
		if len(preview) > maxBodyPreview {
			preview = preview[:maxBodyPreview]
		}
		return nil, &StepError{
			Err:                 fmt.Errorf("call %s %s: status %d", method, url, resp.StatusCode()),
			Type:                ErrorTypeHTTP,
			ServiceURL:          url,
			HTTPMethod:          method,
			HTTPStatusCode:      resp.StatusCode(),
			ResponseBodyPreview: preview,
			RetryAttempts:       e.retries,
		}
	}
	return &StepResult{
		Output:      core.Output(payload),
		ResolvedURL: url,
		HTTPMethod:  method,
	}, nil
}
