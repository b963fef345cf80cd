package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/execution"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// StatusClientClosedRequest mirrors nginx's non-standard code for a request
// the caller abandoned.
const StatusClientClosedRequest = 499

// Executor is the slice of the execution service dispatch needs.
type Executor interface {
	Execute(ctx context.Context, wf *resource.Workflow, input core.Input) (*execution.Response, error)
	TestRun(ctx context.Context, wf *resource.Workflow, input core.Input) (*execution.Plan, error)
}

// Dispatcher routes requests under the workflow base path to the endpoint
// registry and invokes the matching operation.
type Dispatcher struct {
	registry *Registry
	source   WorkflowSource
	executor Executor
}

func NewDispatcher(registry *Registry, source WorkflowSource, executor Executor) *Dispatcher {
	return &Dispatcher{registry: registry, source: source, executor: executor}
}

// Mount attaches the wildcard dispatch route to the router group.
func (d *Dispatcher) Mount(router gin.IRouter) {
	handler := d.Handle
	router.POST(BasePath+"/:name/execute", handler)
	router.POST(BasePath+"/:name/test", handler)
	router.GET(BasePath+"/:name", handler)
}

// Handle resolves the request against the registry and runs the matched
// endpoint. Requests for unregistered workflows get a 404 regardless of
// what the registry used to contain.
func (d *Dispatcher) Handle(c *gin.Context) {
	endpoint, ok := d.registry.Lookup(c.Request.Method, c.Request.URL.Path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no workflow endpoint matches " + c.Request.Method + " " + c.Request.URL.Path,
		})
		return
	}
	wf, err := d.source.WorkflowByName(c.Request.Context(), endpoint.WorkflowName, nil)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error(
			"failed to resolve workflow for dispatch",
			"workflow", endpoint.WorkflowName,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "workflow registry unavailable"})
		return
	}
	if wf == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow " + endpoint.WorkflowName + " not found"})
		return
	}
	switch endpoint.Kind {
	case EndpointExecute:
		d.execute(c, wf)
	case EndpointTest:
		d.test(c, wf)
	case EndpointGet:
		c.JSON(http.StatusOK, wf)
	}
}

func (d *Dispatcher) execute(c *gin.Context, wf *resource.Workflow) {
	input, ok := bindInput(c)
	if !ok {
		return
	}
	resp, err := d.executor.Execute(c.Request.Context(), wf, input)
	if err != nil {
		var vErr *execution.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "workflow input validation failed",
				"validation": vErr.Result,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(executionStatusCode(resp), resp)
}

func (d *Dispatcher) test(c *gin.Context, wf *resource.Workflow) {
	input, ok := bindInput(c)
	if !ok {
		return
	}
	plan, err := d.executor.TestRun(c.Request.Context(), wf, input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

// bindInput decodes the request body as the workflow input map. A missing
// body means an empty input.
func bindInput(c *gin.Context) (core.Input, bool) {
	var input core.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Input{}, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	return input, true
}

// executionStatusCode maps a terminal execution to its HTTP status.
func executionStatusCode(resp *execution.Response) int {
	switch {
	case resp.Status == core.StatusSucceeded:
		return http.StatusOK
	case resp.Status == core.StatusCanceled:
		return StatusClientClosedRequest
	case resp.Error != nil && strings.Contains(*resp.Error, "timed out"):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
