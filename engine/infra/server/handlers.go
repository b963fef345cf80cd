package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/discovery"
	"github.com/daz23456/workflow-sub005/engine/execution"
	"github.com/daz23456/workflow-sub005/engine/gateway"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/engine/streaming"
)

// DiscoveryService is the read surface of the discovery layer the handlers
// use.
type DiscoveryService interface {
	Workflows(ctx context.Context, namespace *string) ([]resource.Workflow, error)
	Tasks(ctx context.Context, namespace *string) ([]resource.Task, error)
	WorkflowByName(ctx context.Context, name string, namespace *string) (*resource.Workflow, error)
	Index() *discovery.BlastRadiusIndex
}

func namespaceParam(c *gin.Context) *string {
	if ns, ok := c.GetQuery("namespace"); ok {
		return &ns
	}
	return nil
}

func (s *Server) listWorkflows(c *gin.Context) {
	workflows, err := s.deps.Discovery.Workflows(c.Request.Context(), namespaceParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pagination := core.PaginationParams{
		Skip: intQuery(c, "skip", 0),
		Take: intQuery(c, "take", 0),
	}.Normalize()
	total := len(workflows)
	workflows = paginate(workflows, pagination)
	type workflowItem struct {
		resource.Workflow
		Endpoints []gateway.Endpoint `json:"endpoints,omitempty"`
	}
	items := make([]workflowItem, 0, len(workflows))
	for i := range workflows {
		item := workflowItem{Workflow: workflows[i]}
		if s.deps.Registry != nil {
			item.Endpoints = s.deps.Registry.Endpoints(workflows[i].Metadata.Name)
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"workflows": items, "count": len(items), "total": total})
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.deps.Discovery.Tasks(c.Request.Context(), namespaceParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) taskUsage(c *gin.Context) {
	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{
		"task":      name,
		"workflows": s.deps.Discovery.Index().UsedBy(name),
	})
}

func (s *Server) blastRadius(c *gin.Context) {
	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{
		"workflow": name,
		"tasks":    s.deps.Discovery.Index().Contains(name),
	})
}

func (s *Server) listExecutions(c *gin.Context) {
	if s.deps.Executions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution history is not enabled"})
		return
	}
	filter := execution.ListFilter{}
	if name, ok := c.GetQuery("workflow"); ok {
		filter.WorkflowName = &name
	}
	if raw, ok := c.GetQuery("status"); ok {
		status := core.ExecutionStatus(raw)
		filter.Status = &status
	}
	filter.Pagination.Skip = intQuery(c, "skip", 0)
	filter.Pagination.Take = intQuery(c, "take", 0)
	records, err := s.deps.Executions.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

func (s *Server) workflowExecutions(c *gin.Context) {
	if s.deps.Executions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution history is not enabled"})
		return
	}
	name := c.Param("name")
	filter := execution.ListFilter{WorkflowName: &name}
	filter.Pagination.Skip = intQuery(c, "skip", 0)
	filter.Pagination.Take = intQuery(c, "take", 0)
	records, err := s.deps.Executions.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

func (s *Server) getExecution(c *gin.Context) {
	record, ok := s.loadExecution(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) getTrace(c *gin.Context) {
	record, ok := s.loadExecution(c)
	if !ok {
		return
	}
	var steps []resource.TaskStep
	wf, err := s.deps.Discovery.WorkflowByName(c.Request.Context(), record.WorkflowName, nil)
	if err == nil && wf != nil {
		steps = wf.Spec.Tasks
	}
	c.JSON(http.StatusOK, execution.BuildTrace(record, steps))
}

func (s *Server) loadExecution(c *gin.Context) (*execution.Record, bool) {
	if s.deps.Executions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution history is not enabled"})
		return nil, false
	}
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return nil, false
	}
	record, err := s.deps.Executions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, execution.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution " + string(id) + " not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return record, true
}

func (s *Server) listVersions(c *gin.Context) {
	if s.deps.Versions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "version history is not enabled"})
		return
	}
	versions, err := s.deps.Versions.List(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions, "count": len(versions)})
}

func (s *Server) durationTrends(c *gin.Context) {
	if s.deps.Executions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution history is not enabled"})
		return
	}
	days := intQuery(c, "days", 30)
	if days <= 0 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return
	}
	points, err := s.deps.Executions.DurationTrends(c.Request.Context(), c.Param("name"), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": points, "count": len(points)})
}

func (s *Server) statistics(c *gin.Context) {
	if s.deps.Executions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution history is not enabled"})
		return
	}
	stats, err := s.deps.Executions.AllWorkflowStatistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func (s *Server) listLabels(c *gin.Context) {
	if s.deps.Labels == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "label aggregates are not enabled"})
		return
	}
	aggregates, err := s.deps.Labels.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": aggregates, "count": len(aggregates)})
}

// streamEvents serves a server-sent-events feed from the hub. The group
// defaults to the visualization group; per-execution feeds use
// group=execution-{id}.
func (s *Server) streamEvents(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event streaming is not enabled"})
		return
	}
	group := c.DefaultQuery("group", streaming.GroupVisualization)
	sub := s.deps.Hub.Subscribe(group)
	defer sub.Close()
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(io.Writer) bool {
		select {
		case event, open := <-sub.C:
			if !open {
				return false
			}
			c.SSEvent("message", event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// paginate slices one page out of an already-loaded list.
func paginate[T any](items []T, p core.PaginationParams) []T {
	if p.Skip >= len(items) {
		return []T{}
	}
	end := p.Skip + p.Take
	if end > len(items) {
		end = len(items)
	}
	return items[p.Skip:end]
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw, ok := c.GetQuery(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
