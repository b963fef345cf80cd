package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/discovery"
	"github.com/daz23456/workflow-sub005/engine/execution"
	"github.com/daz23456/workflow-sub005/engine/gateway"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

type fakeDiscovery struct {
	workflows []resource.Workflow
	tasks     []resource.Task
	index     *discovery.BlastRadiusIndex
}

func (f *fakeDiscovery) Workflows(context.Context, *string) ([]resource.Workflow, error) {
	return f.workflows, nil
}

func (f *fakeDiscovery) Tasks(context.Context, *string) ([]resource.Task, error) {
	return f.tasks, nil
}

func (f *fakeDiscovery) WorkflowByName(_ context.Context, name string, _ *string) (*resource.Workflow, error) {
	for i := range f.workflows {
		if f.workflows[i].Metadata.Name == name {
			return &f.workflows[i], nil
		}
	}
	return nil, nil
}

func (f *fakeDiscovery) Index() *discovery.BlastRadiusIndex {
	if f.index == nil {
		f.index = discovery.NewBlastRadiusIndex()
		f.index.Rebuild(f.workflows)
	}
	return f.index
}

type fakeExecRepo struct {
	records map[core.ID]*execution.Record
}

func (f *fakeExecRepo) Save(context.Context, *execution.Record) error { return nil }

func (f *fakeExecRepo) Get(_ context.Context, id core.ID) (*execution.Record, error) {
	if rec, ok := f.records[id]; ok {
		return rec, nil
	}
	return nil, execution.ErrNotFound
}

func (f *fakeExecRepo) List(context.Context, execution.ListFilter) ([]execution.Record, error) {
	out := make([]execution.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeExecRepo) AllWorkflowStatistics(context.Context) (map[string]execution.WorkflowStatistics, error) {
	return map[string]execution.WorkflowStatistics{}, nil
}

func (f *fakeExecRepo) DurationTrends(context.Context, string, int) ([]execution.DurationDataPoint, error) {
	return nil, nil
}

func (f *fakeExecRepo) DurationSamples(context.Context, int) ([]execution.DurationSample, error) {
	return nil, nil
}

func testServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	if deps.Discovery == nil {
		deps.Discovery = &fakeDiscovery{}
	}
	return New(Config{}, deps, nil)
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	t.Run("Should answer ok", func(t *testing.T) {
		s := testServer(t, Dependencies{})
		rec := get(s, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ok")
	})
}

func TestServer_Workflows(t *testing.T) {
	t.Parallel()

	t.Run("Should list workflows with their registered endpoints", func(t *testing.T) {
		registry := gateway.NewRegistry()
		wf := resource.Workflow{Metadata: resource.Metadata{Name: "order-flow"}}
		require.NoError(t, registry.Register(&wf))
		s := testServer(t, Dependencies{
			Discovery: &fakeDiscovery{workflows: []resource.Workflow{wf}},
			Registry:  registry,
		})
		rec := get(s, "/api/v1/workflows")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "/api/v1/workflows/order-flow/execute")
		assert.Contains(t, rec.Body.String(), `"count":1`)
	})

	t.Run("Should page the workflow list with skip and take", func(t *testing.T) {
		workflows := []resource.Workflow{
			{Metadata: resource.Metadata{Name: "alpha"}},
			{Metadata: resource.Metadata{Name: "beta"}},
			{Metadata: resource.Metadata{Name: "gamma"}},
		}
		s := testServer(t, Dependencies{Discovery: &fakeDiscovery{workflows: workflows}})

		rec := get(s, "/api/v1/workflows?skip=1&take=1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "beta")
		assert.NotContains(t, rec.Body.String(), "alpha")
		assert.NotContains(t, rec.Body.String(), "gamma")
		assert.Contains(t, rec.Body.String(), `"count":1`)
		assert.Contains(t, rec.Body.String(), `"total":3`)

		rec = get(s, "/api/v1/workflows?skip=10")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":0`)
	})

	t.Run("Should expose the blast radius of a workflow", func(t *testing.T) {
		wf := resource.Workflow{
			Metadata: resource.Metadata{Name: "order-flow"},
			Spec: resource.WorkflowSpec{Tasks: []resource.TaskStep{
				{ID: "t1", TaskRef: "fetch"},
			}},
		}
		s := testServer(t, Dependencies{Discovery: &fakeDiscovery{workflows: []resource.Workflow{wf}}})
		rec := get(s, "/api/v1/workflows/order-flow/blast-radius")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "fetch")

		rec = get(s, "/api/v1/tasks/fetch/usage")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "order-flow")
	})
}

func TestServer_Executions(t *testing.T) {
	t.Parallel()
	id := core.NewID()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeExecRepo{records: map[core.ID]*execution.Record{
		id: {
			ID:           id,
			WorkflowName: "order-flow",
			Status:       core.StatusSucceeded,
			StartedAt:    started,
			Tasks: []execution.TaskRecord{
				{TaskID: "t1", StartedAt: started, CompletedAt: started.Add(time.Second)},
			},
		},
	}}

	t.Run("Should return a persisted execution", func(t *testing.T) {
		s := testServer(t, Dependencies{Executions: repo})
		rec := get(s, "/api/v1/executions/"+string(id))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "order-flow")
	})

	t.Run("Should list executions scoped to a workflow", func(t *testing.T) {
		s := testServer(t, Dependencies{Executions: repo})
		rec := get(s, "/api/v1/workflows/order-flow/executions")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":1`)
	})

	t.Run("Should 404 on unknown executions", func(t *testing.T) {
		s := testServer(t, Dependencies{Executions: repo})
		rec := get(s, "/api/v1/executions/"+string(core.NewID()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should 400 on a malformed execution id", func(t *testing.T) {
		s := testServer(t, Dependencies{Executions: repo})
		rec := get(s, "/api/v1/executions/not-a-uuid")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should build a trace for a persisted execution", func(t *testing.T) {
		s := testServer(t, Dependencies{Executions: repo})
		rec := get(s, "/api/v1/executions/"+string(id)+"/trace")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"tasks"`)
	})

	t.Run("Should 404 when execution history is disabled", func(t *testing.T) {
		s := testServer(t, Dependencies{})
		rec := get(s, "/api/v1/executions")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should reject an out-of-range trend window", func(t *testing.T) {
		s := testServer(t, Dependencies{Executions: repo})
		rec := get(s, "/api/v1/workflows/order-flow/trends?days=5000")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	t.Run("Should serve the prometheus registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_test_total", Help: "test"})
		registry.MustRegister(counter)
		counter.Inc()
		s := testServer(t, Dependencies{Metrics: registry})
		rec := get(s, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "gateway_test_total 1")
	})
}

func TestServer_Recovery(t *testing.T) {
	t.Parallel()

	t.Run("Should turn handler panics into 500", func(t *testing.T) {
		s := testServer(t, Dependencies{})
		s.Router().GET("/boom", func(*gin.Context) { panic("kaput") })
		rec := get(s, "/boom")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
