package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daz23456/workflow-sub005/engine/discovery"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

func namedWorkflow(name string) *resource.Workflow {
	return &resource.Workflow{Metadata: resource.Metadata{Name: name}}
}

type stubSource struct {
	workflows map[string]*resource.Workflow
	err       error
}

func (s *stubSource) WorkflowByName(_ context.Context, name string, _ *string) (*resource.Workflow, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.workflows[name], nil
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	t.Run("Should expose exactly three endpoints per workflow", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(namedWorkflow("order-flow")))
		endpoints := registry.Endpoints("order-flow")
		require.Len(t, endpoints, 3)
		byKind := map[EndpointKind]Endpoint{}
		for _, ep := range endpoints {
			byKind[ep.Kind] = ep
		}
		assert.Equal(t, http.MethodPost, byKind[EndpointExecute].Method)
		assert.Equal(t, "/api/v1/workflows/order-flow/execute", byKind[EndpointExecute].Path)
		assert.Equal(t, http.MethodPost, byKind[EndpointTest].Method)
		assert.Equal(t, "/api/v1/workflows/order-flow/test", byKind[EndpointTest].Path)
		assert.Equal(t, http.MethodGet, byKind[EndpointGet].Method)
		assert.Equal(t, "/api/v1/workflows/order-flow", byKind[EndpointGet].Path)
	})

	t.Run("Should reject a workflow without a name", func(t *testing.T) {
		registry := NewRegistry()
		require.Error(t, registry.Register(namedWorkflow("")))
		require.Error(t, registry.Register(nil))
		assert.Zero(t, registry.Count())
	})

	t.Run("Should replace the registration under the same folded name", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(namedWorkflow("Order-Flow")))
		require.NoError(t, registry.Register(namedWorkflow("order-flow")))
		assert.Equal(t, 1, registry.Count())
		assert.Equal(t, []string{"order-flow"}, registry.Names())
	})
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	require.NoError(t, registry.Register(namedWorkflow("order-flow")))

	t.Run("Should match the execute endpoint case-insensitively", func(t *testing.T) {
		ep, ok := registry.Lookup(http.MethodPost, "/api/v1/workflows/Order-Flow/execute")
		require.True(t, ok)
		assert.Equal(t, EndpointExecute, ep.Kind)
		assert.Equal(t, "order-flow", ep.WorkflowName)
	})

	t.Run("Should match the get endpoint without a suffix", func(t *testing.T) {
		ep, ok := registry.Lookup(http.MethodGet, "/api/v1/workflows/order-flow")
		require.True(t, ok)
		assert.Equal(t, EndpointGet, ep.Kind)
	})

	t.Run("Should reject mismatched methods and unknown suffixes", func(t *testing.T) {
		_, ok := registry.Lookup(http.MethodGet, "/api/v1/workflows/order-flow/execute")
		assert.False(t, ok)
		_, ok = registry.Lookup(http.MethodPost, "/api/v1/workflows/order-flow")
		assert.False(t, ok)
		_, ok = registry.Lookup(http.MethodPost, "/api/v1/workflows/order-flow/run")
		assert.False(t, ok)
	})

	t.Run("Should miss unregistered workflows and foreign paths", func(t *testing.T) {
		_, ok := registry.Lookup(http.MethodPost, "/api/v1/workflows/ghost/execute")
		assert.False(t, ok)
		_, ok = registry.Lookup(http.MethodGet, "/api/v1/tasks/order-flow")
		assert.False(t, ok)
	})
}

func TestRegistry_SyncAll(t *testing.T) {
	t.Parallel()

	t.Run("Should reconcile to exactly the given set", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(namedWorkflow("stale")))
		count := registry.SyncAll(context.Background(), []resource.Workflow{
			{Metadata: resource.Metadata{Name: "a"}},
			{Metadata: resource.Metadata{Name: "b"}},
			{Metadata: resource.Metadata{Name: ""}},
		})
		assert.Equal(t, 2, count)
		assert.Equal(t, []string{"a", "b"}, registry.Names())
		assert.Nil(t, registry.Endpoints("stale"))
	})
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	t.Run("Should remove endpoints and tolerate unknown names", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(namedWorkflow("order-flow")))
		registry.Unregister("ORDER-FLOW")
		assert.Zero(t, registry.Count())
		registry.Unregister("never-registered")
		assert.Zero(t, registry.Count())
	})
}

func TestRegistry_Listener(t *testing.T) {
	t.Parallel()

	t.Run("Should register added workflows and unregister removed ones", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(namedWorkflow("going-away")))
		source := &stubSource{workflows: map[string]*resource.Workflow{
			"fresh": namedWorkflow("fresh"),
		}}
		listener := registry.Listener(source)
		listener(context.Background(), discovery.ChangeEvent{
			Added:   []string{"fresh"},
			Removed: []string{"going-away"},
		})
		assert.Equal(t, []string{"fresh"}, registry.Names())
	})

	t.Run("Should skip names the source cannot resolve", func(t *testing.T) {
		registry := NewRegistry()
		listener := registry.Listener(&stubSource{workflows: map[string]*resource.Workflow{}})
		listener(context.Background(), discovery.ChangeEvent{Added: []string{"phantom"}})
		assert.Zero(t, registry.Count())
	})

	t.Run("Should skip names when the source fails", func(t *testing.T) {
		registry := NewRegistry()
		listener := registry.Listener(&stubSource{err: errors.New("registry down")})
		listener(context.Background(), discovery.ChangeEvent{Added: []string{"unlucky"}})
		assert.Zero(t, registry.Count())
	})
}
