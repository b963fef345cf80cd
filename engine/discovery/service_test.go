package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daz23456/workflow-sub005/engine/resource"
)

func workflowNamed(name string, taskRefs ...string) resource.Workflow {
	steps := make([]resource.TaskStep, 0, len(taskRefs))
	for _, ref := range taskRefs {
		steps = append(steps, resource.TaskStep{ID: ref + "-step", TaskRef: ref})
	}
	return resource.Workflow{
		Metadata: resource.Metadata{Name: name, Namespace: "default"},
		Spec:     resource.WorkflowSpec{Tasks: steps},
	}
}

func newTestService(client resource.Client, ttl time.Duration) (*Service, *time.Time) {
	svc := NewService(client, &Options{TTL: ttl, RetryAttempts: 1})
	current := time.Now()
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestDiscovery_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("Should serve cached data within the TTL", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1")})
		svc, now := newTestService(client, 30*time.Second)

		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		*now = now.Add(30*time.Second - time.Millisecond)
		_, err = svc.Workflows(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, client.WorkflowCalls())
	})

	t.Run("Should refetch after the TTL lapses", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1")})
		svc, now := newTestService(client, 30*time.Second)

		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		*now = now.Add(30*time.Second + time.Millisecond)
		_, err = svc.Workflows(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, client.WorkflowCalls())
	})

	t.Run("Should keep the all-namespaces scope distinct from default", func(t *testing.T) {
		client := resource.NewStaticClient()
		svc, _ := newTestService(client, time.Minute)
		ns := "default"
		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		_, err = svc.Workflows(ctx, &ns)
		require.NoError(t, err)
		assert.Equal(t, 2, client.WorkflowCalls())
	})

	t.Run("Should return the same slice instance within a refresh window", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1")})
		svc, _ := newTestService(client, time.Minute)
		a, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		b, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		require.Len(t, a, 1)
		assert.Equal(t, &a[0], &b[0])
	})

	t.Run("Should preserve stale data when the registry fails", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1")})
		svc, now := newTestService(client, 10*time.Second)

		first, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		require.Len(t, first, 1)

		registryErr := errors.New("registry unavailable")
		client.SetError(registryErr)
		*now = now.Add(time.Minute)
		_, err = svc.Workflows(ctx, nil)
		require.ErrorIs(t, err, registryErr)

		// A later successful refresh recovers.
		client.SetError(nil)
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1"), workflowNamed("w2")})
		recovered, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, recovered, 2)
	})

	t.Run("Should single-flight concurrent refreshes", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1")})
		svc, _ := newTestService(client, time.Minute)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Workflows(ctx, nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, client.WorkflowCalls(), 2)
	})
}

func TestDiscovery_ChangeEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fire one change event when a workflow is added", func(t *testing.T) {
		client := resource.NewStaticClient()
		svc, now := newTestService(client, time.Second)
		var events []ChangeEvent
		svc.Subscribe(func(_ context.Context, e ChangeEvent) {
			events = append(events, e)
		})

		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		require.Empty(t, events)

		client.SetWorkflows([]resource.Workflow{workflowNamed("W1")})
		*now = now.Add(2 * time.Second)
		_, err = svc.Workflows(ctx, nil)
		require.NoError(t, err)

		require.Len(t, events, 1)
		assert.Equal(t, []string{"W1"}, events[0].Added)
		assert.Empty(t, events[0].Removed)
	})

	t.Run("Should suppress events on unchanged refreshes", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1")})
		svc, now := newTestService(client, time.Second)
		var count int
		svc.Subscribe(func(context.Context, ChangeEvent) { count++ })

		for i := 0; i < 3; i++ {
			_, err := svc.Workflows(ctx, nil)
			require.NoError(t, err)
			*now = now.Add(2 * time.Second)
		}
		// The first sync counts as a change; later identical refreshes do not.
		assert.Equal(t, 1, count)
	})

	t.Run("Should report removals", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("w1"), workflowNamed("w2")})
		svc, now := newTestService(client, time.Second)
		var last ChangeEvent
		svc.Subscribe(func(_ context.Context, e ChangeEvent) { last = e })

		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)

		client.SetWorkflows([]resource.Workflow{workflowNamed("w2")})
		*now = now.Add(2 * time.Second)
		_, err = svc.Workflows(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"w1"}, last.Removed)
		assert.Empty(t, last.Added)
	})

	t.Run("Should filter resources without names from diffing", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{{}, workflowNamed("w1")})
		svc, _ := newTestService(client, time.Second)
		var last ChangeEvent
		svc.Subscribe(func(_ context.Context, e ChangeEvent) { last = e })
		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"w1"}, last.Added)
	})
}

func TestDiscovery_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("Should find workflows by case-insensitive name", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{workflowNamed("Order-Sync")})
		svc, _ := newTestService(client, time.Minute)
		wf, err := svc.WorkflowByName(ctx, "order-sync", nil)
		require.NoError(t, err)
		require.NotNil(t, wf)
		assert.Equal(t, "Order-Sync", wf.Metadata.Name)
	})

	t.Run("Should return nil for unknown workflows", func(t *testing.T) {
		client := resource.NewStaticClient()
		svc, _ := newTestService(client, time.Minute)
		wf, err := svc.WorkflowByName(ctx, "missing", nil)
		require.NoError(t, err)
		assert.Nil(t, wf)
	})
}

func TestDiscovery_BlastRadius(t *testing.T) {
	ctx := context.Background()

	t.Run("Should rebuild the index on refresh", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{
			workflowNamed("w1", "HTTP-Fetch"),
			workflowNamed("w2", "http-fetch", "transform"),
		})
		svc, _ := newTestService(client, time.Minute)
		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"w1", "w2"}, svc.Index().UsedBy("http-fetch"))
		assert.Equal(t, []string{"http-fetch", "transform"}, svc.Index().Contains("W2"))
	})

	t.Run("Should keep the index intact across namespace-scoped refreshes", func(t *testing.T) {
		client := resource.NewStaticClient()
		client.SetWorkflows([]resource.Workflow{
			workflowNamed("w1", "http-fetch"),
			workflowNamed("w2", "transform"),
		})
		svc, _ := newTestService(client, time.Minute)
		_, err := svc.Workflows(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"w1"}, svc.Index().UsedBy("http-fetch"))

		// A scoped listing returns a subset and must not shrink the index.
		ns := "payments"
		client.SetWorkflows([]resource.Workflow{workflowNamed("w2", "transform")})
		_, err = svc.Workflows(ctx, &ns)
		require.NoError(t, err)

		assert.Equal(t, []string{"w1"}, svc.Index().UsedBy("http-fetch"))
		assert.Equal(t, []string{"w2"}, svc.Index().UsedBy("transform"))
	})

	t.Run("Should drop stale entries on rebuild", func(t *testing.T) {
		index := NewBlastRadiusIndex()
		index.Rebuild([]resource.Workflow{workflowNamed("w1", "a")})
		index.Rebuild([]resource.Workflow{workflowNamed("w1", "b")})
		assert.Empty(t, index.UsedBy("a"))
		assert.Equal(t, []string{"w1"}, index.UsedBy("b"))
	})
}
