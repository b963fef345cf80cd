package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// DefaultCacheTTL bounds how long a fetched resource list is served without
// hitting the registry again.
const DefaultCacheTTL = 30 * time.Second

const defaultRetryAttempts = 3

// ChangeEvent describes the workflow-set difference observed by a refresh
// that hit the registry.
type ChangeEvent struct {
	Added     []string
	Removed   []string
	Namespace *string
}

// Listener receives workflow change events. Listeners run synchronously on
// the goroutine that triggered the refresh, after the cache is updated, so
// reconciliation observes the new state before any later call does.
type Listener func(ctx context.Context, event ChangeEvent)

// Options configures a discovery Service.
type Options struct {
	TTL           time.Duration
	RetryAttempts int
	Metrics       *Metrics
}

// Service is the lazily-refreshed view of the registry's workflow and task
// resources. It owns the process-wide blast-radius index.
type Service struct {
	client        resource.Client
	ttl           time.Duration
	retryAttempts int
	metrics       *Metrics

	mu        sync.RWMutex
	workflows map[string]*cacheEntry[resource.Workflow]
	tasks     map[string]*cacheEntry[resource.Task]

	flight singleflight.Group

	listenerMu sync.RWMutex
	listeners  []Listener

	index *BlastRadiusIndex

	// now is swapped in tests to cross TTL boundaries deterministically.
	now func() time.Time
}

// NewService builds a discovery service over the given registry client.
func NewService(client resource.Client, opts *Options) *Service {
	s := &Service{
		client:        client,
		ttl:           DefaultCacheTTL,
		retryAttempts: defaultRetryAttempts,
		workflows:     make(map[string]*cacheEntry[resource.Workflow]),
		tasks:         make(map[string]*cacheEntry[resource.Task]),
		index:         NewBlastRadiusIndex(),
		now:           time.Now,
	}
	if opts != nil {
		if opts.TTL > 0 {
			s.ttl = opts.TTL
		}
		if opts.RetryAttempts > 0 {
			s.retryAttempts = opts.RetryAttempts
		}
		s.metrics = opts.Metrics
	}
	return s
}

// Subscribe registers a listener for workflow change events.
func (s *Service) Subscribe(listener Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenerMu.Unlock()
}

// Index exposes the blast-radius index.
func (s *Service) Index() *BlastRadiusIndex {
	return s.index
}

// Workflows returns the workflow resources for the namespace scope,
// refreshing the cache when the TTL has lapsed. Concurrent callers within a
// refresh window receive the same slice instance.
func (s *Service) Workflows(ctx context.Context, namespace *string) ([]resource.Workflow, error) {
	key := namespaceKey(namespace)
	s.mu.RLock()
	entry := s.workflows[key]
	s.mu.RUnlock()
	if entry.fresh(s.now(), s.ttl) {
		s.metrics.cacheHit("workflows")
		return entry.data, nil
	}
	data, err, _ := s.flight.Do("workflows:"+key, func() (any, error) {
		return s.refreshWorkflows(ctx, namespace, key)
	})
	if err != nil {
		return nil, err
	}
	return data.([]resource.Workflow), nil
}

// Tasks returns the task resources for the namespace scope with the same
// cache contract as Workflows.
func (s *Service) Tasks(ctx context.Context, namespace *string) ([]resource.Task, error) {
	key := namespaceKey(namespace)
	s.mu.RLock()
	entry := s.tasks[key]
	s.mu.RUnlock()
	if entry.fresh(s.now(), s.ttl) {
		s.metrics.cacheHit("tasks")
		return entry.data, nil
	}
	data, err, _ := s.flight.Do("tasks:"+key, func() (any, error) {
		return s.refreshTasks(ctx, namespace, key)
	})
	if err != nil {
		return nil, err
	}
	return data.([]resource.Task), nil
}

// WorkflowByName scans the cached workflow list for a case-insensitive name
// match. Missing workflows return (nil, nil).
func (s *Service) WorkflowByName(ctx context.Context, name string, namespace *string) (*resource.Workflow, error) {
	workflows, err := s.Workflows(ctx, namespace)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		if strings.EqualFold(workflows[i].Metadata.Name, name) {
			return &workflows[i], nil
		}
	}
	return nil, nil
}

// TaskByRef resolves a task resource by name within the namespace scope.
func (s *Service) TaskByRef(ctx context.Context, ref string, namespace *string) (*resource.Task, error) {
	tasks, err := s.Tasks(ctx, namespace)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if strings.EqualFold(tasks[i].Metadata.Name, ref) {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

func (s *Service) refreshWorkflows(ctx context.Context, namespace *string, key string) ([]resource.Workflow, error) {
	// Another flight may have refreshed while this caller waited for the
	// singleflight slot.
	s.mu.RLock()
	entry := s.workflows[key]
	previous := entry
	s.mu.RUnlock()
	if entry.fresh(s.now(), s.ttl) {
		return entry.data, nil
	}
	var fetched []resource.Workflow
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var listErr error
		fetched, listErr = s.client.ListWorkflows(ctx, namespace)
		return listErr
	})
	if err != nil {
		s.metrics.refreshError("workflows")
		// The stale entry stays in place so later callers keep getting data
		// until a refresh succeeds.
		return nil, fmt.Errorf("discovery: list workflows: %w", err)
	}
	s.metrics.refresh("workflows")
	s.mu.Lock()
	s.workflows[key] = &cacheEntry[resource.Workflow]{data: fetched, fetchedAt: s.now()}
	s.mu.Unlock()
	// Only the all-namespaces set may rebuild the index; a scoped fetch
	// would drop every workflow outside its namespace.
	if namespace == nil {
		s.index.Rebuild(fetched)
	}
	s.emitChanges(ctx, previous, fetched, namespace)
	return fetched, nil
}

func (s *Service) refreshTasks(ctx context.Context, namespace *string, key string) ([]resource.Task, error) {
	s.mu.RLock()
	entry := s.tasks[key]
	s.mu.RUnlock()
	if entry.fresh(s.now(), s.ttl) {
		return entry.data, nil
	}
	var fetched []resource.Task
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var listErr error
		fetched, listErr = s.client.ListTasks(ctx, namespace)
		return listErr
	})
	if err != nil {
		s.metrics.refreshError("tasks")
		return nil, fmt.Errorf("discovery: list tasks: %w", err)
	}
	s.metrics.refresh("tasks")
	s.mu.Lock()
	s.tasks[key] = &cacheEntry[resource.Task]{data: fetched, fetchedAt: s.now()}
	s.mu.Unlock()
	return fetched, nil
}

func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.retryAttempts-1), retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (s *Service) emitChanges(
	ctx context.Context,
	previous *cacheEntry[resource.Workflow],
	current []resource.Workflow,
	namespace *string,
) {
	var previousData []resource.Workflow
	if previous != nil {
		previousData = previous.data
	}
	workflowName := func(w resource.Workflow) string { return w.Metadata.Name }
	added, removed := diffNames(
		resourceNames(previousData, workflowName),
		resourceNames(current, workflowName),
	)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)
	event := ChangeEvent{Added: added, Removed: removed, Namespace: namespace}
	logger.FromContext(ctx).Info(
		"workflow set changed",
		"added", len(added),
		"removed", len(removed),
	)
	s.listenerMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, event)
	}
}
