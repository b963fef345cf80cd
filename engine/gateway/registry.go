package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/daz23456/workflow-sub005/engine/discovery"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// BasePath anchors every dynamically registered workflow endpoint.
const BasePath = "/api/v1/workflows"

// EndpointKind distinguishes the three endpoints every workflow exposes.
type EndpointKind string

const (
	EndpointExecute EndpointKind = "execute"
	EndpointTest    EndpointKind = "test"
	EndpointGet     EndpointKind = "get"
)

// Endpoint is one registered route for a workflow.
type Endpoint struct {
	Method       string       `json:"method"`
	Path         string       `json:"path"`
	Kind         EndpointKind `json:"kind"`
	WorkflowName string       `json:"workflowName"`
}

type registration struct {
	name      string
	endpoints []Endpoint
}

// WorkflowSource resolves a workflow by name, typically the discovery
// service.
type WorkflowSource interface {
	WorkflowByName(ctx context.Context, name string, namespace *string) (*resource.Workflow, error)
}

// Registry maps workflow names to their endpoint triple. Registration swaps
// the whole triple atomically so dispatch never sees a half-updated
// workflow.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]registration)}
}

func endpointsFor(name string) []Endpoint {
	base := BasePath + "/" + name
	return []Endpoint{
		{Method: http.MethodPost, Path: base + "/execute", Kind: EndpointExecute, WorkflowName: name},
		{Method: http.MethodPost, Path: base + "/test", Kind: EndpointTest, WorkflowName: name},
		{Method: http.MethodGet, Path: base, Kind: EndpointGet, WorkflowName: name},
	}
}

// Register exposes the workflow's endpoint triple, replacing any previous
// registration under the same folded name.
func (r *Registry) Register(wf *resource.Workflow) error {
	if wf == nil {
		return fmt.Errorf("gateway: workflow is required")
	}
	name := wf.Metadata.Name
	if name == "" {
		return fmt.Errorf("gateway: workflow has no metadata name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[resource.IndexKey(name)] = registration{
		name:      name,
		endpoints: endpointsFor(name),
	}
	return nil
}

// Unregister removes a workflow's endpoints. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, resource.IndexKey(name))
}

// SyncAll reconciles the registry to exactly the given workflow set.
// Workflows without a name are skipped. It returns how many are registered
// afterwards.
func (r *Registry) SyncAll(ctx context.Context, workflows []resource.Workflow) int {
	log := logger.FromContext(ctx)
	next := make(map[string]registration, len(workflows))
	for i := range workflows {
		name := workflows[i].Metadata.Name
		if name == "" {
			log.Warn("skipping workflow without a name during endpoint sync")
			continue
		}
		next[resource.IndexKey(name)] = registration{name: name, endpoints: endpointsFor(name)}
	}
	r.mu.Lock()
	r.workflows = next
	r.mu.Unlock()
	return len(next)
}

// Lookup resolves a request to a registered endpoint. The workflow name in
// the path is matched case-insensitively; the returned endpoint carries the
// canonical registered name.
func (r *Registry) Lookup(method, path string) (*Endpoint, bool) {
	rest, ok := strings.CutPrefix(path, BasePath+"/")
	if !ok {
		return nil, false
	}
	name := rest
	suffix := ""
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		name = rest[:idx]
		suffix = rest[idx:]
	}
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	reg, found := r.workflows[resource.IndexKey(name)]
	r.mu.RUnlock()
	if !found {
		return nil, false
	}
	var kind EndpointKind
	switch {
	case method == http.MethodPost && suffix == "/execute":
		kind = EndpointExecute
	case method == http.MethodPost && suffix == "/test":
		kind = EndpointTest
	case method == http.MethodGet && suffix == "":
		kind = EndpointGet
	default:
		return nil, false
	}
	for i := range reg.endpoints {
		if reg.endpoints[i].Kind == kind {
			ep := reg.endpoints[i]
			return &ep, true
		}
	}
	return nil, false
}

// Endpoints returns the registered endpoint triple for a workflow, or nil.
func (r *Registry) Endpoints(name string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.workflows[resource.IndexKey(name)]
	if !ok {
		return nil
	}
	out := make([]Endpoint, len(reg.endpoints))
	copy(out, reg.endpoints)
	return out
}

// Names lists the registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for _, reg := range r.workflows {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}

// Count reports how many workflows are currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}

// Listener adapts the registry to discovery change events: added and
// modified workflows are re-resolved and registered, removed ones are
// unregistered. A name the source can no longer resolve is skipped.
func (r *Registry) Listener(source WorkflowSource) discovery.Listener {
	return func(ctx context.Context, event discovery.ChangeEvent) {
		log := logger.FromContext(ctx)
		for _, name := range event.Added {
			wf, err := source.WorkflowByName(ctx, name, event.Namespace)
			if err != nil {
				log.Warn("failed to resolve added workflow", "workflow", name, "error", err)
				continue
			}
			if wf == nil {
				log.Warn("added workflow vanished before registration", "workflow", name)
				continue
			}
			if err := r.Register(wf); err != nil {
				log.Warn("failed to register workflow endpoints", "workflow", name, "error", err)
			}
		}
		for _, name := range event.Removed {
			r.Unregister(name)
		}
	}
}
