package discovery

import (
	"sort"
	"sync"

	"github.com/daz23456/workflow-sub005/engine/resource"
)

// BlastRadiusIndex answers "which workflows does this task affect" and its
// inverse. Keys fold case; stored values keep their display form. The index
// lives for the process and is rebuilt on every successful workflow
// discovery.
type BlastRadiusIndex struct {
	mu       sync.RWMutex
	usedBy   map[string]map[string]struct{}
	contains map[string]map[string]struct{}
}

func NewBlastRadiusIndex() *BlastRadiusIndex {
	return &BlastRadiusIndex{
		usedBy:   make(map[string]map[string]struct{}),
		contains: make(map[string]map[string]struct{}),
	}
}

// Rebuild replaces the index contents from the given workflow set.
func (i *BlastRadiusIndex) Rebuild(workflows []resource.Workflow) {
	usedBy := make(map[string]map[string]struct{})
	contains := make(map[string]map[string]struct{})
	for w := range workflows {
		wf := &workflows[w]
		name := wf.Metadata.Name
		if name == "" {
			continue
		}
		wfKey := resource.IndexKey(name)
		if contains[wfKey] == nil {
			contains[wfKey] = make(map[string]struct{})
		}
		for _, step := range wf.Spec.Tasks {
			if step.TaskRef == "" {
				continue
			}
			refKey := resource.IndexKey(step.TaskRef)
			if usedBy[refKey] == nil {
				usedBy[refKey] = make(map[string]struct{})
			}
			usedBy[refKey][name] = struct{}{}
			contains[wfKey][step.TaskRef] = struct{}{}
		}
	}
	i.mu.Lock()
	i.usedBy = usedBy
	i.contains = contains
	i.mu.Unlock()
}

// UsedBy returns the display names of all workflows referencing taskRef.
func (i *BlastRadiusIndex) UsedBy(taskRef string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return sortedKeys(i.usedBy[resource.IndexKey(taskRef)])
}

// Contains returns the task refs used by the named workflow.
func (i *BlastRadiusIndex) Contains(workflowName string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return sortedKeys(i.contains[resource.IndexKey(workflowName)])
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
