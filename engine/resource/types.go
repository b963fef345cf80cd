package resource

import "strings"

// TriggerTypeSchedule is the only trigger kind the gateway acts on; other
// kinds are carried through untouched and ignored by the schedule loop.
const TriggerTypeSchedule = "schedule"

// Metadata identifies a declarative resource in the cluster registry.
type Metadata struct {
	Name        string            `json:"name"                  yaml:"name"`
	Namespace   string            `json:"namespace,omitempty"   yaml:"namespace,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

// InputParameter declares one workflow input.
type InputParameter struct {
	Type        string `json:"type,omitempty"        yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty"    yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty"     yaml:"default,omitempty"`
}

// TaskStep is one node of a workflow's task graph.
type TaskStep struct {
	ID        string            `json:"id"                  yaml:"id"`
	TaskRef   string            `json:"taskRef"             yaml:"taskRef"`
	DependsOn []string          `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Input     map[string]string `json:"input,omitempty"     yaml:"input,omitempty"`
}

// Trigger declares a condition under which a workflow fires without an
// explicit client call. Schedule fields are meaningful only when Type is
// TriggerTypeSchedule.
type Trigger struct {
	Type    string         `json:"type"              yaml:"type"`
	Cron    string         `json:"cron,omitempty"    yaml:"cron,omitempty"`
	Enabled bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Input   map[string]any `json:"input,omitempty"   yaml:"input,omitempty"`
}

// WorkflowSpec is the declarative body of a workflow resource.
type WorkflowSpec struct {
	Description string                    `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string                  `json:"tags,omitempty"        yaml:"tags,omitempty"`
	Categories  []string                  `json:"categories,omitempty"  yaml:"categories,omitempty"`
	Input       map[string]InputParameter `json:"input,omitempty"       yaml:"input,omitempty"`
	Tasks       []TaskStep                `json:"tasks,omitempty"       yaml:"tasks,omitempty"`
	Output      map[string]string         `json:"output,omitempty"      yaml:"output,omitempty"`
	Triggers    []Trigger                 `json:"triggers,omitempty"    yaml:"triggers,omitempty"`
}

// Workflow is the declarative workflow resource consumed read-only from the
// registry.
type Workflow struct {
	Metadata Metadata     `json:"metadata" yaml:"metadata"`
	Spec     WorkflowSpec `json:"spec"     yaml:"spec"`
}

// TaskSpec is the declarative body of a workflow task resource.
type TaskSpec struct {
	Type     string   `json:"type,omitempty"     yaml:"type,omitempty"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"     yaml:"tags,omitempty"`
}

// Task is the declarative task resource referenced from workflows via
// taskRef.
type Task struct {
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Spec     TaskSpec `json:"spec"     yaml:"spec"`
}

// Name returns the display name of the workflow.
func (w *Workflow) Name() string {
	return w.Metadata.Name
}

// ScheduleTriggers returns the triggers the schedule loop acts on, keyed by
// their position in the trigger list.
func (w *Workflow) ScheduleTriggers() map[int]Trigger {
	out := make(map[int]Trigger)
	for i, t := range w.Spec.Triggers {
		if strings.EqualFold(t.Type, TriggerTypeSchedule) {
			out[i] = t
		}
	}
	return out
}

// TaskStepByID returns the step with the given id, or nil.
func (w *Workflow) TaskStepByID(id string) *TaskStep {
	for i := range w.Spec.Tasks {
		if w.Spec.Tasks[i].ID == id {
			return &w.Spec.Tasks[i]
		}
	}
	return nil
}

// IndexKey returns the case-insensitive key a resource name indexes under.
// Display names are never mutated; only index keys fold case.
func IndexKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
