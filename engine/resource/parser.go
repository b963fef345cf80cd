package resource

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// ParseError is returned for any YAML input the parser rejects: empty
// documents, syntax errors, and structurally invalid resources. The
// underlying cause, when present, is available through Unwrap.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow yaml: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("workflow yaml: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// ParseWorkflow converts YAML text into a validated Workflow. Field names
// match case-insensitively so camelCase and lowercase spellings both work;
// unknown fields are ignored.
func ParseWorkflow(input string) (*Workflow, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &ParseError{Reason: "input is empty"}
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(input), &doc); err != nil {
		return nil, &ParseError{Reason: "invalid syntax", Err: err}
	}
	if doc == nil {
		return nil, &ParseError{Reason: "document is not a mapping"}
	}
	wf := &Workflow{}
	meta, ok := lookupMap(doc, "metadata")
	if !ok {
		return nil, &ParseError{Reason: "metadata is required"}
	}
	wf.Metadata = parseMetadata(meta)
	if wf.Metadata.Name == "" {
		return nil, &ParseError{Reason: "metadata.name is required"}
	}
	if spec, ok := lookupMap(doc, "spec"); ok {
		parsed, err := parseWorkflowSpec(spec)
		if err != nil {
			return nil, err
		}
		wf.Spec = *parsed
	}
	return wf, nil
}

// ParseTask converts YAML text into a Task resource. Unlike workflows,
// tasks may omit metadata.name; unnamed tasks are resolvable through the
// empty task reference.
func ParseTask(input string) (*Task, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &ParseError{Reason: "input is empty"}
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(input), &doc); err != nil {
		return nil, &ParseError{Reason: "invalid syntax", Err: err}
	}
	if doc == nil {
		return nil, &ParseError{Reason: "document is not a mapping"}
	}
	task := &Task{}
	if meta, ok := lookupMap(doc, "metadata"); ok {
		task.Metadata = parseMetadata(meta)
	}
	if spec, ok := lookupMap(doc, "spec"); ok {
		task.Spec = TaskSpec{
			Type:     lookupString(spec, "type"),
			Category: lookupString(spec, "category"),
			Tags:     lookupStringSlice(spec, "tags"),
		}
	}
	return task, nil
}

// DocumentKind reports the declared kind of a YAML document. Unparseable
// documents and unknown kinds report an empty kind.
func DocumentKind(input string) Kind {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(input), &doc); err != nil {
		return ""
	}
	kind := lookupString(doc, "kind")
	switch {
	case strings.EqualFold(kind, string(KindWorkflow)):
		return KindWorkflow
	case strings.EqualFold(kind, string(KindTask)):
		return KindTask
	default:
		return ""
	}
}

func parseMetadata(m map[string]any) Metadata {
	meta := Metadata{
		Name:      lookupString(m, "name"),
		Namespace: lookupString(m, "namespace"),
	}
	if ann, ok := lookupMap(m, "annotations"); ok {
		meta.Annotations = make(map[string]string, len(ann))
		for k, v := range ann {
			meta.Annotations[k] = asString(v)
		}
	}
	return meta
}

func parseWorkflowSpec(m map[string]any) (*WorkflowSpec, error) {
	spec := &WorkflowSpec{
		Description: lookupString(m, "description"),
		Tags:        lookupStringSlice(m, "tags"),
		Categories:  lookupStringSlice(m, "categories"),
	}
	if in, ok := lookupMap(m, "input"); ok {
		spec.Input = make(map[string]InputParameter, len(in))
		for name, raw := range in {
			param, ok := toMap(raw)
			if !ok {
				return nil, &ParseError{Reason: fmt.Sprintf("input parameter %q is not a mapping", name)}
			}
			spec.Input[name] = InputParameter{
				Type:        lookupString(param, "type"),
				Description: lookupString(param, "description"),
				Required:    lookupBool(param, "required"),
				Default:     lookupAny(param, "default"),
			}
		}
	}
	if out, ok := lookupMap(m, "output"); ok {
		spec.Output = make(map[string]string, len(out))
		for k, v := range out {
			spec.Output[k] = asString(v)
		}
	}
	tasks, err := parseTaskSteps(m)
	if err != nil {
		return nil, err
	}
	spec.Tasks = tasks
	spec.Triggers = parseTriggers(m)
	return spec, nil
}

func parseTaskSteps(m map[string]any) ([]TaskStep, error) {
	raw, ok := lookupSlice(m, "tasks")
	if !ok {
		return nil, nil
	}
	steps := make([]TaskStep, 0, len(raw))
	for i, item := range raw {
		entry, ok := toMap(item)
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("tasks[%d] is not a mapping", i)}
		}
		step := TaskStep{
			ID:        lookupString(entry, "id"),
			TaskRef:   lookupString(entry, "taskRef"),
			DependsOn: lookupStringSlice(entry, "dependsOn"),
		}
		if in, ok := lookupMap(entry, "input"); ok {
			step.Input = make(map[string]string, len(in))
			for k, v := range in {
				step.Input[k] = asString(v)
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseTriggers(m map[string]any) []Trigger {
	raw, ok := lookupSlice(m, "triggers")
	if !ok {
		return nil
	}
	triggers := make([]Trigger, 0, len(raw))
	for _, item := range raw {
		entry, ok := toMap(item)
		if !ok {
			continue
		}
		trigger := Trigger{
			Type:    lookupString(entry, "type"),
			Cron:    lookupString(entry, "cron"),
			Enabled: lookupBool(entry, "enabled"),
		}
		if in, ok := lookupMap(entry, "input"); ok {
			trigger.Input = in
		}
		triggers = append(triggers, trigger)
	}
	return triggers
}

// lookupAny finds a key case-insensitively.
func lookupAny(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func lookupMap(m map[string]any, key string) (map[string]any, bool) {
	return toMap(lookupAny(m, key))
}

func lookupSlice(m map[string]any, key string) ([]any, bool) {
	v, ok := lookupAny(m, key).([]any)
	return v, ok
}

func lookupString(m map[string]any, key string) string {
	return asString(lookupAny(m, key))
}

func lookupBool(m map[string]any, key string) bool {
	v, _ := lookupAny(m, key).(bool)
	return v
}

func lookupStringSlice(m map[string]any, key string) []string {
	raw, ok := lookupSlice(m, key)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, asString(item))
	}
	return out
}

func toMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[asString(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
