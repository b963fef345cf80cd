package execution

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

// FieldError is one input validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the structured outcome of input validation.
type ValidationResult struct {
	IsValid bool         `json:"isValid"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// ValidateInput checks the caller-supplied input against the workflow's
// declared parameters. An empty parameter set with empty input is valid
// without ever building a schema.
func ValidateInput(params map[string]resource.InputParameter, input core.Input) (*ValidationResult, error) {
	if len(params) == 0 && len(input) == 0 {
		return &ValidationResult{IsValid: true}, nil
	}
	schema, err := compileInputSchema(params)
	if err != nil {
		return nil, err
	}
	instance := map[string]any(input)
	if instance == nil {
		instance = map[string]any{}
	}
	result := schema.Validate(instance)
	if result.Valid {
		return &ValidationResult{IsValid: true}, nil
	}
	return &ValidationResult{IsValid: false, Errors: collectFieldErrors(result)}, nil
}

func compileInputSchema(params map[string]resource.InputParameter) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for name, param := range params {
		prop := map[string]any{}
		if param.Type != "" {
			prop["type"] = param.Type
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		properties[name] = prop
		if param.Required {
			required = append(required, name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("execution: marshal input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("execution: compile input schema: %w", err)
	}
	return schema, nil
}

func collectFieldErrors(result *jsonschema.EvaluationResult) []FieldError {
	var out []FieldError
	var walk func(r *jsonschema.EvaluationResult)
	walk = func(r *jsonschema.EvaluationResult) {
		if r == nil {
			return
		}
		for _, evalErr := range r.Errors {
			field := r.InstanceLocation
			if field == "" {
				field = "(input)"
			}
			out = append(out, FieldError{Field: field, Message: evalErr.Error()})
		}
		for _, detail := range r.Details {
			walk(detail)
		}
	}
	walk(result)
	if len(out) == 0 {
		out = append(out, FieldError{Field: "(input)", Message: "input does not match the declared parameters"})
	}
	return out
}
