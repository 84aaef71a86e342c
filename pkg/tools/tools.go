// Package tools is the single entry point for tool calls: it parses the
// request envelope, checks rate limits, routes to search, retrieval, or
// validation against one consistent snapshot, and shapes the uniform
// response envelope.
package tools

import (
	"encoding/json"
	"fmt"
)

// Kind is a closed enum of the tools the dispatcher exposes.
type Kind string

const (
	KindSearchWorkflows  Kind = "search_workflows"
	KindGetWorkflow      Kind = "get_workflow"
	KindValidateWorkflow Kind = "validate_workflow"
	KindListCategories   Kind = "list_categories"
	KindGetAntiPatterns  Kind = "get_anti_patterns"
)

// Kinds lists every known tool, for discovery responses and error messages.
var Kinds = []Kind{
	KindSearchWorkflows,
	KindGetWorkflow,
	KindValidateWorkflow,
	KindListCategories,
	KindGetAntiPatterns,
}

// ParseKind resolves a tool name from the envelope. Unknown names are
// rejected before any rate-limit accounting happens.
func ParseKind(name string) (Kind, error) {
	for _, kind := range Kinds {
		if name == string(kind) {
			return kind, nil
		}
	}

	return "", fmt.Errorf("unknown tool %q", name)
}

// Request is the inbound tool-call envelope.
type Request struct {
	Tool       string         `json:"tool"       validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

// Response is the uniform outbound envelope: exactly one of Result or Err
// is set.
type Response struct {
	Result any    `json:"result,omitempty"`
	Err    *Error `json:"error,omitempty"`
}

// SearchParams are the parameters for search_workflows.
type SearchParams struct {
	Query    string `json:"query"    validate:"required,max=256"`
	Category string `json:"category" validate:"omitempty,oneof=workflow use-case documentation"`
	Limit    int    `json:"limit"    validate:"omitempty,min=1,max=100"`
}

// GetWorkflowParams are the parameters for get_workflow.
type GetWorkflowParams struct {
	ID string `json:"id" validate:"required"`
}

// ValidateWorkflowParams are the parameters for validate_workflow.
type ValidateWorkflowParams struct {
	Workflow map[string]any `json:"workflow" validate:"required"`
}

// GetAntiPatternsParams are the parameters for get_anti_patterns.
type GetAntiPatternsParams struct {
	Severity string `json:"severity" validate:"omitempty,oneof=critical high medium low"`
}

// decodeParams re-marshals the envelope's parameter map into the tool's
// typed parameter struct.
func decodeParams(parameters map[string]any, into any) error {
	data, err := json.Marshal(parameters)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, into)
}
