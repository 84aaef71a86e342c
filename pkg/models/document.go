// Package models defines the core domain models for the knowledge base service.
package models

import (
	"encoding/json"
	"time"
)

// Category classifies a document within the corpus.
type Category string

const (
	CategoryWorkflow      Category = "workflow"
	CategoryUseCase       Category = "use-case"
	CategoryDocumentation Category = "documentation"
)

// Categories lists every valid document category.
var Categories = []Category{CategoryWorkflow, CategoryUseCase, CategoryDocumentation}

func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}

	return false
}

// StepType identifies the kind of browser action a workflow step performs.
type StepType string

const (
	StepNavigate    StepType = "navigate"
	StepClick       StepType = "click"
	StepInput       StepType = "input"
	StepExtract     StepType = "extract"
	StepWait        StepType = "wait"
	StepConditional StepType = "conditional"
	StepLoop        StepType = "loop"
	StepMessage     StepType = "message"
)

// StepTypes is the closed step-type vocabulary.
var StepTypes = []StepType{
	StepNavigate,
	StepClick,
	StepInput,
	StepExtract,
	StepWait,
	StepConditional,
	StepLoop,
	StepMessage,
}

func (t StepType) IsValid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Step is a single typed action within a workflow document. Type-specific
// parameters (url, selector, ...) are kept in Params as authored.
type Step struct {
	Type   StepType       `json:"type"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"-"`
}

// UnmarshalJSON splits the step's fixed fields from its type-specific
// parameters so the validator can inspect them uniformly.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["type"].(string); ok {
		s.Type = StepType(v)
	}

	if v, ok := raw["name"].(string); ok {
		s.Name = v
	}

	delete(raw, "type")
	delete(raw, "name")
	s.Params = raw

	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Params)+2)
	for k, v := range s.Params {
		out[k] = v
	}

	out["type"] = s.Type
	if s.Name != "" {
		out["name"] = s.Name
	}

	return json.Marshal(out)
}

// WorkflowDocument is one entry of the knowledge corpus: either an executable
// workflow or a documentation page indexed for search.
type WorkflowDocument struct {
	ID          string    `json:"id"          validate:"required"`
	Title       string    `json:"title"       validate:"required"`
	Description string    `json:"description"`
	Category    Category  `json:"category"    validate:"required,oneof=workflow use-case documentation"`
	Keywords    []string  `json:"keywords"`
	Headings    []string  `json:"headings"`
	Steps       []Step    `json:"steps,omitempty"`
	WordCount   int       `json:"word_count"  validate:"min=0"`
	CreatedAt   time.Time `json:"created_at"`
}
