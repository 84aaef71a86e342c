// Package validate checks submitted workflows against the structural schema
// and the snapshot's anti-pattern rule set. Validation is total: malformed
// input is reported as a violation, never as a panic or an error.
package validate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/workflowhub/kbservice/pkg/models"
)

// ViolationKind distinguishes schema problems from anti-pattern hits.
type ViolationKind string

const (
	KindStructural  ViolationKind = "structural"
	KindAntiPattern ViolationKind = "anti_pattern"
)

// Violation is one finding against a submitted workflow. Step is the
// 1-based index of the offending step, 0 when the whole workflow is at
// fault.
type Violation struct {
	Kind         ViolationKind   `json:"kind"`
	RuleID       string          `json:"rule_id,omitempty"`
	Severity     models.Severity `json:"severity"`
	Message      string          `json:"message"`
	SuggestedFix string          `json:"suggested_fix,omitempty"`
	Step         int             `json:"step,omitempty"`
}

// Report is the merged outcome of both validation passes. Valid is true iff
// no violation is critical or high.
type Report struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Config carries the tunable validation thresholds.
type Config struct {
	// MinMessageDelay is the smallest acceptable inter-step delay for
	// messaging steps. Below it, sends look like spam to the target service.
	MinMessageDelay time.Duration

	// MaxSteps caps how large a workflow the validator will walk.
	MaxSteps int
}

const (
	DefaultMinMessageDelay = 3 * time.Second
	DefaultMaxSteps        = 200
)

func (c Config) withDefaults() Config {
	if c.MinMessageDelay <= 0 {
		c.MinMessageDelay = DefaultMinMessageDelay
	}

	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}

	return c
}

// requiredParams maps each step type to the parameters it cannot run
// without.
var requiredParams = map[models.StepType][]string{
	models.StepNavigate:    {"url"},
	models.StepClick:       {"selector"},
	models.StepInput:       {"selector", "value"},
	models.StepExtract:     {"selector"},
	models.StepWait:        {},
	models.StepConditional: {"condition"},
	models.StepLoop:        {"over"},
	models.StepMessage:     {"recipient", "content"},
}

var workflowSchema = map[string]any{
	"type":     "object",
	"required": []any{"name", "steps"},
	"properties": map[string]any{
		"name": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
		"steps": map[string]any{
			"type":     "array",
			"minItems": 1,
		},
	},
}

type Validator struct {
	cfg    Config
	schema *gojsonschema.Schema
	logger *slog.Logger
}

func NewValidator(cfg Config, logger *slog.Logger) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(workflowSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling workflow schema: %w", err)
	}

	return &Validator{
		cfg:    cfg.withDefaults(),
		schema: schema,
		logger: logger.With("module", "validate"),
	}, nil
}

// Validate runs the structural pass and the anti-pattern pass against the
// workflow and merges the results. Both passes always run; neither
// short-circuits the other. The input is never mutated.
func (v *Validator) Validate(snap *models.Snapshot, workflow map[string]any) Report {
	var violations []Violation

	steps, stepViolations := extractSteps(workflow, v.cfg.MaxSteps)

	violations = append(violations, v.structural(workflow, steps)...)
	violations = append(violations, stepViolations...)
	violations = append(violations, v.antiPatterns(snap, workflow, steps)...)

	report := Report{Valid: true, Violations: violations}

	for _, violation := range violations {
		if violation.Severity.Blocking() {
			report.Valid = false

			break
		}
	}

	if report.Violations == nil {
		report.Violations = []Violation{}
	}

	return report
}

func (v *Validator) structural(workflow map[string]any, steps []parsedStep) []Violation {
	var violations []Violation

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(workflow))
	if err != nil {
		// Unloadable input (e.g. nil map) is itself a structural violation.
		return []Violation{{
			Kind:     KindStructural,
			Severity: models.SeverityHigh,
			Message:  "workflow is not a valid JSON object: " + err.Error(),
		}}
	}

	for _, desc := range result.Errors() {
		violations = append(violations, Violation{
			Kind:     KindStructural,
			Severity: models.SeverityHigh,
			Message:  desc.String(),
		})
	}

	for _, step := range steps {
		violations = append(violations, v.checkStep(step)...)
	}

	return violations
}

func (v *Validator) checkStep(step parsedStep) []Violation {
	if !step.ok {
		return []Violation{{
			Kind:     KindStructural,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("step %d is not an object", step.index),
			Step:     step.index,
		}}
	}

	if step.stepType == "" {
		return []Violation{{
			Kind:     KindStructural,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("step %d has no type", step.index),
			Step:     step.index,
		}}
	}

	if !step.stepType.IsValid() {
		return []Violation{{
			Kind:     KindStructural,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("step %d has unknown type %q", step.index, step.stepType),
			Step:     step.index,
		}}
	}

	var violations []Violation

	for _, param := range requiredParams[step.stepType] {
		if _, present := step.params[param]; !present {
			violations = append(violations, Violation{
				Kind:     KindStructural,
				Severity: models.SeverityHigh,
				Message:  fmt.Sprintf("step %d (%s) is missing required parameter %q", step.index, step.stepType, param),
				Step:     step.index,
			})
		}
	}

	return violations
}

// parsedStep is a defensively decoded step: ok is false when the raw entry
// was not an object at all.
type parsedStep struct {
	index    int // 1-based
	stepType models.StepType
	params   map[string]any
	ok       bool
}

func extractSteps(workflow map[string]any, maxSteps int) ([]parsedStep, []Violation) {
	rawSteps, isSlice := workflow["steps"].([]any)
	if !isSlice {
		return nil, nil // the schema pass already reports missing/mistyped steps
	}

	if len(rawSteps) > maxSteps {
		return nil, []Violation{{
			Kind:     KindStructural,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("workflow has %d steps, maximum is %d", len(rawSteps), maxSteps),
		}}
	}

	steps := make([]parsedStep, 0, len(rawSteps))

	for i, raw := range rawSteps {
		step := parsedStep{index: i + 1}

		if m, isMap := raw.(map[string]any); isMap {
			step.ok = true
			step.params = m

			if t, isString := m["type"].(string); isString {
				step.stepType = models.StepType(t)
			}
		}

		steps = append(steps, step)
	}

	return steps, nil
}
