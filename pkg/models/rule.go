package models

// Severity ranks how damaging a flagged construct is at runtime.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Blocking reports whether a violation of this severity makes a workflow
// invalid.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// AppliesToAll is the sentinel step-type matching every step.
const AppliesToAll = "all"

// AntiPatternRule flags a workflow construct known to cause runtime failure
// or abuse. Rules are immutable once loaded.
type AntiPatternRule struct {
	ID           string   `json:"id"            validate:"required"`
	AppliesTo    []string `json:"applies_to"`
	Check        string   `json:"check"         validate:"required"`
	Severity     Severity `json:"severity"      validate:"required,oneof=critical high medium low"`
	Message      string   `json:"message"       validate:"required"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// AppliesToStep reports whether the rule targets the given step type. An
// empty applies_to list behaves like "all".
func (r AntiPatternRule) AppliesToStep(t StepType) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}

	for _, target := range r.AppliesTo {
		if target == AppliesToAll || target == string(t) {
			return true
		}
	}

	return false
}
