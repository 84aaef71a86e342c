package validate

import (
	"fmt"
	"strings"

	"github.com/workflowhub/kbservice/pkg/models"
)

// Rule check names the predicate registry knows. Rule files reference these
// in their "check" field.
const (
	CheckLoopWithoutMaxIterations = "loop-without-max-iterations"
	CheckMessageDelayBelowMinimum = "message-delay-below-minimum"
	CheckBrittleSelector          = "brittle-selector"
	CheckMissingErrorHandling     = "missing-error-handling"
)

// minStepsForErrorHandling: short workflows fail fast anyway; only longer
// ones are flagged for a missing error_handling block.
const minStepsForErrorHandling = 5

// predicate evaluates one rule against a workflow and returns the matching
// violations. Predicates must not mutate their input.
type predicate func(v *Validator, workflow map[string]any, steps []parsedStep, rule models.AntiPatternRule) []Violation

var predicates = map[string]predicate{
	CheckLoopWithoutMaxIterations: checkLoopBounds,
	CheckMessageDelayBelowMinimum: checkMessageDelay,
	CheckBrittleSelector:          checkBrittleSelector,
	CheckMissingErrorHandling:     checkErrorHandling,
}

// antiPatterns evaluates every rule in the snapshot against the workflow.
// Rules with an unregistered check are skipped, never treated as errors, so
// a newer rule file does not break an older service.
func (v *Validator) antiPatterns(snap *models.Snapshot, workflow map[string]any, steps []parsedStep) []Violation {
	var violations []Violation

	for _, rule := range snap.Rules {
		pred, known := predicates[rule.Check]
		if !known {
			v.logger.Debug("Skipping rule with unknown check", "rule", rule.ID, "check", rule.Check)

			continue
		}

		violations = append(violations, pred(v, workflow, steps, rule)...)
	}

	return violations
}

func violationFor(rule models.AntiPatternRule, stepIndex int, detail string) Violation {
	message := rule.Message
	if detail != "" {
		message = fmt.Sprintf("%s (%s)", rule.Message, detail)
	}

	return Violation{
		Kind:         KindAntiPattern,
		RuleID:       rule.ID,
		Severity:     rule.Severity,
		Message:      message,
		SuggestedFix: rule.SuggestedFix,
		Step:         stepIndex,
	}
}

// checkLoopBounds flags loop steps without a maximum-iteration bound. An
// unbounded loop over a live page is the most common way a workflow wedges
// the browser.
func checkLoopBounds(_ *Validator, _ map[string]any, steps []parsedStep, rule models.AntiPatternRule) []Violation {
	var violations []Violation

	for _, step := range steps {
		if !step.ok || step.stepType != models.StepLoop || !rule.AppliesToStep(step.stepType) {
			continue
		}

		if _, bounded := step.params["max_iterations"]; bounded {
			continue
		}

		violations = append(violations, violationFor(rule, step.index,
			fmt.Sprintf("loop step %d has no max_iterations", step.index)))
	}

	return violations
}

// checkMessageDelay flags messaging steps whose inter-step delay is below
// the configured minimum. A missing delay counts as zero.
func checkMessageDelay(v *Validator, _ map[string]any, steps []parsedStep, rule models.AntiPatternRule) []Violation {
	var violations []Violation

	minMillis := v.cfg.MinMessageDelay.Milliseconds()

	for _, step := range steps {
		if !step.ok || step.stepType != models.StepMessage || !rule.AppliesToStep(step.stepType) {
			continue
		}

		delay := numberParam(step.params, "wait_after")
		if delay >= float64(minMillis) {
			continue
		}

		violations = append(violations, violationFor(rule, step.index,
			fmt.Sprintf("step %d waits %.0fms, minimum is %dms", step.index, delay, minMillis)))
	}

	return violations
}

// checkBrittleSelector flags structural selectors that break on the next
// page redesign.
func checkBrittleSelector(_ *Validator, _ map[string]any, steps []parsedStep, rule models.AntiPatternRule) []Violation {
	var violations []Violation

	for _, step := range steps {
		if !step.ok || !rule.AppliesToStep(step.stepType) {
			continue
		}

		selector, _ := step.params["selector"].(string)
		if !strings.Contains(selector, ":nth-child(") {
			continue
		}

		violations = append(violations, violationFor(rule, step.index,
			fmt.Sprintf("step %d selector %q relies on nth-child position", step.index, selector)))
	}

	return violations
}

// checkErrorHandling flags longer workflows that carry no error_handling
// block.
func checkErrorHandling(_ *Validator, workflow map[string]any, steps []parsedStep, rule models.AntiPatternRule) []Violation {
	if len(steps) < minStepsForErrorHandling {
		return nil
	}

	if _, present := workflow["error_handling"]; present {
		return nil
	}

	return []Violation{violationFor(rule, 0, fmt.Sprintf("%d steps and no error_handling block", len(steps)))}
}

func numberParam(params map[string]any, key string) float64 {
	switch n := params[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
