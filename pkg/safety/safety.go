// Package safety evaluates a rule's safety policy before execution and
// produces the non-fatal warnings shown with a preview.
package safety

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/transformer"
)

const (
	// HighImpactRows is the affected-row count above which a preview warns
	HighImpactRows = 100
	// SensitiveRows is the affected-row count above which a sensitive table warns
	SensitiveRows = 50
)

// Evaluator runs hard safety checks and collects warnings
type Evaluator struct {
	vocab  lexicon.Vocabulary
	logger *zap.Logger
}

// New creates an Evaluator
func New(vocab lexicon.Vocabulary, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{vocab: vocab, logger: logger.Named("safety")}
}

// Evaluate runs the hard checks for rule against the current affected count.
// It returns the first *model.SafetyViolation, or a *model.ConfigurationError
// when a rule requiring user confirmation runs unattended.
func (e *Evaluator) Evaluate(rule model.Rule, affected int, inputs map[string]any, automated bool) error {
	if err := CheckAutomation(rule, automated); err != nil {
		return err
	}

	if violations := e.check(rule, affected); len(violations) > 0 {
		return violations[0]
	}

	if rule.RequiresManualInput || len(rule.ManualInputFields) > 0 {
		if _, err := transformer.ResolveInputs(rule.ManualInputFields, inputs); err != nil {
			return &model.SafetyViolation{
				RuleID:   rule.ID,
				Check:    model.CheckManualInput,
				Message:  "manual input is missing or invalid",
				Affected: affected,
				Err:      err,
			}
		}
	}

	e.logger.Debug("Safety checks passed",
		zap.String("ruleId", rule.ID),
		zap.Int("affected", affected),
		zap.Bool("automated", automated))
	return nil
}

// CheckAutomation refuses an unattended run of a rule that needs user
// confirmation. It is a configuration error, so it applies even when the
// hard checks are skipped.
func CheckAutomation(rule model.Rule, automated bool) error {
	if automated && rule.HasCheck(model.CheckUserConfirmation) {
		return &model.ConfigurationError{
			RuleID:  rule.ID,
			Field:   "safetyChecks",
			Message: "user_confirmation cannot be satisfied in automated mode",
		}
	}
	return nil
}

// Violations returns the messages of every hard check that would fail now,
// ignoring manual input. Used by previews.
func (e *Evaluator) Violations(rule model.Rule, affected int) []string {
	violations := e.check(rule, affected)
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Error())
	}
	return out
}

func (e *Evaluator) check(rule model.Rule, affected int) []*model.SafetyViolation {
	var violations []*model.SafetyViolation

	for _, c := range rule.SafetyChecks {
		switch c.Type {
		case model.CheckCountPreview:
			if affected > c.Threshold {
				msg := c.Message
				if msg == "" {
					msg = fmt.Sprintf("%d rows exceed the limit of %d", affected, c.Threshold)
				}
				violations = append(violations, &model.SafetyViolation{
					RuleID:    rule.ID,
					Check:     c.Type,
					Message:   msg,
					Affected:  affected,
					Threshold: c.Threshold,
				})
			}
		case model.CheckValidateTargets:
			if msg := invalidTarget(rule.Transformation); msg != "" {
				violations = append(violations, &model.SafetyViolation{
					RuleID:   rule.ID,
					Check:    c.Type,
					Message:  msg,
					Affected: affected,
				})
			}
		}
	}
	return violations
}

// invalidTarget describes the first semantically invalid target value
func invalidTarget(t model.Transformation) string {
	for _, m := range t.Mappings() {
		if strings.TrimSpace(m.To) == "" {
			return fmt.Sprintf("'%s' would be replaced with an empty value", m.From)
		}
		if m.To == m.From {
			return fmt.Sprintf("'%s' maps to itself", m.From)
		}
	}
	for k := range t.Additions() {
		if strings.TrimSpace(k) == "" {
			return "additions contain an empty key"
		}
	}
	return ""
}

// CollectWarnings returns informational warnings for an operation of the
// given size. Warnings never block execution.
func (e *Evaluator) CollectWarnings(rule model.Rule, affected int) []string {
	warnings := []string{}
	if affected > HighImpactRows {
		warnings = append(warnings, fmt.Sprintf("High impact: %d rows will be modified", affected))
	}
	if e.vocab.IsSensitive(rule.Pattern.Table) && affected > SensitiveRows {
		warnings = append(warnings, fmt.Sprintf(
			"%s holds conjugation and translation data; spot-check a sample of the %d rows before executing",
			rule.Pattern.Table, affected))
	}
	if rule.Transformation.Type == model.TransformCustom {
		warnings = append(warnings, "Custom transformation requires manual review")
	}
	return warnings
}
