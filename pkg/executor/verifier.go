package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/matcher"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// VerificationReport contains the results of a post-execution check
type VerificationReport struct {
	RuleID           string
	ExecutionID      string
	VerificationTime time.Time
	// RemainingMatches counts records that still match the rule's pattern
	RemainingMatches int
	Verified         bool
	Duration         time.Duration
}

// Verifier re-runs a rule's pattern after execution. Only replace rules are
// expected to leave nothing behind; other kinds are reported as verified.
type Verifier struct {
	matcher *matcher.Matcher
	logger  *zap.Logger
	timeout time.Duration
}

// NewVerifier creates a new verifier
func NewVerifier(m *matcher.Matcher, logger *zap.Logger) *Verifier {
	return &Verifier{
		matcher: m,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// WithTimeout sets a custom timeout for verification queries
func (v *Verifier) WithTimeout(timeout time.Duration) *Verifier {
	v.timeout = timeout
	return v
}

// Verify checks that a completed execution left no matching records
func (v *Verifier) Verify(ctx context.Context, rule model.Rule, exec model.Execution) (VerificationReport, error) {
	start := time.Now()
	report := VerificationReport{
		RuleID:           rule.ID,
		ExecutionID:      exec.ID,
		VerificationTime: start,
		Verified:         true,
	}
	if rule.Transformation.Type != model.TransformArrayReplace && rule.Transformation.Type != model.TransformValueReplace {
		return report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	n, err := v.matcher.CountAffectedRows(ctx, rule)
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}

	report.RemainingMatches = n
	report.Verified = n == 0
	if report.Verified {
		v.logger.Info("Execution verified",
			zap.String("ruleId", rule.ID),
			zap.String("executionId", exec.ID))
	} else {
		v.logger.Warn("Records still match after execution",
			zap.String("ruleId", rule.ID),
			zap.String("executionId", exec.ID),
			zap.Int("remaining", n))
	}
	return report, nil
}
