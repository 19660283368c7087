// Package matcher turns a rule's pattern into a store query and returns the
// records the rule would affect.
package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
)

var procedureName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Matcher finds the records a rule would affect
type Matcher struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a Matcher
func New(st store.Store, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{store: st, logger: logger.Named("matcher")}
}

// FindAffectedRows returns every record matching the rule's pattern.
// Store failures are returned as *model.MatchError; results are never partial.
func (m *Matcher) FindAffectedRows(ctx context.Context, rule model.Rule) ([]model.Record, error) {
	if rule.Pattern.Condition == model.ConditionCustom {
		rows, err := m.custom(ctx, rule.Pattern.CustomQuery)
		if err != nil {
			return nil, &model.MatchError{RuleID: rule.ID, Err: err}
		}
		return rows, nil
	}

	f, ok, err := Filter(rule)
	if err != nil {
		return nil, &model.MatchError{RuleID: rule.ID, Err: err}
	}
	if !ok {
		m.logger.Debug("Pattern has no values to match", zap.String("ruleId", rule.ID))
		return []model.Record{}, nil
	}

	rows, err := m.store.Find(ctx, f)
	if err != nil {
		return nil, &model.MatchError{RuleID: rule.ID, Err: err}
	}
	return rows, nil
}

// SampleAffectedRows returns at most n matching records
func (m *Matcher) SampleAffectedRows(ctx context.Context, rule model.Rule, n int) ([]model.Record, error) {
	if rule.Pattern.Condition == model.ConditionCustom {
		rows, err := m.FindAffectedRows(ctx, rule)
		if err != nil {
			return nil, err
		}
		if n > 0 && len(rows) > n {
			rows = rows[:n]
		}
		return rows, nil
	}

	f, ok, err := Filter(rule)
	if err != nil {
		return nil, &model.MatchError{RuleID: rule.ID, Err: err}
	}
	if !ok {
		return []model.Record{}, nil
	}
	f.Limit = n

	rows, err := m.store.Find(ctx, f)
	if err != nil {
		return nil, &model.MatchError{RuleID: rule.ID, Err: err}
	}
	return rows, nil
}

// CountAffectedRows returns how many records match without loading them,
// except for custom patterns whose result set is opaque.
func (m *Matcher) CountAffectedRows(ctx context.Context, rule model.Rule) (int, error) {
	if rule.Pattern.Condition == model.ConditionCustom {
		rows, err := m.FindAffectedRows(ctx, rule)
		if err != nil {
			return 0, err
		}
		return len(rows), nil
	}

	f, ok, err := Filter(rule)
	if err != nil {
		return 0, &model.MatchError{RuleID: rule.ID, Err: err}
	}
	if !ok {
		return 0, nil
	}

	n, err := m.store.Count(ctx, f)
	if err != nil {
		return 0, &model.MatchError{RuleID: rule.ID, Err: err}
	}
	return n, nil
}

// custom runs a bare identifier as a store procedure and anything else as a raw query
func (m *Matcher) custom(ctx context.Context, query string) ([]model.Record, error) {
	query = strings.TrimSpace(query)
	if procedureName.MatchString(query) {
		return m.store.CallProcedure(ctx, query)
	}
	return m.store.QueryRaw(ctx, query)
}

// Filter builds the store filter for a non-custom pattern. ok is false when
// the pattern can match nothing, such as array_contains with no values.
func Filter(rule model.Rule) (f store.Filter, ok bool, err error) {
	p := rule.Pattern
	f = store.Filter{Table: p.Table}

	switch p.Condition {
	case model.ConditionArrayContains:
		values := rule.Transformation.Mappings().Froms()
		if len(values) == 0 {
			values = p.ValueStrings()
		}
		if len(values) == 0 {
			return f, false, nil
		}
		f = f.Where(store.Condition{Column: p.Column, Op: store.OpArrayOverlaps, Values: store.Strings(values)})
	case model.ConditionMissingKey:
		keys := p.ValueStrings()
		if len(keys) != 1 {
			return f, false, fmt.Errorf("missing_key pattern needs exactly one key, got %d", len(keys))
		}
		f = f.Where(store.Condition{Column: p.Column, Op: store.OpJSONKeyMissing, Key: keys[0]})
	case model.ConditionEquals:
		if p.Value == nil {
			return f, false, fmt.Errorf("equals pattern needs a value")
		}
		f = f.Where(store.Condition{Column: p.Column, Op: store.OpEquals, Values: []any{p.Value}})
	case model.ConditionRegex:
		values := p.ValueStrings()
		if len(values) != 1 {
			return f, false, fmt.Errorf("regex pattern needs exactly one expression")
		}
		f = f.Where(store.Condition{Column: p.Column, Op: store.OpRegex, Values: []any{values[0]}})
	default:
		return f, false, fmt.Errorf("condition %q cannot be expressed as a filter", p.Condition)
	}
	return f, true, nil
}
