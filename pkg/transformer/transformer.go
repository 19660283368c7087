// Package transformer turns rules into the concrete store operations that
// apply them and the operations that reverse them.
package transformer

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// Transformer generates forward and rollback operations for rules
type Transformer struct {
	logger *zap.Logger
}

// New creates a Transformer
func New(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{logger: logger.Named("transformer")}
}

// GenerateOperations returns the ordered operations that apply rule.
// When forExecution is set, missing or invalid manual input and an empty JSON
// patch are returned as *model.SafetyViolation; previews tolerate them.
func (t *Transformer) GenerateOperations(rule model.Rule, inputs map[string]any, forExecution bool) ([]model.Operation, error) {
	p := rule.Pattern
	tr := rule.Transformation

	switch tr.Type {
	case model.TransformArrayReplace, model.TransformValueReplace:
		kind := model.OpArrayReplace
		if tr.Type == model.TransformValueReplace {
			kind = model.OpValueReplace
		}
		ops := make([]model.Operation, 0, len(tr.Mappings()))
		for _, m := range tr.Mappings() {
			ops = append(ops, model.Operation{
				Kind:        kind,
				Table:       p.Table,
				Column:      p.Column,
				From:        m.From,
				To:          m.To,
				Description: fmt.Sprintf("Replace '%s' with '%s' in %s.%s", m.From, m.To, p.Table, p.Column),
			})
		}
		return ops, nil

	case model.TransformJSONMerge, model.TransformJSONAdd:
		patch, err := t.patch(rule, inputs, forExecution)
		if err != nil {
			return nil, err
		}
		op := model.Operation{
			Kind:         model.OpJSONMerge,
			Table:        p.Table,
			Column:       p.Column,
			Patch:        patch,
			KeepExisting: tr.Type == model.TransformJSONAdd,
			Description:  fmt.Sprintf("Merge %s into %s.%s", describePatch(patch), p.Table, p.Column),
		}
		if p.Condition == model.ConditionMissingKey {
			if keys := p.ValueStrings(); len(keys) == 1 {
				op.MissingKey = keys[0]
			}
		}
		return []model.Operation{op}, nil

	case model.TransformCustom:
		return []model.Operation{{
			Kind:        model.OpRaw,
			Table:       p.Table,
			Query:       tr.CustomQuery(),
			Description: fmt.Sprintf("Run custom query on %s", p.Table),
		}}, nil

	default:
		return nil, &model.TransformationError{RuleID: rule.ID, Err: fmt.Errorf("unknown transformation type %q", tr.Type)}
	}
}

// patch builds the JSON patch: the rule's additions overlaid with caller input.
// Declared fields are validated and defaulted; undeclared rules take raw input.
func (t *Transformer) patch(rule model.Rule, inputs map[string]any, forExecution bool) (map[string]any, error) {
	patch := make(map[string]any)
	for k, v := range rule.Transformation.Additions() {
		patch[k] = normalizeValue(v)
	}

	if len(rule.ManualInputFields) > 0 {
		resolved, err := ResolveInputs(rule.ManualInputFields, inputs)
		if err != nil {
			if forExecution {
				return nil, &model.SafetyViolation{
					RuleID:  rule.ID,
					Check:   model.CheckManualInput,
					Message: "manual input is missing or invalid",
					Err:     err,
				}
			}
			t.logger.Debug("Previewing with incomplete manual input",
				zap.String("ruleId", rule.ID), zap.Error(err))
		}
		for k, v := range resolved {
			patch[k] = v
		}
	} else {
		for k, v := range inputs {
			patch[k] = normalizeValue(v)
		}
	}

	if forExecution && len(patch) == 0 {
		return nil, &model.SafetyViolation{
			RuleID:  rule.ID,
			Check:   model.CheckManualInput,
			Message: "nothing to merge: no additions and no manual input",
			Err:     model.ErrMissingManualInput,
		}
	}
	return patch, nil
}

// GenerateRollbackOperations returns the operations that undo rule.
// With a completed execution the reverse strategy undoes exactly the applied
// operations in reverse order, writing back the values each touched row held. Without
// one it describes what a rollback would do given the preview sample.
func (t *Transformer) GenerateRollbackOperations(rule model.Rule, sample []model.Record, exec *model.Execution) ([]model.Operation, error) {
	p := rule.Pattern
	rb := rule.RollbackStrategy

	switch rb.Type {
	case model.RollbackReverse:
		if !invertible(rule.Transformation.Type) {
			return nil, &model.ConfigurationError{
				RuleID:  rule.ID,
				Field:   "rollbackStrategy.type",
				Message: fmt.Sprintf("%s transformations cannot be reversed", rule.Transformation.Type),
			}
		}
		if exec != nil {
			return mirrorApplied(exec.Applied), nil
		}
		ops := make([]model.Operation, 0, len(rule.Transformation.Mappings()))
		for _, m := range rule.Transformation.Mappings() {
			kind := model.OpArrayReplace
			if rule.Transformation.Type == model.TransformValueReplace {
				kind = model.OpValueReplace
			}
			ops = append(ops, model.Operation{
				Kind:   kind,
				Table:  p.Table,
				Column: p.Column,
				From:   m.To,
				To:     m.From,
				Description: fmt.Sprintf("Replace '%s' back with '%s' (%d of %d sampled records)",
					m.To, m.From, sampleHits(sample, p.Column, m.From), len(sample)),
			})
		}
		return ops, nil

	case model.RollbackBackup:
		op := model.Operation{Kind: model.OpRestoreBackup, Table: p.Table}
		if exec == nil {
			op.Description = fmt.Sprintf("Restore %s from the backup taken at execution time", p.Table)
			return []model.Operation{op}, nil
		}
		if exec.BackupTable == "" {
			return nil, fmt.Errorf("%w: execution %s has no backup of %s", model.ErrBackupUnavailable, exec.ID, p.Table)
		}
		op.Backup = exec.BackupTable
		op.Description = fmt.Sprintf("Restore %s from %s", p.Table, exec.BackupTable)
		return []model.Operation{op}, nil

	case model.RollbackCustom:
		return []model.Operation{{
			Kind:        model.OpRaw,
			Table:       p.Table,
			Query:       rb.CustomQuery,
			Description: fmt.Sprintf("Run custom rollback query on %s", p.Table),
		}}, nil

	default:
		return nil, &model.ConfigurationError{
			RuleID:  rule.ID,
			Field:   "rollbackStrategy.type",
			Message: fmt.Sprintf("unknown rollback strategy %q", rb.Type),
		}
	}
}

func invertible(t model.TransformationType) bool {
	return t == model.TransformArrayReplace || t == model.TransformValueReplace
}

// mirrorApplied undoes applied operations in reverse order. Rows whose
// previous values were recorded get exactly those values back; otherwise
// from and to are swapped on the touched rows.
func mirrorApplied(applied []model.AppliedOperation) []model.Operation {
	ops := make([]model.Operation, 0, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		if a.RowsAffected == 0 {
			continue
		}
		op := a.Operation
		if len(a.Before) > 0 {
			ops = append(ops, model.Operation{
				Kind:   model.OpRestoreValues,
				Table:  op.Table,
				Column: op.Column,
				Values: maps.Clone(a.Before),
				RowIDs: append([]string(nil), a.RowIDs...),
				Description: fmt.Sprintf("Restore %s on %d rows to their values before replacing '%s' with '%s'",
					op.Column, len(a.Before), op.From, op.To),
			})
			continue
		}
		ops = append(ops, model.Operation{
			Kind:        op.Kind,
			Table:       op.Table,
			Column:      op.Column,
			From:        op.To,
			To:          op.From,
			RowIDs:      append([]string(nil), a.RowIDs...),
			Description: fmt.Sprintf("Replace '%s' back with '%s' on %d rows", op.To, op.From, a.RowsAffected),
		})
	}
	return ops
}

// sampleHits counts sample records whose column holds value
func sampleHits(sample []model.Record, column, value string) int {
	n := 0
	for _, rec := range sample {
		switch v := rec[column].(type) {
		case []string:
			for _, s := range v {
				if s == value {
					n++
					break
				}
			}
		case string:
			if v == value {
				n++
			}
		}
	}
	return n
}

func describePatch(patch map[string]any) string {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, patch[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
