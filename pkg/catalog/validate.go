package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// Validate checks a rule definition for structural problems that would make
// preview, execution or rollback unsound. Problems are reported as
// *model.ConfigurationError.
func Validate(r model.Rule) error {
	invalid := func(field, format string, args ...any) error {
		return &model.ConfigurationError{RuleID: r.ID, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(r.ID) == "" {
		return invalid("id", "must not be empty")
	}
	if strings.TrimSpace(r.Name) == "" {
		return invalid("name", "must not be empty")
	}
	if !r.Category.Valid() {
		return invalid("category", "unknown category %q", r.Category)
	}
	if !r.Priority.Valid() {
		return invalid("priority", "unknown priority %q", r.Priority)
	}

	if err := validatePattern(r, invalid); err != nil {
		return err
	}
	if err := r.Transformation.Validate(); err != nil {
		return invalid("transformation", "%v", err)
	}
	if dup, ok := r.Transformation.Mappings().DuplicateFrom(); ok {
		return invalid("transformation.mappings", "old value %q is mapped more than once", dup)
	}

	for i, check := range r.SafetyChecks {
		if !check.Type.Valid() {
			return invalid(fmt.Sprintf("safetyChecks[%d]", i), "unknown check %q", check.Type)
		}
		if check.Type == model.CheckCountPreview && check.Threshold <= 0 {
			return invalid(fmt.Sprintf("safetyChecks[%d]", i), "count_preview requires a positive threshold")
		}
	}

	if err := validateManualInput(r, invalid); err != nil {
		return err
	}
	return validateRollback(r, invalid)
}

type invalidFunc func(field, format string, args ...any) error

func validatePattern(r model.Rule, invalid invalidFunc) error {
	p := r.Pattern
	if p.Table == "" {
		return invalid("pattern.table", "must not be empty")
	}
	if !p.Condition.Valid() {
		return invalid("pattern.condition", "unknown condition %q", p.Condition)
	}
	if p.Condition != model.ConditionCustom && p.Column == "" {
		return invalid("pattern.column", "must not be empty for %s", p.Condition)
	}

	switch p.Condition {
	case model.ConditionArrayContains:
		if len(r.Transformation.Mappings()) == 0 && len(p.ValueStrings()) == 0 {
			return invalid("pattern.value", "array_contains needs mappings or a value list")
		}
	case model.ConditionMissingKey:
		if len(p.ValueStrings()) != 1 || p.ValueStrings()[0] == "" {
			return invalid("pattern.value", "missing_key needs a single key name")
		}
	case model.ConditionEquals:
		if p.Value == nil {
			return invalid("pattern.value", "equals needs a value")
		}
	case model.ConditionRegex:
		values := p.ValueStrings()
		if len(values) != 1 {
			return invalid("pattern.value", "regex needs a single expression")
		}
		if _, err := regexp.Compile(values[0]); err != nil {
			return invalid("pattern.value", "invalid expression: %v", err)
		}
	case model.ConditionCustom:
		if strings.TrimSpace(p.CustomQuery) == "" {
			return invalid("pattern.customQuery", "custom condition needs a query or procedure name")
		}
	}
	return nil
}

func validateManualInput(r model.Rule, invalid invalidFunc) error {
	if r.RequiresManualInput && len(r.ManualInputFields) == 0 {
		return invalid("manualInputFields", "requiresManualInput is set but no fields are declared")
	}

	keys := make(map[string]struct{}, len(r.ManualInputFields))
	for i, f := range r.ManualInputFields {
		field := fmt.Sprintf("manualInputFields[%d]", i)
		if f.Key == "" {
			return invalid(field, "key must not be empty")
		}
		if _, ok := keys[f.Key]; ok {
			return invalid(field, "duplicate key %q", f.Key)
		}
		keys[f.Key] = struct{}{}

		switch f.Type {
		case model.FieldText, model.FieldBoolean, model.FieldNumber:
		case model.FieldSelect:
			if len(f.Options) == 0 {
				return invalid(field, "select field %q needs options", f.Key)
			}
		default:
			return invalid(field, "unknown field type %q", f.Type)
		}
		if f.Validation != "" {
			if _, err := regexp.Compile(f.Validation); err != nil {
				return invalid(field, "invalid validation pattern: %v", err)
			}
		}
	}
	return nil
}

func validateRollback(r model.Rule, invalid invalidFunc) error {
	rb := r.RollbackStrategy
	switch rb.Type {
	case model.RollbackReverse:
		switch r.Transformation.Type {
		case model.TransformJSONMerge, model.TransformJSONAdd:
			return invalid("rollbackStrategy.type",
				"%s has no field-level inverse; use restore_backup", r.Transformation.Type)
		case model.TransformCustom:
			return invalid("rollbackStrategy.type", "custom transformations cannot be reversed automatically")
		}
		if a, b, ok := r.Transformation.Mappings().Collision(); ok {
			return invalid("transformation.mappings",
				"%q and %q both map to the same value, so reverse_transformation would be lossy", a, b)
		}
	case model.RollbackBackup:
	case model.RollbackCustom:
		if strings.TrimSpace(rb.CustomQuery) == "" {
			return invalid("rollbackStrategy.customQuery", "custom rollback needs a query")
		}
	default:
		return invalid("rollbackStrategy.type", "unknown strategy %q", rb.Type)
	}
	return nil
}
