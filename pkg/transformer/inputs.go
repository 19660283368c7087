package transformer

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// InputError describes one missing or invalid manual input
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %q: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// ResolveInputs validates caller inputs against the declared fields, applies
// defaults and coerces values to the field type. The returned map holds every
// value that resolved; err joins one *InputError per problem.
func ResolveInputs(fields []model.ManualInputField, inputs map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(fields))
	var problems []error

	for _, f := range fields {
		raw, provided := inputs[f.Key]
		if !provided || isBlank(raw) {
			raw, provided = f.Default, f.Default != nil
		}
		if !provided {
			if f.Required {
				problems = append(problems, &InputError{Field: f.Key, Reason: "is required", Err: model.ErrMissingManualInput})
			}
			continue
		}

		value, err := coerce(f, raw)
		if err != nil {
			problems = append(problems, &InputError{Field: f.Key, Reason: err.Error()})
			continue
		}
		resolved[f.Key] = value
	}
	return resolved, errors.Join(problems...)
}

// coerce checks the validation pattern against the value as entered, then
// converts it to the field type
func coerce(f model.ManualInputField, raw any) (any, error) {
	s := toString(raw)
	if f.Validation != "" {
		re, err := regexp.Compile(f.Validation)
		if err != nil {
			return nil, fmt.Errorf("invalid validation pattern: %w", err)
		}
		if !re.MatchString(s) {
			return nil, fmt.Errorf("%q does not match %s", s, f.Validation)
		}
	}

	switch f.Type {
	case model.FieldBoolean:
		return toBool(raw)
	case model.FieldNumber:
		return toFloat(raw)
	case model.FieldSelect:
		for _, opt := range f.Options {
			if s == opt {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(f.Options, ", "))
	default:
		return s, nil
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// toString converts a value to its string representation
func toString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []byte:
		return strings.TrimSpace(string(val))
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// toFloat attempts to convert a value to float64
func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return strconv.ParseFloat(fmt.Sprint(val), 64)
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case string, []byte:
		cleaned := toString(val)
		if cleaned == "" {
			return 0, errors.New("empty string")
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse '%s' as number", cleaned)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
}

// toBool attempts to convert a value to bool
func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, _ := toFloat(val)
		return f != 0, nil
	case string:
		switch strings.TrimSpace(strings.ToLower(val)) {
		case "true", "t", "yes", "y", "1", "si", "sì":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		default:
			return false, fmt.Errorf("cannot parse '%s' as boolean", val)
		}
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}

// normalizeValue makes a value safe to encode into a jsonb patch:
// byte slices become strings and maps with non-string keys are re-keyed.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprintf("%v", key.Interface())] = normalizeValue(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}
