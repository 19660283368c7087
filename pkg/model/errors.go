package model

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound is returned when a rule id is not in the catalog
	ErrRuleNotFound = errors.New("rule not found")
	// ErrExecutionNotFound is returned when an execution id is unknown
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrInvalidTransition is returned for a forbidden execution status change
	ErrInvalidTransition = errors.New("invalid execution status transition")
	// ErrBackupUnavailable is returned when restore_backup has no backup to restore
	ErrBackupUnavailable = errors.New("no backup was created for this execution")
	// ErrRollbackUnavailable is returned when a strategy cannot produce rollback operations
	ErrRollbackUnavailable = errors.New("rollback unavailable")
	// ErrMissingManualInput is returned when a required manual input is absent
	ErrMissingManualInput = errors.New("missing required manual input")
)

// ErrorKind classifies engine failures
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindMatch
	ErrorKindSafety
	ErrorKindTransformation
	ErrorKindRollback
	ErrorKindConfiguration
	ErrorKindUnknown
)

// String returns a string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "None"
	case ErrorKindMatch:
		return "Match"
	case ErrorKindSafety:
		return "SafetyViolation"
	case ErrorKindTransformation:
		return "Transformation"
	case ErrorKindRollback:
		return "Rollback"
	case ErrorKindConfiguration:
		return "Configuration"
	case ErrorKindUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// KindOf returns the kind of the outermost typed engine error in err's chain.
// RollbackError is checked first since it wraps a TransformationError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var (
		rollbackErr *RollbackError
		matchErr    *MatchError
		safetyErr   *SafetyViolation
		transformEr *TransformationError
		configErr   *ConfigurationError
	)
	switch {
	case errors.As(err, &rollbackErr):
		return ErrorKindRollback
	case errors.As(err, &configErr):
		return ErrorKindConfiguration
	case errors.As(err, &safetyErr):
		return ErrorKindSafety
	case errors.As(err, &matchErr):
		return ErrorKindMatch
	case errors.As(err, &transformEr):
		return ErrorKindTransformation
	default:
		return ErrorKindUnknown
	}
}

// MatchError reports that the store query behind a pattern failed
type MatchError struct {
	RuleID string
	Err    error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("failed to match rows for rule %s: %v", e.RuleID, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

// SafetyViolation reports a failed hard safety check. No mutation has occurred.
type SafetyViolation struct {
	RuleID    string
	Check     SafetyCheckType
	Message   string
	Affected  int
	Threshold int
	Err       error
}

func (e *SafetyViolation) Error() string {
	msg := fmt.Sprintf("safety check %s failed for rule %s: %s", e.Check, e.RuleID, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SafetyViolation) Unwrap() error { return e.Err }

// TransformationError reports an atomic operation that failed mid-execution
type TransformationError struct {
	RuleID string
	// Index is the position of the failed operation in the forward plan
	Index     int
	Operation Operation
	// RowsTouched is the number of rows already modified before the failure
	RowsTouched int
	Err         error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("operation %d (%s on %s: %s) failed for rule %s after %d rows were modified: %v",
		e.Index, e.Operation.Kind, e.Operation.Table, e.Operation.Description, e.RuleID, e.RowsTouched, e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }

// RollbackError reports a rollback that failed. Cause holds the error that
// triggered the rollback, if any; both messages are kept.
type RollbackError struct {
	RuleID      string
	ExecutionID string
	Cause       error
	Err         error
}

func (e *RollbackError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("rollback of execution %s (rule %s) failed: %v", e.ExecutionID, e.RuleID, e.Err)
	}
	return fmt.Sprintf("%v; rollback of execution %s also failed: %v", e.Cause, e.ExecutionID, e.Err)
}

func (e *RollbackError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Cause, e.Err}
}

// ConfigurationError reports a malformed rule or an impossible execution setup
type ConfigurationError struct {
	RuleID  string
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid rule %s: %s", e.RuleID, e.Message)
	}
	return fmt.Sprintf("invalid rule %s: %s: %s", e.RuleID, e.Field, e.Message)
}
