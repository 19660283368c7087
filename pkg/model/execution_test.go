package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionLifecycle(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exec := NewExecution("exec-1", "normalize-person-terms", start)
	assert.Equal(t, StatusRunning, exec.Status)
	assert.False(t, exec.RollbackAvailable)

	exec.Record(AppliedOperation{RowsAffected: 4, RowIDs: []string{"1", "2", "3", "4"}})
	exec.Record(AppliedOperation{RowsAffected: 2, RowIDs: []string{"5", "6"}})
	require.NoError(t, exec.Complete(start.Add(time.Second)))

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, 6, exec.AffectedRows)
	assert.True(t, exec.RollbackAvailable)
	assert.Equal(t, time.Second, exec.Duration())

	require.NoError(t, exec.MarkRolledBack(start.Add(2*time.Second)))
	assert.Equal(t, StatusRolledBack, exec.Status)
	assert.False(t, exec.RollbackAvailable)
}

func TestExecutionForbiddenTransitions(t *testing.T) {
	now := time.Now()

	failed := NewExecution("e", "r", now)
	require.NoError(t, failed.Fail(now, "boom"))
	assert.ErrorIs(t, failed.Complete(now), ErrInvalidTransition)
	assert.ErrorIs(t, failed.MarkRolledBack(now), ErrInvalidTransition)

	running := NewExecution("e", "r", now)
	assert.ErrorIs(t, running.MarkRolledBack(now), ErrInvalidTransition)

	rolled := NewExecution("e", "r", now)
	require.NoError(t, rolled.Complete(now))
	require.NoError(t, rolled.MarkRolledBack(now))
	assert.ErrorIs(t, rolled.MarkRolledBack(now), ErrInvalidTransition)
	assert.ErrorIs(t, rolled.Fail(now, "late"), ErrInvalidTransition)
}

func TestExecutionCloneIsIndependent(t *testing.T) {
	exec := NewExecution("e", "r", time.Now())
	exec.Record(AppliedOperation{RowsAffected: 1, RowIDs: []string{"1"}})

	clone := exec.Clone()
	clone.Applied[0].RowIDs[0] = "changed"
	clone.Status = StatusFailed

	assert.Equal(t, "1", exec.Applied[0].RowIDs[0])
	assert.Equal(t, StatusRunning, exec.Status)
}

func TestKindOf(t *testing.T) {
	transformErr := &TransformationError{RuleID: "r", Err: errors.New("deadlock")}
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ErrorKindNone},
		{&MatchError{RuleID: "r", Err: errors.New("timeout")}, ErrorKindMatch},
		{fmt.Errorf("wrapped: %w", &SafetyViolation{RuleID: "r"}), ErrorKindSafety},
		{transformErr, ErrorKindTransformation},
		{&RollbackError{RuleID: "r", Cause: transformErr, Err: errors.New("gone")}, ErrorKindRollback},
		{&ConfigurationError{RuleID: "r"}, ErrorKindConfiguration},
		{errors.New("other"), ErrorKindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestRollbackErrorKeepsBothMessages(t *testing.T) {
	cause := &TransformationError{
		RuleID:      "normalize-person-terms",
		Index:       2,
		Operation:   Operation{Kind: OpArrayReplace, Table: "word_forms", Description: "Replace 'lui' with 'terza-persona'"},
		RowsTouched: 7,
		Err:         errors.New("connection reset"),
	}
	err := &RollbackError{RuleID: "normalize-person-terms", ExecutionID: "exec-9", Cause: cause, Err: errors.New("backup missing")}

	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "backup missing")
	assert.Contains(t, err.Error(), "after 7 rows")

	var te *TransformationError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Index)
}

func TestAuditEntries(t *testing.T) {
	exec := NewExecution("exec-1", "add-missing-auxiliaries", time.Now())
	exec.Record(AppliedOperation{
		Operation: Operation{Kind: OpJSONMerge, Table: "word_translations", Column: "context_metadata",
			Patch: map[string]any{"transitivity": "x", "auxiliary": "avere"}},
		RowsAffected: 2,
		RowIDs:       []string{"a", "b"},
	})

	entries := AuditEntries(exec)
	require.Len(t, entries, 1)
	assert.Equal(t, "auxiliary,transitivity", entries[0].NewValue)
	assert.Equal(t, []string{"a", "b"}, entries[0].RowIdentifiers)
	assert.Equal(t, "json_merge", entries[0].Operation)
}
