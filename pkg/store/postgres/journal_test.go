package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

var executionColumns = []string{
	"execution_id", "rule_id", "status", "start_time", "end_time", "affected_rows",
	"error_message", "rollback_available", "backup_table", "applied",
}

func newTestJournal(t *testing.T) (*Journal, sqlmock.Sqlmock) {
	db, mock := setupTestDB(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS public\.migration_executions`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS public\.migration_audit`).WillReturnResult(sqlmock.NewResult(0, 0))

	j, err := NewJournal(context.Background(), db, zap.NewNop())
	require.NoError(t, err)
	return j, mock
}

func TestNewJournalRequiresDependencies(t *testing.T) {
	_, err := NewJournal(context.Background(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestJournalSaveWritesExecutionAndAudit(t *testing.T) {
	j, mock := newTestJournal(t)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := model.NewExecution("exec-1", "normalize-person-terms", start)
	exec.Record(model.AppliedOperation{
		Operation: model.Operation{
			Kind: model.OpArrayReplace, Table: "word_forms", Column: "tags",
			From: "io", To: "prima-persona", Description: "Replace 'io' with 'prima-persona'",
		},
		RowsAffected: 2,
		RowIDs:       []string{"1", "2"},
		AppliedAt:    start,
	})
	require.NoError(t, exec.Complete(start.Add(time.Second)))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.migration_executions`).
		WithArgs("exec-1", "normalize-person-terms", "completed", start, sqlmock.AnyArg(), 2,
			sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM public\.migration_audit WHERE execution_id = \$1`).
		WithArgs("exec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(`INSERT INTO public\.migration_audit`).
		ExpectExec().
		WithArgs("exec-1", "normalize-person-terms", "word_forms", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), "array_replace", "Replace 'io' with 'prima-persona'", start).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, j.Save(context.Background(), exec.Clone()))
}

func TestJournalSaveRollsBackOnFailure(t *testing.T) {
	j, mock := newTestJournal(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.migration_executions`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	exec := model.NewExecution("exec-2", "r", time.Now())
	err := j.Save(context.Background(), exec.Clone())
	assert.ErrorContains(t, err, "disk full")
}

func TestJournalGet(t *testing.T) {
	j, mock := newTestJournal(t)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	applied := `[{"operation":{"kind":"array_replace","table":"word_forms","column":"tags","from":"io","to":"prima-persona","description":"d"},"rowsAffected":1,"rowIds":["1"],"before":{"1":["io","prima-persona"]},"appliedAt":"2026-03-01T12:00:00Z"}]`
	mock.ExpectQuery(`FROM public\.migration_executions\s+WHERE execution_id = \$1`).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows(executionColumns).
			AddRow("exec-1", "normalize-person-terms", "completed", start, start.Add(time.Second), 1,
				nil, true, nil, []byte(applied)))

	exec, err := j.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, exec.Status)
	require.NotNil(t, exec.EndTime)
	assert.Equal(t, time.Second, exec.EndTime.Sub(exec.StartTime))
	require.Len(t, exec.Applied, 1)
	assert.Equal(t, []string{"1"}, exec.Applied[0].RowIDs)
	assert.Equal(t, "prima-persona", exec.Applied[0].Operation.To)
	assert.Equal(t, map[string]any{"1": []any{"io", "prima-persona"}}, exec.Applied[0].Before)
	assert.Empty(t, exec.BackupTable)
}

func TestJournalGetNotFound(t *testing.T) {
	j, mock := newTestJournal(t)

	mock.ExpectQuery(`FROM public\.migration_executions`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(executionColumns))

	_, err := j.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrExecutionNotFound)
}

func TestJournalList(t *testing.T) {
	j, mock := newTestJournal(t)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`ORDER BY start_time`).
		WillReturnRows(sqlmock.NewRows(executionColumns).
			AddRow("a", "r1", "failed", start, start, 0, "safety check failed", false, nil, []byte("[]")).
			AddRow("b", "r2", "running", start.Add(time.Minute), nil, 0, nil, false, "word_forms_backup_1", []byte("[]")))

	execs, err := j.List(context.Background())
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "safety check failed", execs[0].ErrorMessage)
	assert.Nil(t, execs[1].EndTime)
	assert.Equal(t, "word_forms_backup_1", execs[1].BackupTable)
}
