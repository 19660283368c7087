package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
)

func setupTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		sqlDB.Close()
	})
	return sqlx.NewDb(sqlDB, "pgx"), mock
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock := setupTestDB(t)
	return New(db, lexicon.Tables(), zap.NewNop()), mock
}

func TestFindDecodesArrayAndJSONColumns(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "word_forms" WHERE "tags" && $1::text[] ORDER BY "id" LIMIT 10`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tags", "context_metadata"}).
			AddRow("1", []byte("{io,presente}"), []byte(`{"auxiliary":"avere"}`)).
			AddRow("2", "{tu}", nil))

	rows, err := s.Find(context.Background(), store.Filter{
		Table: lexicon.TableWordForms,
		Conditions: []store.Condition{
			{Column: lexicon.ColumnTags, Op: store.OpArrayOverlaps, Values: store.Strings([]string{"io", "tu"})},
		},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].ID())
	assert.Equal(t, []string{"io", "presente"}, rows[0]["tags"])
	assert.Equal(t, map[string]any{"auxiliary": "avere"}, rows[0]["context_metadata"])
	assert.Equal(t, []string{"tu"}, rows[1]["tags"])
	assert.Nil(t, rows[1]["context_metadata"])
}

func TestCountCombinesConditions(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT COUNT(*) FROM "word_translations" WHERE ("context_metadata" ->> $1) IS NULL AND "tags"::text ~ $2`)).
		WithArgs("auxiliary", "^\\{.*verb").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

	n, err := s.Count(context.Background(), store.Filter{
		Table: lexicon.TableWordTranslations,
		Conditions: []store.Condition{
			{Column: lexicon.ColumnContextMetadata, Op: store.OpJSONKeyMissing, Key: lexicon.KeyAuxiliary},
			{Column: lexicon.ColumnTags, Op: store.OpRegex, Values: []any{"^\\{.*verb"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestEmptyOverlapSkipsQuery(t *testing.T) {
	s, _ := newTestStore(t)

	f := store.Filter{
		Table:      lexicon.TableWordForms,
		Conditions: []store.Condition{{Column: lexicon.ColumnTags, Op: store.OpArrayOverlaps}},
	}
	n, err := s.Count(context.Background(), f)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := s.Find(context.Background(), f)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestApplyArrayReplaceScopedToRows(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "word_forms" AS cur SET "tags" = array_replace(prev."tags", $1::text, $2::text) `+
			`FROM (SELECT "id", "tags" FROM "word_forms" WHERE $1::text = ANY("tags") AND "id"::text = ANY($3::text[]) FOR UPDATE) AS prev `+
			`WHERE cur."id" = prev."id" RETURNING cur."id"::text AS id, prev."tags" AS before`)).
		WithArgs("prima-persona", "io", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "before"}).
			AddRow("1", []byte("{prima-persona,presente}")).
			AddRow("2", "{io,prima-persona}"))

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:   model.OpArrayReplace,
		Table:  lexicon.TableWordForms,
		Column: lexicon.ColumnTags,
		From:   "prima-persona",
		To:     "io",
		RowIDs: []string{"1", "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsAffected)
	assert.Equal(t, []string{"1", "2"}, res.RowIDs)
	assert.Equal(t, map[string]any{
		"1": []string{"prima-persona", "presente"},
		"2": []string{"io", "prima-persona"},
	}, res.Before)
}

func TestApplyValueReplaceCapturesPreviousValues(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "dictionary" AS cur SET "italian" = $2 `+
			`FROM (SELECT "id", "italian" FROM "dictionary" WHERE "italian" = $1 FOR UPDATE) AS prev `+
			`WHERE cur."id" = prev."id" RETURNING cur."id"::text AS id, prev."italian" AS before`)).
		WithArgs("anadre", "andare").
		WillReturnRows(sqlmock.NewRows([]string{"id", "before"}).AddRow("9", "anadre"))

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:   model.OpValueReplace,
		Table:  lexicon.TableDictionary,
		Column: "italian",
		From:   "anadre",
		To:     "andare",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsAffected)
	assert.Equal(t, map[string]any{"9": "anadre"}, res.Before)
}

func TestApplyRestoreValues(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "word_forms" AS cur SET "tags" = CASE WHEN jsonb_typeof(prev.value) = 'null' THEN NULL ELSE `+
			`ARRAY(SELECT e.v FROM jsonb_array_elements_text(prev.value) WITH ORDINALITY AS e(v, n) ORDER BY e.n) END `+
			`FROM jsonb_each($1::jsonb) AS prev(id, value) WHERE cur."id"::text = prev.id RETURNING cur."id"::text`)).
		WithArgs(`{"1":["io","prima-persona"],"2":null}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2"))

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:   model.OpRestoreValues,
		Table:  lexicon.TableWordForms,
		Column: lexicon.ColumnTags,
		Values: map[string]any{"1": []string{"io", "prima-persona"}, "2": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsAffected)

	res, err = s.Apply(context.Background(), model.Operation{
		Kind:   model.OpRestoreValues,
		Table:  lexicon.TableWordForms,
		Column: lexicon.ColumnTags,
	})
	require.NoError(t, err)
	assert.Zero(t, res.RowsAffected)
}

func TestApplyJSONMerge(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "word_translations" SET "context_metadata" = "context_metadata" || $1::jsonb WHERE "context_metadata" IS NOT NULL RETURNING "id"::text`)).
		WithArgs(`{"auxiliary":"essere"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("7"))

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:   model.OpJSONMerge,
		Table:  lexicon.TableWordTranslations,
		Column: lexicon.ColumnContextMetadata,
		Patch:  map[string]any{"auxiliary": "essere"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, res.RowIDs)
}

func TestApplyJSONAddOnlyWhereKeyMissing(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE "word_translations" SET "context_metadata" = $1::jsonb || COALESCE("context_metadata", '{}'::jsonb) WHERE ("context_metadata" ->> $2) IS NULL RETURNING "id"::text`)).
		WithArgs(`{"transitivity":"unspecified"}`, "transitivity").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("3").AddRow("4"))

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:         model.OpJSONMerge,
		Table:        lexicon.TableWordTranslations,
		Column:       lexicon.ColumnContextMetadata,
		Patch:        map[string]any{"transitivity": "unspecified"},
		MissingKey:   "transitivity",
		KeepExisting: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsAffected)
}

func TestApplyRaw(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(`DELETE FROM word_forms`).WillReturnResult(sqlmock.NewResult(0, 4))

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:  model.OpRaw,
		Table: lexicon.TableWordForms,
		Query: "DELETE FROM word_forms WHERE word_id IS NULL",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.RowsAffected)
}

func TestRestoreBackupInTransaction(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "dictionary"`)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dictionary" SELECT * FROM "dictionary_backup_1700000000000"`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	res, err := s.Apply(context.Background(), model.Operation{
		Kind:   model.OpRestoreBackup,
		Table:  lexicon.TableDictionary,
		Backup: "dictionary_backup_1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsAffected)
}

func TestRestoreMissingBackupRollsBack(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "dictionary"`)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "dictionary"`)).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	mock.ExpectRollback()

	_, err := s.Apply(context.Background(), model.Operation{
		Kind:   model.OpRestoreBackup,
		Table:  lexicon.TableDictionary,
		Backup: "dictionary_backup_1",
	})
	assert.ErrorIs(t, err, store.ErrBackupNotFound)
}

func TestCallProcedureUnavailable(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "check_orphaned_records"()`)).
		WillReturnError(&pgconn.PgError{Code: "42883", Message: "function does not exist"})

	_, err := s.CallProcedure(context.Background(), "check_orphaned_records")
	assert.ErrorIs(t, err, store.ErrProcedureUnavailable)
}

func TestCallProcedureRejectsInjection(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.CallProcedure(context.Background(), "x(); DROP TABLE dictionary; --")
	assert.Error(t, err)
}

func TestCreateAndDropBackup(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "word_forms_backup_1" AS TABLE "word_forms"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "word_forms_backup_1"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.CreateBackup(context.Background(), lexicon.TableWordForms, "word_forms_backup_1"))
	require.NoError(t, s.DropBackup(context.Background(), "word_forms_backup_1"))
}
