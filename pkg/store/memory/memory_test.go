package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
)

func seeded() *Store {
	s := New()
	s.Insert("word_forms",
		model.Record{"id": "1", "tags": []string{"io", "presente"}},
		model.Record{"id": "2", "tags": []any{"tu"}},
		model.Record{"id": "3", "tags": []string{"prima-persona"}},
		model.Record{"id": "4", "tags": nil},
	)
	s.Insert("word_translations",
		model.Record{"id": "a", "context_metadata": map[string]any{"auxiliary": "avere"}},
		model.Record{"id": "b", "context_metadata": map[string]any{"auxiliary": nil}},
		model.Record{"id": "c", "context_metadata": map[string]any{}},
		model.Record{"id": "d", "context_metadata": nil},
	)
	return s
}

func ids(rows []model.Record) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID())
	}
	return out
}

func TestFindConditions(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tests := []struct {
		name   string
		filter store.Filter
		want   []string
	}{
		{"overlaps", store.Filter{Table: "word_forms", Conditions: []store.Condition{
			{Column: "tags", Op: store.OpArrayOverlaps, Values: store.Strings([]string{"io", "tu"})}}}, []string{"1", "2"}},
		{"empty overlap matches nothing", store.Filter{Table: "word_forms", Conditions: []store.Condition{
			{Column: "tags", Op: store.OpArrayOverlaps}}}, []string{}},
		{"no conditions matches all", store.Filter{Table: "word_forms"}, []string{"1", "2", "3", "4"}},
		{"key missing covers absent null and null column", store.Filter{Table: "word_translations", Conditions: []store.Condition{
			{Column: "context_metadata", Op: store.OpJSONKeyMissing, Key: "auxiliary"}}}, []string{"b", "c", "d"}},
		{"equals", store.Filter{Table: "word_forms", Conditions: []store.Condition{
			{Column: "id", Op: store.OpEquals, Values: []any{"3"}}}}, []string{"3"}},
		{"regex on array text", store.Filter{Table: "word_forms", Conditions: []store.Condition{
			{Column: "tags", Op: store.OpRegex, Values: []any{"persona"}}}}, []string{"3"}},
		{"limit", store.Filter{Table: "word_forms", Limit: 2}, []string{"1", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Find(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestApplyArrayReplaceScoped(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	s.Insert("word_forms", model.Record{"id": "5", "tags": []string{"io"}})

	res, err := s.Apply(ctx, model.Operation{
		Kind: model.OpArrayReplace, Table: "word_forms", Column: "tags",
		From: "io", To: "prima-persona", RowIDs: []string{"5"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsAffected)
	assert.Equal(t, []string{"5"}, res.RowIDs)

	rows := s.Rows("word_forms")
	assert.Equal(t, []string{"io", "presente"}, rows[0]["tags"])
	assert.Equal(t, []string{"prima-persona"}, rows[4]["tags"])
}

func TestApplyReplaceRecordsPreviousValues(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	s.Insert("word_forms", model.Record{"id": "5", "tags": []string{"io", "prima-persona"}})

	res, err := s.Apply(ctx, model.Operation{
		Kind: model.OpArrayReplace, Table: "word_forms", Column: "tags",
		From: "io", To: "prima-persona",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"1": []string{"io", "presente"},
		"5": []string{"io", "prima-persona"},
	}, res.Before)

	res, err = s.Apply(ctx, model.Operation{
		Kind: model.OpJSONMerge, Table: "word_translations", Column: "context_metadata",
		Patch: map[string]any{"auxiliary": "essere"}, MissingKey: "auxiliary",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Before)
}

func TestApplyRestoreValues(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	s.Insert("word_forms", model.Record{"id": "5", "tags": []string{"prima-persona", "prima-persona"}})

	// values read back from the journal arrive as decoded JSON
	res, err := s.Apply(ctx, model.Operation{
		Kind: model.OpRestoreValues, Table: "word_forms", Column: "tags",
		Values: map[string]any{"5": []any{"io", "prima-persona"}, "3": nil, "missing": []any{"tu"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsAffected)
	assert.ElementsMatch(t, []string{"3", "5"}, res.RowIDs)

	rows := s.Rows("word_forms")
	assert.Equal(t, []string{"io", "presente"}, rows[0]["tags"])
	assert.Nil(t, rows[2]["tags"])
	assert.Equal(t, []string{"io", "prima-persona"}, rows[4]["tags"])
}

func TestApplyJSONMergeSkipsNullColumn(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	res, err := s.Apply(ctx, model.Operation{
		Kind: model.OpJSONMerge, Table: "word_translations", Column: "context_metadata",
		Patch: map[string]any{"transitivity": "transitive"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.RowIDs)

	rows := s.Rows("word_translations")
	assert.Equal(t, map[string]any{"auxiliary": "avere", "transitivity": "transitive"}, rows[0]["context_metadata"])
	assert.Nil(t, rows[3]["context_metadata"])
}

func TestApplyJSONMergeOnlyWhereKeyMissing(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	res, err := s.Apply(ctx, model.Operation{
		Kind: model.OpJSONMerge, Table: "word_translations", Column: "context_metadata",
		Patch: map[string]any{"auxiliary": "essere"}, MissingKey: "auxiliary",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, res.RowIDs)

	rows := s.Rows("word_translations")
	assert.Equal(t, map[string]any{"auxiliary": "avere"}, rows[0]["context_metadata"])
	assert.Equal(t, map[string]any{"auxiliary": "essere"}, rows[1]["context_metadata"])
	assert.Equal(t, map[string]any{"auxiliary": "essere"}, rows[3]["context_metadata"])
}

func TestApplyJSONKeepExisting(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	_, err := s.Apply(ctx, model.Operation{
		Kind: model.OpJSONMerge, Table: "word_translations", Column: "context_metadata",
		Patch: map[string]any{"auxiliary": "essere", "transitivity": "unspecified"}, KeepExisting: true,
	})
	require.NoError(t, err)

	rows := s.Rows("word_translations")
	assert.Equal(t, map[string]any{"auxiliary": "avere", "transitivity": "unspecified"}, rows[0]["context_metadata"])
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	require.NoError(t, s.CreateBackup(ctx, "word_forms", "word_forms_backup_1"))
	assert.Error(t, s.CreateBackup(ctx, "word_forms", "word_forms_backup_1"))

	_, err := s.Apply(ctx, model.Operation{Kind: model.OpValueReplace, Table: "word_forms", Column: "id", From: "1", To: "100"})
	require.NoError(t, err)

	res, err := s.Apply(ctx, model.Operation{Kind: model.OpRestoreBackup, Table: "word_forms", Backup: "word_forms_backup_1"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.RowsAffected)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(s.Rows("word_forms")))

	require.NoError(t, s.DropBackup(ctx, "word_forms_backup_1"))
	_, err = s.Apply(ctx, model.Operation{Kind: model.OpRestoreBackup, Table: "word_forms", Backup: "word_forms_backup_1"})
	assert.ErrorIs(t, err, store.ErrBackupNotFound)
}

func TestApplyHookAbortsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	boom := errors.New("boom")
	s.OnApply(func(op model.Operation) error {
		if op.From == "tu" {
			return boom
		}
		return nil
	})

	_, err := s.Apply(ctx, model.Operation{Kind: model.OpArrayReplace, Table: "word_forms", Column: "tags", From: "tu", To: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"tu"}, s.Rows("word_forms")[1]["tags"])
}

func TestProceduresAndRawStatements(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	_, err := s.CallProcedure(ctx, "check_orphaned_records")
	assert.ErrorIs(t, err, store.ErrProcedureUnavailable)

	s.RegisterProcedure("check_orphaned_records", func(*Store) ([]model.Record, error) {
		return []model.Record{{"id": "9"}}, nil
	})
	rows, err := s.CallProcedure(ctx, "check_orphaned_records")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	const del = "DELETE FROM word_forms WHERE tags IS NULL"
	s.RegisterExec(del, func(st *Store) (store.Result, error) {
		var removed int
		st.Mutate("word_forms", func(rows []model.Record) []model.Record {
			kept := rows[:0]
			for _, r := range rows {
				if r["tags"] == nil {
					removed++
					continue
				}
				kept = append(kept, r)
			}
			return kept
		})
		return store.Result{RowsAffected: removed}, nil
	})
	res, err := s.Apply(ctx, model.Operation{Kind: model.OpRaw, Table: "word_forms", Query: del})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsAffected)
	assert.Len(t, s.Rows("word_forms"), 3)
}
