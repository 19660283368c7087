// pkg/store/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
)

// SQLSTATE codes the store maps to sentinel errors
const (
	codeUndefinedFunction = "42883"
	codeUndefinedTable    = "42P01"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements store.Store on PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	tables map[string]model.TableMetadata
	retry  retryPolicy
}

var _ store.Store = (*Store)(nil)

// New creates a Postgres store. tables describes the array and JSON columns
// so that scanned values can be decoded.
func New(db *sqlx.DB, tables []model.TableMetadata, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]model.TableMetadata, len(tables))
	for _, t := range tables {
		byName[t.Table] = t
	}
	return &Store{
		db:     db,
		logger: logger.Named("postgres-store"),
		tables: byName,
		retry:  retryPolicy{attempts: defaultRetryAttempts, delay: defaultRetryDelay},
	}
}

// Find returns matching rows ordered by primary key
func (s *Store) Find(ctx context.Context, f store.Filter) ([]model.Record, error) {
	where, args, empty := buildWhere(f.Conditions)
	if empty {
		return []model.Record{}, nil
	}

	query := fmt.Sprintf("SELECT * FROM %s%s", pq.QuoteIdentifier(f.Table), where)
	if pk := s.primaryKey(f.Table); pk != "" {
		query += " ORDER BY " + pq.QuoteIdentifier(pk)
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows *sqlx.Rows
	err := s.withRetry(ctx, "find "+f.Table, func() (err error) {
		rows, err = s.db.QueryxContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", f.Table, err)
	}
	return s.scan(f.Table, rows)
}

// Count returns the number of matching rows
func (s *Store) Count(ctx context.Context, f store.Filter) (int, error) {
	where, args, empty := buildWhere(f.Conditions)
	if empty {
		return 0, nil
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", pq.QuoteIdentifier(f.Table), where)
	err := s.withRetry(ctx, "count "+f.Table, func() error {
		return s.db.GetContext(ctx, &n, query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", f.Table, err)
	}
	return n, nil
}

// buildWhere renders AND-ed conditions with positional parameters.
// empty is true when a condition can never match.
func buildWhere(conds []store.Condition) (where string, args []any, empty bool) {
	if len(conds) == 0 {
		return "", nil, false
	}

	clauses := make([]string, 0, len(conds))
	for _, c := range conds {
		if c.Empty() {
			return "", nil, true
		}
		col := pq.QuoteIdentifier(c.Column)
		switch c.Op {
		case store.OpArrayOverlaps:
			args = append(args, pq.Array(stringValues(c.Values)))
			clauses = append(clauses, fmt.Sprintf("%s && $%d::text[]", col, len(args)))
		case store.OpJSONKeyMissing:
			args = append(args, c.Key)
			clauses = append(clauses, fmt.Sprintf("(%s ->> $%d) IS NULL", col, len(args)))
		case store.OpEquals:
			args = append(args, c.Values[0])
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
		case store.OpRegex:
			args = append(args, fmt.Sprint(c.Values[0]))
			clauses = append(clauses, fmt.Sprintf("%s::text ~ $%d", col, len(args)))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, false
}

// Apply runs one atomic operation
func (s *Store) Apply(ctx context.Context, op model.Operation) (store.Result, error) {
	table := pq.QuoteIdentifier(op.Table)
	col := pq.QuoteIdentifier(op.Column)
	idCol := pq.QuoteIdentifier(s.idColumn(op.Table))

	switch op.Kind {
	case model.OpArrayReplace:
		return s.replaceCapturing(ctx, op,
			fmt.Sprintf("array_replace(prev.%s, $1::text, $2::text)", col),
			fmt.Sprintf("$1::text = ANY(%s)", col))

	case model.OpJSONMerge:
		patch, err := json.Marshal(op.Patch)
		if err != nil {
			return store.Result{}, fmt.Errorf("failed to encode patch: %w", err)
		}
		args := []any{string(patch)}
		current := col
		where := fmt.Sprintf("%s IS NOT NULL", col)
		if op.MissingKey != "" {
			args = append(args, op.MissingKey)
			current = fmt.Sprintf("COALESCE(%s, '{}'::jsonb)", col)
			where = fmt.Sprintf("(%s ->> $2) IS NULL", col)
		}
		merged := fmt.Sprintf("%s || $1::jsonb", current)
		if op.KeepExisting {
			merged = fmt.Sprintf("$1::jsonb || %s", current)
		}
		query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s", table, col, merged, where)
		query, args = scoped(query, args, idCol, op.RowIDs)
		return s.updateReturning(ctx, query+fmt.Sprintf(" RETURNING %s::text", idCol), args)

	case model.OpValueReplace:
		return s.replaceCapturing(ctx, op, "$2", fmt.Sprintf("%s = $1", col))

	case model.OpRestoreValues:
		return s.restoreValues(ctx, op)

	case model.OpRaw:
		res, err := s.db.ExecContext(ctx, op.Query)
		if err != nil {
			return store.Result{}, fmt.Errorf("failed to execute raw statement: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			s.logger.Warn("Couldn't get rows affected", zap.Error(err))
		}
		return store.Result{RowsAffected: int(n)}, nil

	case model.OpRestoreBackup:
		return s.restore(ctx, op.Table, op.Backup)

	default:
		return store.Result{}, fmt.Errorf("%w: %q", store.ErrUnsupportedOperation, op.Kind)
	}
}

func scoped(query string, args []any, idCol string, ids []string) (string, []any) {
	if len(ids) == 0 {
		return query, args
	}
	args = append(args, pq.Array(ids))
	return query + fmt.Sprintf(" AND %s::text = ANY($%d::text[])", idCol, len(args)), args
}

// replaceCapturing rewrites op.Column to set on the rows matching cond and
// returns the value each row held before. $1 and $2 are op.From and op.To.
func (s *Store) replaceCapturing(ctx context.Context, op model.Operation, set, cond string) (store.Result, error) {
	table := pq.QuoteIdentifier(op.Table)
	col := pq.QuoteIdentifier(op.Column)
	idCol := pq.QuoteIdentifier(s.idColumn(op.Table))

	cond, args := scoped(cond, []any{op.From, op.To}, idCol, op.RowIDs)
	query := fmt.Sprintf(
		"UPDATE %[1]s AS cur SET %[2]s = %[4]s "+
			"FROM (SELECT %[3]s, %[2]s FROM %[1]s WHERE %[5]s FOR UPDATE) AS prev "+
			"WHERE cur.%[3]s = prev.%[3]s RETURNING cur.%[3]s::text AS id, prev.%[2]s AS before",
		table, col, idCol, set, cond)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return store.Result{}, fmt.Errorf("failed to apply update: %w", err)
	}
	defer rows.Close()

	meta := s.tables[op.Table]
	column := meta.GetColumnByName(op.Column)
	res := store.Result{Before: make(map[string]any)}
	for rows.Next() {
		var (
			id     string
			before any
		)
		if err := rows.Scan(&id, &before); err != nil {
			return store.Result{}, fmt.Errorf("failed to scan updated row: %w", err)
		}
		if res.Before[id], err = decode(column, before); err != nil {
			return store.Result{}, fmt.Errorf("failed to decode previous value of %s: %w", id, err)
		}
		res.RowIDs = append(res.RowIDs, id)
	}
	if err := rows.Err(); err != nil {
		return store.Result{}, fmt.Errorf("error iterating updated rows: %w", err)
	}
	res.RowsAffected = len(res.RowIDs)
	return res, nil
}

// restoreValues writes recorded column values back, one per row id
func (s *Store) restoreValues(ctx context.Context, op model.Operation) (store.Result, error) {
	if len(op.Values) == 0 {
		return store.Result{}, nil
	}
	values, err := json.Marshal(op.Values)
	if err != nil {
		return store.Result{}, fmt.Errorf("failed to encode values: %w", err)
	}

	meta := s.tables[op.Table]
	value := "prev.value #>> '{}'"
	if column := meta.GetColumnByName(op.Column); column != nil {
		switch {
		case column.IsArray():
			value = "ARRAY(SELECT e.v FROM jsonb_array_elements_text(prev.value) WITH ORDINALITY AS e(v, n) ORDER BY e.n)"
		case column.IsJSON():
			value = "prev.value"
		case column.DataType != "":
			value = fmt.Sprintf("(%s)::%s", value, column.DataType)
		}
	}

	idCol := pq.QuoteIdentifier(s.idColumn(op.Table))
	query := fmt.Sprintf(
		"UPDATE %s AS cur SET %s = CASE WHEN jsonb_typeof(prev.value) = 'null' THEN NULL ELSE %s END "+
			"FROM jsonb_each($1::jsonb) AS prev(id, value) WHERE cur.%s::text = prev.id RETURNING cur.%s::text",
		pq.QuoteIdentifier(op.Table), pq.QuoteIdentifier(op.Column), value, idCol, idCol)
	return s.updateReturning(ctx, query, []any{string(values)})
}

func (s *Store) updateReturning(ctx context.Context, query string, args []any) (store.Result, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return store.Result{}, fmt.Errorf("failed to apply update: %w", err)
	}
	return store.Result{RowsAffected: len(ids), RowIDs: ids}, nil
}

// restore replaces a table's contents with a backup inside one transaction
func (s *Store) restore(ctx context.Context, table, backup string) (res store.Result, err error) {
	if !identifierPattern.MatchString(backup) {
		return res, fmt.Errorf("invalid backup name %q", backup)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", pq.QuoteIdentifier(table))); err != nil {
		return res, fmt.Errorf("failed to clear %s: %w", table, err)
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(backup)))
	if err != nil {
		if pgCode(err) == codeUndefinedTable {
			return res, fmt.Errorf("%w: %s", store.ErrBackupNotFound, backup)
		}
		return res, fmt.Errorf("failed to restore %s from %s: %w", table, backup, err)
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := result.RowsAffected()
	s.logger.Info("Restored table from backup",
		zap.String("table", table),
		zap.String("backup", backup),
		zap.Int64("rows", n))
	return store.Result{RowsAffected: int(n)}, nil
}

// QueryRaw runs a read-only query
func (s *Store) QueryRaw(ctx context.Context, query string) ([]model.Record, error) {
	var rows *sqlx.Rows
	err := s.withRetry(ctx, "raw", func() (err error) {
		rows, err = s.db.QueryxContext(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	return s.scan("", rows)
}

// CallProcedure calls a set-returning function by name
func (s *Store) CallProcedure(ctx context.Context, name string) ([]model.Record, error) {
	if !identifierPattern.MatchString(name) {
		return nil, fmt.Errorf("invalid procedure name %q", name)
	}

	var rows *sqlx.Rows
	err := s.withRetry(ctx, name, func() (err error) {
		rows, err = s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s()", pq.QuoteIdentifier(name)))
		return err
	})
	if err != nil {
		if pgCode(err) == codeUndefinedFunction {
			return nil, fmt.Errorf("%w: %s", store.ErrProcedureUnavailable, name)
		}
		return nil, fmt.Errorf("failed to call %s: %w", name, err)
	}
	return s.scan("", rows)
}

// CreateBackup copies a table into a new table
func (s *Store) CreateBackup(ctx context.Context, table, backup string) error {
	if !identifierPattern.MatchString(backup) {
		return fmt.Errorf("invalid backup name %q", backup)
	}
	query := fmt.Sprintf("CREATE TABLE %s AS TABLE %s", pq.QuoteIdentifier(backup), pq.QuoteIdentifier(table))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to back up %s: %w", table, err)
	}
	s.logger.Info("Created backup table", zap.String("table", table), zap.String("backup", backup))
	return nil
}

// DropBackup removes a backup table
func (s *Store) DropBackup(ctx context.Context, backup string) error {
	if !identifierPattern.MatchString(backup) {
		return fmt.Errorf("invalid backup name %q", backup)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(backup))); err != nil {
		return fmt.Errorf("failed to drop backup %s: %w", backup, err)
	}
	return nil
}

func (s *Store) scan(table string, rows *sqlx.Rows) ([]model.Record, error) {
	defer rows.Close()

	meta, known := s.tables[table]
	out := make([]model.Record, 0)
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(model.Record, len(raw))
		for name, v := range raw {
			var col *model.Column
			if known {
				col = meta.GetColumnByName(name)
			}
			decoded, err := decode(col, v)
			if err != nil {
				return nil, fmt.Errorf("failed to decode column %s: %w", name, err)
			}
			rec[name] = decoded
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// decode turns driver values into the shapes the engine works with:
// text[] becomes []string and json/jsonb becomes map[string]any.
func decode(col *model.Column, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil || col == nil {
		return v, nil
	}

	switch {
	case col.IsArray():
		if list, ok := v.([]string); ok {
			return list, nil
		}
		var arr pq.StringArray
		if err := arr.Scan(v); err != nil {
			return nil, err
		}
		return []string(arr), nil
	case col.IsJSON():
		text, ok := v.(string)
		if !ok {
			return v, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return v, nil
}

func stringValues(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func (s *Store) primaryKey(table string) string {
	if meta, ok := s.tables[table]; ok && len(meta.PrimaryKeys) > 0 {
		return meta.PrimaryKeys[0]
	}
	return ""
}

func (s *Store) idColumn(table string) string {
	if pk := s.primaryKey(table); pk != "" {
		return pk
	}
	return "id"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
