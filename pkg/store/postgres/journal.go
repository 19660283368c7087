// pkg/store/postgres/journal.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// Journal persists execution records and their audit trail
type Journal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// executionRow is the migration_executions row shape
type executionRow struct {
	ExecutionID       string         `db:"execution_id"`
	RuleID            string         `db:"rule_id"`
	Status            string         `db:"status"`
	StartTime         time.Time      `db:"start_time"`
	EndTime           sql.NullTime   `db:"end_time"`
	AffectedRows      int            `db:"affected_rows"`
	ErrorMessage      sql.NullString `db:"error_message"`
	RollbackAvailable bool           `db:"rollback_available"`
	BackupTable       sql.NullString `db:"backup_table"`
	Applied           []byte         `db:"applied"`
}

// NewJournal creates a Journal and ensures its tables exist
func NewJournal(ctx context.Context, db *sqlx.DB, logger *zap.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	j := &Journal{
		db:     db,
		logger: logger.Named("journal"),
	}
	if err := j.setupTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup journal tables: %w", err)
	}
	return j, nil
}

// setupTables ensures migration_executions and migration_audit exist
func (j *Journal) setupTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.migration_executions (
			execution_id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE,
			affected_rows INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			rollback_available BOOLEAN NOT NULL DEFAULT FALSE,
			backup_table TEXT,
			applied JSONB NOT NULL DEFAULT '[]'::jsonb
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.migration_audit (
			id SERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL REFERENCES public.migration_executions(execution_id),
			rule_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			column_name TEXT,
			original_value TEXT,
			new_value TEXT,
			row_identifiers TEXT[] NOT NULL DEFAULT '{}',
			operation TEXT NOT NULL,
			reason TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}

	j.logger.Info("Ensured migration journal tables exist")
	return nil
}

// Save upserts an execution and rewrites its audit entries in one transaction
func (j *Journal) Save(ctx context.Context, exec model.Execution) (err error) {
	applied, err := json.Marshal(exec.Applied)
	if err != nil {
		return fmt.Errorf("failed to encode applied operations: %w", err)
	}
	if exec.Applied == nil {
		applied = []byte("[]")
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				j.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.NamedError("cause", err))
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO public.migration_executions
		(execution_id, rule_id, status, start_time, end_time, affected_rows,
		 error_message, rollback_available, backup_table, applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			affected_rows = EXCLUDED.affected_rows,
			error_message = EXCLUDED.error_message,
			rollback_available = EXCLUDED.rollback_available,
			backup_table = EXCLUDED.backup_table,
			applied = EXCLUDED.applied
	`,
		exec.ID,
		exec.RuleID,
		string(exec.Status),
		exec.StartTime,
		nullTime(exec.EndTime),
		exec.AffectedRows,
		nullString(exec.ErrorMessage),
		exec.RollbackAvailable,
		nullString(exec.BackupTable),
		string(applied),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM public.migration_audit WHERE execution_id = $1`, exec.ID); err != nil {
		return fmt.Errorf("failed to clear audit entries: %w", err)
	}

	entries := model.AuditEntries(&exec)
	if len(entries) > 0 {
		stmt, prepErr := tx.PreparexContext(ctx, `
			INSERT INTO public.migration_audit
			(execution_id, rule_id, table_name, column_name, original_value, new_value,
			 row_identifiers, operation, reason, applied_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`)
		if prepErr != nil {
			err = prepErr
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err = stmt.ExecContext(ctx,
				e.ExecutionID,
				e.RuleID,
				e.TableName,
				nullString(e.ColumnName),
				nullString(e.OriginalValue),
				nullString(e.NewValue),
				pq.Array(e.RowIdentifiers),
				e.Operation,
				e.Reason,
				e.AppliedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert audit entry: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	j.logger.Debug("Recorded execution",
		zap.String("executionId", exec.ID),
		zap.String("status", string(exec.Status)),
		zap.Int("auditEntries", len(entries)))
	return nil
}

// Get loads one execution
func (j *Journal) Get(ctx context.Context, id string) (model.Execution, error) {
	var row executionRow
	err := j.db.GetContext(ctx, &row, `
		SELECT execution_id, rule_id, status, start_time, end_time, affected_rows,
		       error_message, rollback_available, backup_table, applied
		FROM public.migration_executions
		WHERE execution_id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Execution{}, fmt.Errorf("%w: %s", model.ErrExecutionNotFound, id)
	}
	if err != nil {
		return model.Execution{}, fmt.Errorf("failed to load execution %s: %w", id, err)
	}
	return row.toModel()
}

// List loads every execution, oldest first
func (j *Journal) List(ctx context.Context) ([]model.Execution, error) {
	var rows []executionRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT execution_id, rule_id, status, start_time, end_time, affected_rows,
		       error_message, rollback_available, backup_table, applied
		FROM public.migration_executions
		ORDER BY start_time
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	out := make([]model.Execution, 0, len(rows))
	for _, row := range rows {
		exec, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

func (r executionRow) toModel() (model.Execution, error) {
	exec := model.Execution{
		ID:                r.ExecutionID,
		RuleID:            r.RuleID,
		Status:            model.ExecutionStatus(r.Status),
		StartTime:         r.StartTime,
		AffectedRows:      r.AffectedRows,
		ErrorMessage:      r.ErrorMessage.String,
		RollbackAvailable: r.RollbackAvailable,
		BackupTable:       r.BackupTable.String,
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time
		exec.EndTime = &end
	}
	if len(r.Applied) > 0 {
		if err := json.Unmarshal(r.Applied, &exec.Applied); err != nil {
			return model.Execution{}, fmt.Errorf("failed to decode applied operations for %s: %w", r.ExecutionID, err)
		}
	}
	return exec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
