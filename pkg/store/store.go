// Package store defines the persistence capability the migration engine needs:
// filtered selects, atomic updates, raw queries, procedure calls and
// table-level backup and restore.
package store

import (
	"context"
	"errors"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

var (
	// ErrProcedureUnavailable is returned when a store-side procedure does not exist
	ErrProcedureUnavailable = errors.New("store procedure unavailable")
	// ErrBackupNotFound is returned when restoring from a backup that does not exist
	ErrBackupNotFound = errors.New("backup table not found")
	// ErrUnsupportedOperation is returned for an operation kind the store cannot apply
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Op is a filter comparison
type Op string

const (
	// OpArrayOverlaps matches rows whose array column shares an element with Values
	OpArrayOverlaps Op = "array_overlaps"
	// OpJSONKeyMissing matches rows whose JSON column lacks Key, holds null at Key, or is null
	OpJSONKeyMissing Op = "json_key_missing"
	// OpEquals matches rows whose column equals Values[0]
	OpEquals Op = "equals"
	// OpRegex matches rows whose column text matches the expression in Values[0]
	OpRegex Op = "regex"
)

// Condition is one predicate of a filter
type Condition struct {
	Column string
	Op     Op
	Values []any
	Key    string
}

// Filter selects rows of one table; conditions are combined with AND
type Filter struct {
	Table      string
	Conditions []Condition
	// Limit caps the rows returned by Find; zero means no limit
	Limit int
}

// Where returns a copy of f with an extra condition
func (f Filter) Where(c Condition) Filter {
	out := f
	out.Conditions = append(append([]Condition(nil), f.Conditions...), c)
	return out
}

// Empty reports whether a condition can never match, such as an overlap with no values
func (c Condition) Empty() bool {
	return (c.Op == OpArrayOverlaps || c.Op == OpEquals || c.Op == OpRegex) && len(c.Values) == 0
}

// Result reports what an operation changed
type Result struct {
	RowsAffected int
	RowIDs       []string
	// Before maps row id to the column value the operation replaced. Only
	// array_replace and value_replace report it.
	Before map[string]any
}

// Store is the collaborator the engine reads and mutates data through
type Store interface {
	// Find returns the rows matching the filter
	Find(ctx context.Context, f Filter) ([]model.Record, error)

	// Count returns how many rows match the filter
	Count(ctx context.Context, f Filter) (int, error)

	// Apply runs one atomic operation
	Apply(ctx context.Context, op model.Operation) (Result, error)

	// QueryRaw runs a read-only query and returns its rows
	QueryRaw(ctx context.Context, query string) ([]model.Record, error)

	// CallProcedure calls a set-returning store procedure by name
	CallProcedure(ctx context.Context, name string) ([]model.Record, error)

	// CreateBackup copies table into a new table named backup
	CreateBackup(ctx context.Context, table, backup string) error

	// DropBackup removes a backup table
	DropBackup(ctx context.Context, backup string) error
}

// Strings converts a list of strings into condition values
func Strings(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
