package model

import (
	"fmt"
	"time"
)

// Record is one row returned by the store, keyed by column name
type Record map[string]any

// ID returns the record's primary key rendered as a string
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

// Clone returns a shallow copy; slice and map column values are copied one level deep
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		switch val := v.(type) {
		case []string:
			out[k] = append([]string(nil), val...)
		case map[string]any:
			m := make(map[string]any, len(val))
			for mk, mv := range val {
				m[mk] = mv
			}
			out[k] = m
		default:
			out[k] = v
		}
	}
	return out
}

// OperationKind identifies an atomic store mutation
type OperationKind string

const (
	OpArrayReplace  OperationKind = "array_replace"
	OpJSONMerge     OperationKind = "json_merge"
	OpValueReplace  OperationKind = "value_replace"
	OpRaw           OperationKind = "raw"
	OpRestoreBackup OperationKind = "restore_backup"
	OpRestoreValues OperationKind = "restore_values"
)

// Operation is one atomic update applied to the store
type Operation struct {
	Kind   OperationKind  `json:"kind"`
	Table  string         `json:"table"`
	Column string         `json:"column,omitempty"`
	From   string         `json:"from,omitempty"`
	To     string         `json:"to,omitempty"`
	Patch  map[string]any `json:"patch,omitempty"`
	// MissingKey limits a JSON merge to rows whose column lacks this key
	MissingKey string `json:"missingKey,omitempty"`
	// KeepExisting makes existing JSON keys win over the patch
	KeepExisting bool `json:"keepExisting,omitempty"`
	// Query is the raw statement of an OpRaw operation
	Query  string `json:"query,omitempty"`
	Backup string `json:"backup,omitempty"`
	// Values maps row id to the column value an OpRestoreValues writes back
	Values map[string]any `json:"values,omitempty"`
	// RowIDs restricts the operation to these rows when non-empty
	RowIDs      []string `json:"rowIds,omitempty"`
	Description string   `json:"description"`
}

// AppliedOperation is an operation that ran, with the rows it touched
type AppliedOperation struct {
	Operation    Operation `json:"operation"`
	RowsAffected int       `json:"rowsAffected"`
	RowIDs       []string  `json:"rowIds,omitempty"`
	// Before holds each touched row's column value prior to the operation
	Before    map[string]any `json:"before,omitempty"`
	AppliedAt time.Time      `json:"appliedAt"`
}

// Preview is a read-only dry run of a rule against current store state
type Preview struct {
	RuleID             string        `json:"ruleId"`
	AffectedRows       int           `json:"affectedRows"`
	Sample             []Record      `json:"sample"`
	Operations         []Operation   `json:"operations"`
	RollbackOperations []Operation   `json:"rollbackOperations"`
	EstimatedDuration  time.Duration `json:"estimatedDuration"`
	Warnings           []string      `json:"warnings"`
	// Violations lists hard safety checks an execution would fail right now
	Violations []string `json:"violations,omitempty"`
}
