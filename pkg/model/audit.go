// pkg/model/audit.go
package model

import (
	"sort"
	"strings"
	"time"
)

// AuditEntry records one applied operation of a migration execution
type AuditEntry struct {
	ExecutionID    string    // Execution that applied the operation
	RuleID         string    // Rule the execution ran
	TableName      string    // Table name
	ColumnName     string    // Column that was modified
	OriginalValue  string    // Value before the operation (may be empty)
	NewValue       string    // Value after the operation
	RowIdentifiers []string  // IDs of the rows the operation touched
	Operation      string    // Kind of operation (e.g., "array_replace")
	Reason         string    // Human readable description of the change
	AppliedAt      time.Time // When the operation ran
}

// AuditEntries flattens an execution into one entry per applied operation
func AuditEntries(exec *Execution) []AuditEntry {
	entries := make([]AuditEntry, 0, len(exec.Applied))
	for _, applied := range exec.Applied {
		op := applied.Operation
		entry := AuditEntry{
			ExecutionID:    exec.ID,
			RuleID:         exec.RuleID,
			TableName:      op.Table,
			ColumnName:     op.Column,
			OriginalValue:  op.From,
			NewValue:       op.To,
			RowIdentifiers: applied.RowIDs,
			Operation:      string(op.Kind),
			Reason:         op.Description,
			AppliedAt:      applied.AppliedAt,
		}
		switch op.Kind {
		case OpJSONMerge:
			entry.NewValue = patchKeys(op.Patch)
		case OpRaw:
			entry.NewValue = op.Query
		case OpRestoreBackup:
			entry.OriginalValue = op.Backup
		}
		entries = append(entries, entry)
	}
	return entries
}

func patchKeys(patch map[string]any) string {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
