// pkg/model/metadata.go
package model

import "strings"

// TableMetadata describes a lexicon table well enough to decode scanned rows
// and to check that the table exists.
type TableMetadata struct {
	Schema      string
	Table       string
	Columns     []Column
	PrimaryKeys []string
}

// Column is one column of a lexicon table. DataType uses PostgreSQL names
// such as "text[]" or "jsonb".
type Column struct {
	Name         string
	DataType     string
	Nullable     bool
	IsPrimaryKey bool
}

// QualifiedName returns schema.table, or the bare table without a schema
func (tm *TableMetadata) QualifiedName() string {
	if tm.Schema == "" {
		return tm.Table
	}
	return tm.Schema + "." + tm.Table
}

// GetColumnByName finds a column ignoring case, or returns nil
func (tm *TableMetadata) GetColumnByName(name string) *Column {
	for i := range tm.Columns {
		if strings.EqualFold(tm.Columns[i].Name, strings.TrimSpace(name)) {
			return &tm.Columns[i]
		}
	}
	return nil
}

// IsArray reports a PostgreSQL array, written either as "text[]" or as the
// catalog's "_text"
func (col *Column) IsArray() bool {
	return strings.HasSuffix(col.DataType, "[]") || strings.HasPrefix(col.DataType, "_")
}

// IsJSON reports json or jsonb
func (col *Column) IsJSON() bool {
	switch strings.ToLower(col.DataType) {
	case "json", "jsonb":
		return true
	}
	return false
}
