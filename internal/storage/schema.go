// Table definitions shared by the warehouse loader and every backend, kept in
// this package so neither side imports the other.
package storage

import (
	"fmt"
	"strings"
)

// ColumnType is a logical column type. Each backend maps it onto its own SQL
// type.
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeText    ColumnType = "text"
	TypeDate    ColumnType = "date"
)

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  []string         `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	ForeignKeys []ForeignKeySpec `json:"foreign_keys,omitempty"`
	Indexes     []IndexSpec      `json:"indexes,omitempty"`
}

type ColumnSpec struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable *bool      `json:"nullable,omitempty"`
}

// IsNullable reports whether the column accepts NULL. Columns are nullable
// unless Nullable is explicitly false.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// ForeignKeySpec declares Column REFERENCES RefTable(RefColumn).
type ForeignKeySpec struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

type IndexSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// IsPrimaryKey reports whether name is part of the primary key.
func (t TableSpec) IsPrimaryKey(name string) bool {
	for _, k := range t.PrimaryKey {
		if k == name {
			return true
		}
	}
	return false
}

// Validate checks that every name the spec references is declared.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s: column name is empty", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeInteger, TypeReal, TypeText, TypeDate:
		default:
			return fmt.Errorf("table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
	}
	for _, k := range t.PrimaryKey {
		if !seen[k] {
			return fmt.Errorf("table %s: primary key column %s not declared", t.Name, k)
		}
	}
	for _, fk := range t.ForeignKeys {
		if !seen[fk.Column] {
			return fmt.Errorf("table %s: foreign key column %s not declared", t.Name, fk.Column)
		}
		if fk.RefTable == "" || fk.RefColumn == "" {
			return fmt.Errorf("table %s: foreign key %s has no target", t.Name, fk.Column)
		}
	}
	for _, ix := range t.Indexes {
		if ix.Name == "" || len(ix.Columns) == 0 {
			return fmt.Errorf("table %s: index needs a name and columns", t.Name)
		}
		for _, c := range ix.Columns {
			if !seen[c] {
				return fmt.Errorf("table %s: index %s column %s not declared", t.Name, ix.Name, c)
			}
		}
	}
	return nil
}
