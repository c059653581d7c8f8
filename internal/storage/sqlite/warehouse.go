// Package sqlite implements storage.Warehouse on a single SQLite file using
// the pure-Go modernc.org/sqlite driver. It is the default warehouse backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"smartsales/internal/storage"
)

// maxParams is SQLite's historical SQLITE_MAX_VARIABLE_NUMBER. Newer builds
// allow more, but staying under the old limit keeps statements portable.
const maxParams = 999

// Warehouse implements storage.Warehouse for SQLite.
//
// SQLite has no native DATE type; dates are stored as ISO-8601 TEXT
// ("2006-01-02"), which sorts and compares correctly. Foreign keys are only
// enforced when PRAGMA foreign_keys is on, so Open always enables it.
type Warehouse struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open)
}

// Open opens (creating if needed) the database file named by cfg.DSN.
// Parent directories of a plain file path are created.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: dsn is empty")
	}
	if path := filePath(cfg.DSN); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", withForeignKeys(cfg.DSN))
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragma and the write transaction on the same
	// handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Warehouse{db: db}, nil
}

func (w *Warehouse) Close() { _ = w.db.Close() }

func (w *Warehouse) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (w *Warehouse) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, buildCountSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

func (w *Warehouse) CountOrphans(ctx context.Context, table string, fk storage.ForeignKeySpec) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, buildOrphanCountSQL(table, fk)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: orphans %s.%s: %w", table, fk.Column, err)
	}
	return n, nil
}

// Tx is an open SQLite write transaction.
type Tx struct {
	tx *sql.Tx
}

// EnsureTables creates each table and its indexes if missing. Tables must be
// ordered so referenced tables come first.
func (t *Tx) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		stmts, err := buildCreateSQL(spec)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := t.tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("create table %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

func (t *Tx) DeleteAll(ctx context.Context, table string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(table)); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// InsertRows performs multi-row inserts, split to stay under maxParams.
func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", table)
	}

	step := storage.RowsPerStatement(len(columns), maxParams, 0)
	var total int64
	for start := 0; start < len(rows); start += step {
		end := min(start+step, len(rows))
		q, args, err := buildInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit() }

// Rollback is a no-op once the transaction has been committed.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeReal:
		return "REAL", nil
	case storage.TypeText, storage.TypeDate:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", t)
	}
}

// buildCreateSQL returns the CREATE TABLE statement for t followed by one
// CREATE INDEX statement per index.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, fmt.Sprintf(
			"FOREIGN KEY (%s) REFERENCES %s (%s)",
			sqlIdent(fk.Column), sqlIdent(fk.RefTable), sqlIdent(fk.RefColumn),
		))
	}

	out := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  "))}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			sqlIdent(ix.Name), sqlIdent(t.Name), joinIdentList(ix.Columns),
		))
	}
	return out, nil
}

// buildInsertSQL builds one multi-row INSERT with "?" placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args, nil
}

func buildCountSQL(table string) string {
	return "SELECT COUNT(*) FROM " + sqlIdent(table)
}

func buildOrphanCountSQL(table string, fk storage.ForeignKeySpec) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM %s f LEFT JOIN %s d ON f.%s = d.%s WHERE f.%s IS NOT NULL AND d.%s IS NULL",
		sqlIdent(table), sqlIdent(fk.RefTable),
		sqlIdent(fk.Column), sqlIdent(fk.RefColumn),
		sqlIdent(fk.Column), sqlIdent(fk.RefColumn),
	)
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// bindValue converts values the driver would otherwise store in an
// inconsistent text form.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatSQLiteTime(t)
	}
	return v
}

// formatSQLiteTime renders midnight UTC values as a bare date and anything
// else as RFC3339Nano, both in UTC.
func formatSQLiteTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}

// filePath returns the filesystem path of a DSN, or "" for in-memory
// databases.
func filePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return p
}

// withForeignKeys appends the foreign_keys pragma unless the DSN already sets
// it.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}
