// Package mssql implements storage.Warehouse for Microsoft SQL Server.
//
// This package does NOT import a SQL Server driver. The application must
// register the "sqlserver" driver (see storage/all) before calling Open.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"smartsales/internal/storage"
)

const (
	// SQL Server rejects statements with more than 2100 parameters; stay
	// below it.
	maxParams = 2000
	// Table value constructors are limited to 1000 rows.
	maxRows = 1000
)

// Warehouse implements storage.Warehouse for SQL Server.
type Warehouse struct {
	db dbConn
}

func init() {
	storage.Register("mssql", Open)
}

// Open constructs a Warehouse using database/sql and the "sqlserver" driver,
// and validates connectivity via PingContext.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Warehouse{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this warehouse.
func (w *Warehouse) Close() {
	if w == nil || w.db == nil {
		return
	}
	_ = w.db.Close()
}

func (w *Warehouse) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (w *Warehouse) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, buildCountSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count %s: %w", table, err)
	}
	return n, nil
}

func (w *Warehouse) CountOrphans(ctx context.Context, table string, fk storage.ForeignKeySpec) (int64, error) {
	var n int64
	if err := w.db.QueryRowContext(ctx, buildOrphanCountSQL(table, fk)).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: orphans %s.%s: %w", table, fk.Column, err)
	}
	return n, nil
}

// Tx is an open SQL Server write transaction.
type Tx struct {
	tx txConn
}

// EnsureTables creates tables and indexes guarded by OBJECT_ID and
// sys.indexes checks, so it is safe to run on every load.
func (t *Tx) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		stmts, err := buildCreateSQL(spec)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := t.tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

func (t *Tx) DeleteAll(ctx context.Context, table string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(table)); err != nil {
		return fmt.Errorf("mssql: delete from %s: %w", table, err)
	}
	return nil
}

// InsertRows inserts rows in chunks that respect the parameter and row
// limits.
func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if table == "" {
		return 0, fmt.Errorf("InsertRows: table is empty")
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("InsertRows: columns is empty")
	}

	step := storage.RowsPerStatement(len(columns), maxParams, maxRows)
	var total int64
	for start := 0; start < len(rows); start += step {
		end := min(start+step, len(rows))
		q, args, err := buildBulkInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", table, err)
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

func mssqlType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "FLOAT", nil
	case storage.TypeText:
		// Bounded so text columns can be keys and index columns.
		return "NVARCHAR(400)", nil
	case storage.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("mssql: unsupported column type %q", t)
	}
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	typ, err := mssqlType(c.Type)
	if err != nil {
		return "", fmt.Errorf("mssql: column %s: %w", c.Name, err)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	return b.String(), nil
}

// buildCreateSQL returns the guarded CREATE TABLE statement followed by one
// guarded CREATE INDEX per index.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("mssql: %w", err)
	}

	parts := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, def)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, fmt.Sprintf(
			"FOREIGN KEY (%s) REFERENCES %s (%s)",
			mssqlIdent(fk.Column), mssqlTableIdent(fk.RefTable), mssqlIdent(fk.RefColumn),
		))
	}

	out := []string{wrapCreateIfMissing(t.Name, strings.Join(parts, ", "))}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf(
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) CREATE INDEX %s ON %s (%s);",
			escapeLiteral(ix.Name), escapeLiteral(t.Name),
			mssqlIdent(ix.Name), mssqlTableIdent(t.Name), joinIdentList(ix.Columns),
		))
	}
	return out, nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		escapeLiteral(tableName),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mssql: insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

func buildCountSQL(table string) string {
	return "SELECT COUNT_BIG(*) FROM " + mssqlTableIdent(table)
}

func buildOrphanCountSQL(table string, fk storage.ForeignKeySpec) string {
	return fmt.Sprintf(
		"SELECT COUNT_BIG(*) FROM %s f LEFT JOIN %s d ON f.%s = d.%s WHERE f.%s IS NOT NULL AND d.%s IS NULL",
		mssqlTableIdent(table), mssqlTableIdent(fk.RefTable),
		mssqlIdent(fk.Column), mssqlIdent(fk.RefColumn),
		mssqlIdent(fk.Column), mssqlIdent(fk.RefColumn),
	)
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, mssqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.sales" -> [dbo].[sales]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sql.Tx)(nil)
)
