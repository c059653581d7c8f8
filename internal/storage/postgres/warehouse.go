package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartsales/internal/storage"
)

// maxParams is the Postgres wire protocol limit on bind parameters per
// statement.
const maxParams = 65535

/*
Warehouse implements storage.Warehouse for Postgres.

It provides:
  - Transactional DDL, clear and bulk insert through pgx.Tx
  - Row and orphan counts for verification

Table names may be schema-qualified ("dw.sales"); the schema is created on
demand.
*/
type Warehouse struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for cfg.DSN and checks connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Warehouse{pool: pool}, nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

func (w *Warehouse) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (w *Warehouse) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := w.pool.QueryRow(ctx, buildCountSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

func (w *Warehouse) CountOrphans(ctx context.Context, table string, fk storage.ForeignKeySpec) (int64, error) {
	var n int64
	if err := w.pool.QueryRow(ctx, buildOrphanCountSQL(table, fk)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: orphans %s.%s: %w", table, fk.Column, err)
	}
	return n, nil
}

// Tx is an open Postgres write transaction.
type Tx struct {
	tx pgx.Tx
}

// EnsureTables creates schemas, tables and indexes when missing.
//
// This method is idempotent.
func (t *Tx) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		schemaSQL, stmts, err := buildCreateSQL(spec)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := t.tx.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", spec.Name, err)
			}
		}
		for _, q := range stmts {
			if _, err := t.tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("create table %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

func (t *Tx) DeleteAll(ctx context.Context, table string) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM "+pgTableIdent(table)); err != nil {
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
		sql, args, err := buildInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		cmd, err := t.tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

// Rollback is a no-op once the transaction has been committed.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "dw.customers" => ("dw", "customers")
//   - "customers"    => ("", "customers")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "DOUBLE PRECISION", nil
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", t)
	}
}

// buildColumnDef renders a single column definition. Columns are nullable
// unless the column spec says otherwise.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	typ, err := pgType(c.Type)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(pgIdent(strings.TrimSpace(c.Name)))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	return b.String(), nil
}

// buildCreateSQL builds the optional CREATE SCHEMA statement plus the CREATE
// TABLE and CREATE INDEX statements for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL string, stmts []string, err error) {
	if err := t.Validate(); err != nil {
		return "", nil, err
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf(
			"FOREIGN KEY (%s) REFERENCES %s (%s)",
			pgIdent(fk.Column), pgTableIdent(fk.RefTable), pgIdent(fk.RefColumn),
		))
	}

	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(defs, ", ")))
	for _, ix := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s (%s);`,
			pgIdent(ix.Name), pgTableIdent(t.Name), joinIdentList(ix.Columns),
		))
	}
	return schemaSQL, stmts, nil
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// It is pure and deterministic, so placeholder numbering can be unit tested
// without a database.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

func buildCountSQL(table string) string {
	return "SELECT COUNT(*) FROM " + pgTableIdent(table)
}

func buildOrphanCountSQL(table string, fk storage.ForeignKeySpec) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM %s f LEFT JOIN %s d ON f.%s = d.%s WHERE f.%s IS NOT NULL AND d.%s IS NULL",
		pgTableIdent(table), pgTableIdent(fk.RefTable),
		pgIdent(fk.Column), pgIdent(fk.RefColumn),
		pgIdent(fk.Column), pgIdent(fk.RefColumn),
	)
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, pgIdent(c))
	}
	return strings.Join(out, ", ")
}
