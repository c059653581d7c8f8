// Package warehouse loads cleaned customers, products and sales into a star
// schema (four dimensions, one fact table) and verifies referential integrity
// afterwards.
package warehouse

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"smartsales/internal/metrics"
	"smartsales/internal/records"
	"smartsales/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Input is the cleaned data for one load.
type Input struct {
	Customers records.Collection
	Products  records.Collection
	Sales     records.Collection
}

// LoadResult reports what a committed load wrote.
type LoadResult struct {
	RunID string

	// Rows is the number of rows inserted per table.
	Rows map[string]int64

	// Placeholders counts synthesized dimension rows per table.
	Placeholders map[string]int

	Duration time.Duration
}

// Loader fully replaces the warehouse contents with Input.
type Loader struct {
	Store    storage.Warehouse
	Policies Policies
	RunID    string
	Logger   Logger
	Metrics  metrics.Backend
}

// Load runs, in one transaction:
//   - ensure schema (tables, keys, indexes)
//   - delete all rows, fact table first
//   - insert customers and products
//   - insert stores and campaigns derived from the sales
//   - insert placeholder rows for orphaned references (per Policies)
//   - insert sales with net_sale_amount
//
// Any error rolls the whole load back, leaving the previous contents intact.
// Orphans under PolicyReject fail with ErrOrphanedReference before the
// transaction starts.
func (l *Loader) Load(ctx context.Context, in Input) (res LoadResult, retErr error) {
	if l.Store == nil {
		return res, fmt.Errorf("warehouse: Store is required")
	}
	logf := l.logger()
	m := metrics.OrNop(l.Metrics)

	start := time.Now()
	res.RunID = l.runID()
	defer func() {
		status := "ok"
		if retErr != nil {
			status = "error"
			logf("level=error stage=load run_id=%s err=%v", res.RunID, retErr)
		}
		metrics.RecordStep(m, "warehouse_load", status, time.Since(start))
	}()

	planStart := time.Now()
	plan, err := buildPlan(in, l.Policies)
	if err != nil {
		return res, err
	}
	for _, t := range []string{TableCustomers, TableProducts} {
		if n := plan.placeholders[t]; n > 0 {
			logf("level=warn stage=repair run_id=%s table=%s placeholders=%d", res.RunID, t, n)
		}
	}
	logf("stage=plan ok run_id=%s duration=%s", res.RunID, durMS(planStart))

	tx, err := l.Store.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ddlStart := time.Now()
	if err := tx.EnsureTables(ctx, Tables()); err != nil {
		return res, fmt.Errorf("ensure schema: %w", err)
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))

	clearStart := time.Now()
	for _, table := range DeleteOrder() {
		if err := tx.DeleteAll(ctx, table); err != nil {
			return res, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	logf("stage=clear ok duration=%s", durMS(clearStart))

	res.Rows = make(map[string]int64, len(plan.tables))
	for _, spec := range Tables() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tr := plan.tables[spec.Name]
		insStart := time.Now()
		n, err := tx.InsertRows(ctx, spec.Name, tr.Columns, tr.Rows)
		if err != nil {
			return res, fmt.Errorf("load %s: %w", spec.Name, err)
		}
		res.Rows[spec.Name] = n
		logf("stage=insert table=%s rows=%d duration=%s", spec.Name, n, durMS(insStart))
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}

	res.Placeholders = plan.placeholders
	res.Duration = time.Since(start)
	for table, n := range res.Rows {
		metrics.AddRowsLoaded(m, table, n)
	}
	for table, n := range res.Placeholders {
		metrics.AddPlaceholderRows(m, table, n)
	}
	logf("stage=load ok run_id=%s duration=%s", res.RunID, durMS(start))
	return res, nil
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		lg := log.New(discardWriter{}, "", 0)
		return lg.Printf
	}
	return l.Logger.Printf
}

func (l *Loader) runID() string {
	if l.RunID != "" {
		return l.RunID
	}
	return uuid.NewString()
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
