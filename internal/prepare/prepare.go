// Package prepare runs the quality pipeline over the raw entity files and
// reads the prepared files back for loading.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartsales/internal/config"
	"smartsales/internal/metrics"
	csvparser "smartsales/internal/parser/csv"
	xlsxparser "smartsales/internal/parser/xlsx"
	"smartsales/internal/quality"
	"smartsales/internal/records"
	"smartsales/internal/warehouse"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// EntityResult is the outcome for one entity. Output is empty when nothing
// was written.
type EntityResult struct {
	Entity string
	Input  string
	Output string
	Report quality.Report
	Err    error
}

// Result collects every entity of one run.
type Result struct {
	RunID    string
	Entities []EntityResult
}

// Err joins the per-entity errors.
func (r Result) Err() error {
	var errs []error
	for _, e := range r.Entities {
		if e.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Entity, e.Err))
		}
	}
	return errors.Join(errs...)
}

// Job cleans every raw entity file into PreparedDir.
type Job struct {
	Config  config.Config
	Now     func() time.Time
	RunID   string
	Logger  Logger
	Metrics metrics.Backend
}

// Run processes customers, products and sales in turn. An entity that fails
// (unreadable, schema mismatch, empty) gets no prepared file; the others are
// still processed. The returned error is Result.Err, or ctx.Err when
// cancelled.
func (j *Job) Run(ctx context.Context) (Result, error) {
	logf := j.logger()
	res := Result{RunID: j.RunID}
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}

	for _, entity := range quality.Entities() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		er := j.runEntity(ctx, entity, res.RunID, logf)
		if errors.Is(er.Err, context.Canceled) || errors.Is(er.Err, context.DeadlineExceeded) {
			return res, er.Err
		}
		if er.Err != nil {
			logf("level=error entity=%s run_id=%s err=%v", entity, res.RunID, er.Err)
		}
		res.Entities = append(res.Entities, er)
	}
	return res, res.Err()
}

func (j *Job) runEntity(ctx context.Context, entity, runID string, logf func(string, ...any)) EntityResult {
	er := EntityResult{Entity: entity}
	rs, _ := quality.RulesFor(entity)
	er.Input, _ = j.Config.InputPath(entity)

	start := time.Now()
	in, err := ReadRaw(ctx, er.Input, rs, j.Config.Inputs.Sheet, func(line int, err error) {
		logf("level=warn entity=%s line=%d skipped malformed row: %v", entity, line, err)
	})
	if err != nil {
		er.Err = err
		return er
	}
	logf("stage=read entity=%s path=%s rows=%d duration=%s", entity, er.Input, in.Len(), durMS(start))

	p := &quality.Pipeline{Rules: rs, Now: j.Now, RunID: runID, Logger: j.Logger, Metrics: j.Metrics}
	out, rep, err := p.Run(ctx, in)
	er.Report = rep
	if err != nil {
		er.Err = err
		return er
	}
	for _, line := range rep.Summary() {
		logf("%s", line)
	}

	dest := filepath.Join(j.Config.PreparedDir, csvparser.PreparedName(er.Input))
	if err := csvparser.WriteFile(dest, out); err != nil {
		er.Err = err
		return er
	}
	er.Output = dest
	logf("stage=write entity=%s path=%s rows=%d", entity, dest, out.Len())
	return er
}

// ReadRaw reads a raw entity file, choosing the reader by extension.
func ReadRaw(ctx context.Context, path string, rs quality.RuleSet, sheet string, onErr func(int, error)) (records.Collection, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return xlsxparser.ReadFile(ctx, path, rs.Entity, rs.Columns, xlsxparser.Options{Sheet: sheet, HeaderMap: rs.Headers})
	}
	return csvparser.ReadFile(ctx, path, rs.Entity, rs.Columns, csvparser.Options{HeaderMap: rs.Headers}, onErr)
}

// PreparedPath returns where Job writes entity's prepared file.
func PreparedPath(cfg config.Config, entity string) (string, bool) {
	raw, ok := cfg.InputPath(entity)
	if !ok {
		return "", false
	}
	return filepath.Join(cfg.PreparedDir, csvparser.PreparedName(raw)), true
}

// ReadPrepared reads the three prepared files and restores their field types
// for loading. An empty file fails with quality.ErrEmptyInput so no load is
// attempted.
func ReadPrepared(ctx context.Context, cfg config.Config, logger Logger) (warehouse.Input, error) {
	logf := loggerOf(logger)
	var in warehouse.Input
	for _, entity := range quality.Entities() {
		rs, _ := quality.RulesFor(entity)
		path, _ := PreparedPath(cfg, entity)

		c, err := csvparser.ReadFile(ctx, path, entity, rs.Columns, csvparser.Options{}, nil)
		if err != nil {
			return in, err
		}
		if c.Len() == 0 {
			return in, fmt.Errorf("%s: %w", path, quality.ErrEmptyInput)
		}
		typed, drops := quality.Coerce(rs, c)
		for _, d := range drops {
			logf("level=warn entity=%s path=%s line=%d dropped=%s fields=%s", entity, path, d.Line, d.Reason, strings.Join(d.Fields, ","))
		}
		logf("stage=read_prepared entity=%s path=%s rows=%d", entity, path, typed.Len())

		switch entity {
		case quality.EntityCustomer:
			in.Customers = typed
		case quality.EntityProduct:
			in.Products = typed
		case quality.EntitySale:
			in.Sales = typed
		}
	}
	return in, nil
}

func (j *Job) logger() func(format string, v ...any) { return loggerOf(j.Logger) }

func loggerOf(l Logger) func(format string, v ...any) {
	if l == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return l.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
