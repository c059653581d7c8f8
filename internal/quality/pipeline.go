// Package quality implements the per-entity data-quality pipeline:
// deduplicate, resolve missing values, standardize, reject outliers.
//
// There is one engine. What differs between customers, products and sales is
// data, carried by a RuleSet.
package quality

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"smartsales/internal/metrics"
	"smartsales/internal/records"
)

// Logger is the logging surface used by the pipeline. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Pipeline runs the four quality stages for one entity.
type Pipeline struct {
	Rules RuleSet

	// Placeholders defaults to NewPlaceholderNormalizer().
	Placeholders PlaceholderNormalizer

	// Now is the clock used for "up to today" date bounds. Defaults to time.Now.
	Now func() time.Time

	// RunID tags log lines and the report. A random UUID is used when empty.
	RunID string

	Logger  Logger
	Metrics metrics.Backend
}

// Run executes dedupe -> resolve missing -> standardize -> reject outliers.
//
// Bad rows are filtered and explained in the Report, never returned as errors.
// Errors:
//   - ErrConfig (wrapped) when the rule set refers to fields the input lacks.
//   - ErrEmptyInput when in has no rows.
//   - ctx.Err() when cancelled between stages.
func (p *Pipeline) Run(ctx context.Context, in records.Collection) (records.Collection, Report, error) {
	logf := p.logger()
	m := metrics.OrNop(p.Metrics)
	rs := p.Rules

	rep := Report{RunID: p.runID(), Entity: rs.Entity, Input: in.Len()}

	if err := rs.Check(in); err != nil {
		logf("level=error entity=%s stage=config err=%v", rs.Entity, err)
		return records.Collection{}, rep, err
	}
	if in.Len() == 0 {
		logf("level=error entity=%s stage=input err=%v", rs.Entity, ErrEmptyInput)
		return records.Collection{}, rep, fmt.Errorf("entity %s: %w", rs.Entity, ErrEmptyInput)
	}
	metrics.AddRecords(m, rs.Entity, "input", in.Len())

	now := p.now()
	placeholders := p.Placeholders
	if placeholders.tokens == nil {
		placeholders = NewPlaceholderNormalizer()
	}

	type stageFn func([]records.Record) ([]records.Record, []Drop, []Drop)
	stages := []struct {
		name string
		kind string
		fn   stageFn
	}{
		{StageDedupe, "duplicate", func(recs []records.Record) ([]records.Record, []Drop, []Drop) {
			out, drops := Deduplicate(rs, recs)
			return out, drops, nil
		}},
		{StageMissing, "missing_required", func(recs []records.Record) ([]records.Record, []Drop, []Drop) {
			out, drops, still := resolveMissing(rs, placeholders, recs)
			rep.StillMissing = still
			return out, drops, nil
		}},
		{StageStandardize, "unparsable", func(recs []records.Record) ([]records.Record, []Drop, []Drop) {
			return standardize(rs, recs)
		}},
		{StageOutliers, "outlier", func(recs []records.Record) ([]records.Record, []Drop, []Drop) {
			out, drops := rejectOutliers(rs, now, recs)
			return out, drops, nil
		}},
	}

	cur := in.Records
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return records.Collection{}, rep, err
		}
		start := time.Now()
		out, drops, cleared := st.fn(cur)
		sr := StageReport{Name: st.name, In: len(cur), Out: len(out), Dropped: drops, Cleared: cleared}
		rep.Stages = append(rep.Stages, sr)

		metrics.RecordStep(m, rs.Entity+"_"+st.name, "ok", time.Since(start))
		metrics.AddRecords(m, rs.Entity, st.kind, sr.Removed())
		logf("stage=%s entity=%s run_id=%s in=%d out=%d removed=%d duration=%s",
			st.name, rs.Entity, rep.RunID, sr.In, sr.Out, sr.Removed(), durMS(start))

		if st.name == StageMissing && len(rep.StillMissing) > 0 {
			logf("level=warn stage=%s entity=%s still_missing=%s", st.name, rs.Entity, joinCounts(rep.StillMissing))
		}
		if len(cleared) > 0 {
			logf("level=warn stage=%s entity=%s cleared=%s", st.name, rs.Entity, joinCounts(countDrops(cleared)))
		}
		cur = out
	}

	rep.Output = len(cur)
	metrics.AddRecords(m, rs.Entity, "output", rep.Output)
	if rep.Output == 0 {
		logf("level=warn entity=%s run_id=%s no rows survived the quality pipeline", rs.Entity, rep.RunID)
	}
	return in.WithRecords(cur), rep, nil
}

func (p *Pipeline) logger() func(format string, v ...any) {
	if p.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return p.Logger.Printf
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Pipeline) runID() string {
	if p.RunID != "" {
		return p.RunID
	}
	return uuid.NewString()
}

// Deduplicate keeps the first record for each dedup key, in source order.
// Running it on its own output removes nothing.
func Deduplicate(rs RuleSet, in []records.Record) ([]records.Record, []Drop) {
	seen := make(map[string]int, len(in))
	out := make([]records.Record, 0, len(in))
	var drops []Drop

	for _, rec := range in {
		k := dedupKey(rs, rec)
		if first, dup := seen[k]; dup {
			drops = append(drops, Drop{
				Line:   rec.Line,
				Reason: ReasonDuplicate,
				Fields: rs.DedupKey,
				Detail: fmt.Sprintf("first seen at line %d", first),
			})
			continue
		}
		seen[k] = rec.Line
		out = append(out, rec)
	}
	return out, drops
}

// Coerce types the fields of an already prepared collection (for example one
// read back from a prepared CSV file) the way the standardize stage does.
// Records whose required fields no longer parse are dropped and returned.
func Coerce(rs RuleSet, c records.Collection) (records.Collection, []Drop) {
	out, drops, _ := standardize(rs, c.Records)
	return c.WithRecords(out), drops
}

func dedupKey(rs RuleSet, rec records.Record) string {
	probe := records.NewRecord(rec.Line)
	for _, f := range rs.DedupKey {
		probe.Set(f, keyValue(rs, f, rec.Get(f)))
	}
	return records.Key(probe, rs.DedupKey)
}

// resolveMissing applies the placeholder normalizer, drops records missing a
// required field, then fills defaults. It returns per-field counts of values
// that are still missing afterwards.
func resolveMissing(rs RuleSet, pn PlaceholderNormalizer, in []records.Record) ([]records.Record, []Drop, map[string]int) {
	out := make([]records.Record, 0, len(in))
	var drops []Drop
	still := map[string]int{}

	for _, raw := range in {
		rec := pn.Normalize(raw)
		if missing := rec.MissingFields(rs.Required); len(missing) > 0 {
			drops = append(drops, Drop{Line: rec.Line, Reason: ReasonMissingRequired, Fields: missing})
			continue
		}
		for field, def := range rs.FillDefaults {
			if rec.Get(field).IsMissing() {
				rec.Set(field, def)
			}
		}
		for field, v := range rec.Fields {
			if v.IsMissing() {
				still[field]++
			}
		}
		out = append(out, rec)
	}
	if len(still) == 0 {
		still = nil
	}
	return out, drops, still
}

// standardize trims, normalizes and types every record. A required field that
// fails to parse drops the record. Other unparsable fields become missing, the
// record is kept and reported as cleared, and the outlier stage judges the
// field if it is bounded.
func standardize(rs RuleSet, in []records.Record) ([]records.Record, []Drop, []Drop) {
	s := newStandardizer(rs)
	out := make([]records.Record, 0, len(in))
	var drops, cleared []Drop

	for _, src := range in {
		rec := src.Clone()
		bad := s.apply(rec)
		if len(bad) == 0 {
			out = append(out, rec)
			continue
		}

		var badRequired, badOptional []string
		for _, f := range bad {
			if rs.IsRequired(f) {
				badRequired = append(badRequired, f)
			} else {
				badOptional = append(badOptional, f)
			}
		}
		if len(badRequired) > 0 {
			sort.Strings(badRequired)
			drops = append(drops, Drop{Line: rec.Line, Reason: ReasonUnparsable, Fields: badRequired})
			continue
		}
		sort.Strings(badOptional)
		cleared = append(cleared, Drop{Line: rec.Line, Reason: ReasonUnparsable, Fields: badOptional, Detail: "kept, value cleared"})
		out = append(out, rec)
	}
	return out, drops, cleared
}

// rejectOutliers drops records whose bounded fields are missing or outside
// their range. Each check is an independent predicate, so the surviving set
// does not depend on check order.
func rejectOutliers(rs RuleSet, now time.Time, in []records.Record) ([]records.Record, []Drop) {
	numeric := sortedKeys(rs.NumericBounds)
	dates := sortedKeys(rs.DateBounds)

	out := make([]records.Record, 0, len(in))
	var drops []Drop

	for _, rec := range in {
		var failed []string
		for _, f := range numeric {
			if !withinBound(rec.Get(f), rs.NumericBounds[f]) {
				failed = append(failed, f)
			}
		}
		for _, f := range dates {
			if !withinDateBound(rec.Get(f), rs.DateBounds[f], now) {
				failed = append(failed, f)
			}
		}
		if len(failed) > 0 {
			drops = append(drops, Drop{Line: rec.Line, Reason: ReasonOutOfRange, Fields: failed})
			continue
		}
		out = append(out, rec)
	}
	return out, drops
}

func withinBound(v records.Value, b Bound) bool {
	x, ok := v.Number()
	if !ok {
		return false
	}
	return b.Contains(x)
}

func withinDateBound(v records.Value, b DateBound, now time.Time) bool {
	t, ok := v.TimeVal()
	if !ok {
		return false
	}
	lo, hi := b.resolve(now)
	return !t.Before(lo) && !t.After(hi)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
