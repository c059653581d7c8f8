package quality

import (
	"fmt"
	"sort"
	"strings"
)

// Stage names, in execution order.
const (
	StageDedupe      = "dedupe"
	StageMissing     = "resolve_missing"
	StageStandardize = "standardize"
	StageOutliers    = "reject_outliers"
)

// Reasons a record is dropped.
const (
	ReasonDuplicate       = "duplicate"
	ReasonMissingRequired = "missing_required"
	ReasonUnparsable      = "unparsable"
	ReasonOutOfRange      = "out_of_range"
)

// Drop records why one source row did not survive a stage.
type Drop struct {
	Line   int
	Reason string
	Fields []string
	Detail string
}

// StageReport summarizes one stage.
type StageReport struct {
	Name    string
	In      int
	Out     int
	Dropped []Drop

	// Cleared lists kept rows that had a field reset to missing, such as an
	// optional typed field that did not parse.
	Cleared []Drop
}

// Removed returns In - Out.
func (s StageReport) Removed() int { return s.In - s.Out }

// ReasonCounts groups the stage's drops by reason and field, e.g.
// "out_of_range:join_date" -> 2.
func (s StageReport) ReasonCounts() map[string]int { return countDrops(s.Dropped) }

func countDrops(drops []Drop) map[string]int {
	out := map[string]int{}
	for _, d := range drops {
		if len(d.Fields) == 0 {
			out[d.Reason]++
			continue
		}
		for _, f := range d.Fields {
			out[d.Reason+":"+f]++
		}
	}
	return out
}

// Report explains how a pipeline run got from Input rows to Output rows.
type Report struct {
	RunID  string
	Entity string
	Input  int
	Output int
	Stages []StageReport

	// StillMissing counts fields left missing after defaults were filled,
	// keyed by field name.
	StillMissing map[string]int
}

// Stage returns the named stage report.
func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Dropped returns every drop across all stages, in stage order.
func (r Report) Dropped() []Drop {
	var out []Drop
	for _, s := range r.Stages {
		out = append(out, s.Dropped...)
	}
	return out
}

// Summary renders the report as key=value log lines.
func (r Report) Summary() []string {
	lines := []string{
		fmt.Sprintf("entity=%s run_id=%s input_rows=%d output_rows=%d", r.Entity, r.RunID, r.Input, r.Output),
	}
	for _, s := range r.Stages {
		line := fmt.Sprintf("entity=%s stage=%s in=%d out=%d removed=%d", r.Entity, s.Name, s.In, s.Out, s.Removed())
		if rc := s.ReasonCounts(); len(rc) > 0 {
			line += " reasons=" + joinCounts(rc)
		}
		if len(s.Cleared) > 0 {
			line += " cleared=" + joinCounts(countDrops(s.Cleared))
		}
		lines = append(lines, line)
	}
	if len(r.StillMissing) > 0 {
		lines = append(lines, fmt.Sprintf("entity=%s still_missing=%s", r.Entity, joinCounts(r.StillMissing)))
	}
	return lines
}

func joinCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, ",")
}
