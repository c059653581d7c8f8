// Package metrics defines the small metrics surface the pipeline and loader
// report through. Backends (Datadog, Prometheus Pushgateway) live in
// subpackages; callers hold a Backend value explicitly, there is no global.
package metrics

import "time"

// Labels are metric dimensions, e.g. {"step": "dedupe", "status": "ok"}.
type Labels map[string]string

// Metric names shared by every backend.
const (
	StepTotal            = "etl_step_total"
	StepDuration         = "etl_step_duration_seconds"
	RecordsTotal         = "etl_records_total"
	RowsLoadedTotal      = "etl_rows_loaded_total"
	PlaceholderRowsTotal = "etl_placeholder_rows_total"
)

// Backend receives counters and histogram samples.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush submits buffered data. Backends without buffering return nil.
	Flush() error
	// Close flushes and releases resources. Call once.
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

// OrNop returns b, or Nop when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

// RecordStep counts a finished step and observes its duration.
func RecordStep(b Backend, step, status string, d time.Duration) {
	b = OrNop(b)
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// AddRecords counts records of one entity by outcome kind
// (input, duplicate, missing_required, unparsable, outlier, output).
func AddRecords(b Backend, entity, kind string, n int) {
	if n <= 0 {
		return
	}
	OrNop(b).IncCounter(RecordsTotal, float64(n), Labels{"entity": entity, "kind": kind})
}

// AddRowsLoaded counts rows inserted into a warehouse table.
func AddRowsLoaded(b Backend, table string, n int64) {
	if n <= 0 {
		return
	}
	OrNop(b).IncCounter(RowsLoadedTotal, float64(n), Labels{"table": table})
}

// AddPlaceholderRows counts synthesized dimension rows.
func AddPlaceholderRows(b Backend, table string, n int) {
	if n <= 0 {
		return
	}
	OrNop(b).IncCounter(PlaceholderRowsTotal, float64(n), Labels{"table": table})
}
