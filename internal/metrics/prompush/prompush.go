// Package prompush implements metrics.Backend on a Prometheus Pushgateway.
//
// Batch jobs end before a scraper would see them, so samples go into a private
// registry and the whole group is pushed (replacing the previous push) on
// Flush and Close.
package prompush

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"smartsales/internal/metrics"
)

// Backend implements metrics.Backend.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps        *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	records      *prometheus.CounterVec
	rowsLoaded   *prometheus.CounterVec
	placeholders *prometheus.CounterVec

	closeOnce sync.Once
	closeErr  error
}

// NewBackend pushes job's metrics to the Pushgateway at url. Grouping labels
// are added to the push path, e.g. {"instance": host}.
func NewBackend(job, url string, grouping map[string]string) (*Backend, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "smartsales"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Finished pipeline and load steps.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDuration,
			Help:    "Step wall time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records per entity by outcome.",
		}, []string{"entity", "kind"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsLoadedTotal,
			Help: "Rows inserted per warehouse table.",
		}, []string{"table"}),
		placeholders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.PlaceholderRowsTotal,
			Help: "Synthesized dimension rows per table.",
		}, []string{"table"}),
	}
	for _, c := range []prometheus.Collector{b.steps, b.durations, b.records, b.rowsLoaded, b.placeholders} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(url, job).Gatherer(b.reg)
	for k, v := range grouping {
		b.pusher = b.pusher.Grouping(k, v)
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(labels["entity"], labels["kind"]).Add(delta)
	case metrics.RowsLoadedTotal:
		b.rowsLoaded.WithLabelValues(labels["table"]).Add(delta)
	case metrics.PlaceholderRowsTotal:
		b.placeholders.WithLabelValues(labels["table"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || value < 0 {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes every collected series, replacing the job's group on the
// gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Close pushes one last time. Later calls return the first result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { b.closeErr = b.Flush() })
	return b.closeErr
}

var _ metrics.Backend = (*Backend)(nil)
