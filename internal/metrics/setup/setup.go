// Package setup selects and builds the metrics backend named on the command
// line or in the job config.
package setup

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"smartsales/internal/metrics"
	"smartsales/internal/metrics/datadog"
	"smartsales/internal/metrics/prompush"
)

// DefaultPushgatewayURL is used when the pushgateway backend has no URL.
const DefaultPushgatewayURL = "http://localhost:9091"

// Options names the backend and its settings.
type Options struct {
	Backend        string // none|datadog|pushgateway
	JobName        string
	PushgatewayURL string
	Tags           []string
}

// Seams replaced in tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metrics.Backend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string, grouping map[string]string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url, grouping)
	}
	logPrintf = log.Printf
	hostname  = os.Hostname
)

// Init builds the backend. The returned cleanup is never nil and must be
// called once; it flushes and closes the backend, logging (not returning) any
// error. With backend none the result is metrics.Nop{}.
func Init(ctx context.Context, opts Options) (metrics.Backend, func(), error) {
	noop := func() {}
	name := strings.ToLower(strings.TrimSpace(opts.Backend))

	switch name {
	case "", "none", "noop":
		return metrics.Nop{}, noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    opts.JobName,
			Tags:       opts.Tags,
			FlushEvery: time.Minute,
		})
		if err != nil {
			return metrics.Nop{}, noop, err
		}
		return b, closer(b, "datadog"), nil

	case "pushgateway", "prometheus":
		url := opts.PushgatewayURL
		if url == "" {
			url = DefaultPushgatewayURL
		}
		grouping := map[string]string{}
		if h, err := hostname(); err == nil && h != "" {
			grouping["instance"] = h
		}
		b, err := newPushBackend(opts.JobName, url, grouping)
		if err != nil {
			return metrics.Nop{}, noop, err
		}
		return b, closer(b, "pushgateway"), nil

	default:
		return metrics.Nop{}, noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", opts.Backend)
	}
}

func closer(b metrics.Backend, name string) func() {
	return func() {
		if err := b.Close(); err != nil {
			logPrintf("metrics: %s close error: %v", name, err)
		}
	}
}
