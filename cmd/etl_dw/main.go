// Command etl_dw loads the prepared files into the warehouse and verifies
// referential integrity.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"smartsales/internal/config"
	"smartsales/internal/metrics"
	"smartsales/internal/metrics/datadog"
	"smartsales/internal/metrics/setup"
	"smartsales/internal/prepare"
	"smartsales/internal/quality"
	"smartsales/internal/storage"
	"smartsales/internal/warehouse"

	// every backend is compiled in; config selects one by kind.
	_ "smartsales/internal/storage/all"
)

type runner interface {
	Run(ctx context.Context, cfg storage.Config, in warehouse.Input) (warehouse.LoadResult, warehouse.Verification, error)
}

// appDeps are the side-effecting collaborators of runMain.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	initMetrics func(ctx context.Context, opts setup.Options) (metrics.Backend, func(), error)
	readInput   func(ctx context.Context, cfg config.Config, logger *log.Logger) (warehouse.Input, error)
	newRunner   func(pol warehouse.Policies, logger *log.Logger, m metrics.Backend) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		initMetrics: setup.Init,
		readInput: func(ctx context.Context, cfg config.Config, logger *log.Logger) (warehouse.Input, error) {
			return prepare.ReadPrepared(ctx, cfg, logger)
		},
		newRunner: func(pol warehouse.Policies, logger *log.Logger, m metrics.Backend) runner {
			r := warehouse.NewDefaultRunner()
			r.Policies = pol
			r.Logger = logger
			r.Metrics = m
			return r
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 ok, 1 failure, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl_dw", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        = fs.String("config", "", "optional JSON job file overlaid on SMARTSALES_* env")
		kind           = fs.String("kind", "", "warehouse kind (sqlite|postgres|mssql); overrides config")
		dsn            = fs.String("dsn", "", "warehouse DSN or sqlite file; overrides config")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend (none|datadog|pushgateway); overrides config")
		pushgatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL; overrides config")
		validateOnly   = fs.Bool("validate", false, "validate the configuration and exit")
		verbose        = fs.Bool("v", false, "log every stage")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: etl_dw [-config job.json] [-kind sqlite|postgres|mssql] [-dsn dsn] [-validate] [-v]\n")
		return 2
	}

	cfg, err := deps.loadConfig(strings.TrimSpace(*cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if *kind != "" {
		cfg.Warehouse.Kind = *kind
	}
	if *dsn != "" {
		cfg.Warehouse.DSN = *dsn
	}
	if *metricsBackend != "" {
		cfg.Metrics.Backend = *metricsBackend
	}
	if *pushgatewayURL != "" {
		cfg.Metrics.PushgatewayURL = *pushgatewayURL
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid\n")
		return 1
	}
	pol, err := cfg.Warehouse.Policies()
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	if *validateOnly {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	logOut := io.Discard
	if *verbose {
		logOut = stderr
	}
	logger := log.New(logOut, "", log.LstdFlags)

	in, err := deps.readInput(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, quality.ErrEmptyInput) {
			fmt.Fprintf(stderr, "read prepared: %v; load skipped\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "read prepared: %v\n", err)
		return 1
	}

	m, cleanup, err := deps.initMetrics(ctx, setup.Options{
		Backend:        cfg.Metrics.Backend,
		JobName:        cfg.Job,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		Tags:           datadog.ParseTagsCSV(cfg.Metrics.Tags),
	})
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	res, ver, err := deps.newRunner(pol, logger, m).Run(ctx, cfg.Warehouse.StorageConfig(), in)
	if ver.Counts != nil {
		for _, line := range ver.Summary() {
			fmt.Fprintln(stdout, line)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	tables := make([]string, 0, len(res.Placeholders))
	for table := range res.Placeholders {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Fprintf(stdout, "placeholders table=%s rows=%d\n", table, res.Placeholders[table])
	}
	fmt.Fprintf(stdout, "ok run_id=%s\n", res.RunID)
	return 0
}
