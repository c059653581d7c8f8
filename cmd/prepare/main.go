// Command prepare cleans the raw customer, product and sales files into
// <name>_prepared.csv files.
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
	"strings"
	"syscall"

	"smartsales/internal/config"
	"smartsales/internal/metrics"
	"smartsales/internal/metrics/datadog"
	"smartsales/internal/metrics/setup"
	"smartsales/internal/prepare"
)

type preparer interface {
	Run(ctx context.Context) (prepare.Result, error)
}

// appDeps are the side-effecting collaborators of runMain.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	initMetrics func(ctx context.Context, opts setup.Options) (metrics.Backend, func(), error)
	newPreparer func(cfg config.Config, logger *log.Logger, m metrics.Backend) preparer
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		initMetrics: setup.Init,
		newPreparer: func(cfg config.Config, logger *log.Logger, m metrics.Backend) preparer {
			return &prepare.Job{Config: cfg, Logger: logger, Metrics: m}
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
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        = fs.String("config", "", "optional JSON job file overlaid on SMARTSALES_* env")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend (none|datadog|pushgateway); overrides config")
		pushgatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL; overrides config")
		validateOnly   = fs.Bool("validate", false, "validate the configuration and exit")
		verbose        = fs.Bool("v", false, "log every stage")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: prepare [-config job.json] [-metrics-backend name] [-validate] [-v]\n")
		return 2
	}

	cfg, err := deps.loadConfig(strings.TrimSpace(*cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
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
	if *validateOnly {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	logOut := io.Discard
	if *verbose {
		logOut = stderr
	}
	logger := log.New(logOut, "", log.LstdFlags)

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

	res, err := deps.newPreparer(cfg, logger, m).Run(ctx)
	for _, er := range res.Entities {
		if er.Err != nil {
			fmt.Fprintf(stdout, "%s: skipped (%v)\n", er.Entity, er.Err)
			continue
		}
		fmt.Fprintf(stdout, "%s: %d -> %d rows, %s\n", er.Entity, er.Report.Input, er.Report.Output, er.Output)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "run: interrupted\n")
			return 1
		}
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	return 0
}
