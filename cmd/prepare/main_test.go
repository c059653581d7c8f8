package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"

	"smartsales/internal/config"
	"smartsales/internal/metrics"
	"smartsales/internal/metrics/setup"
	"smartsales/internal/prepare"
	"smartsales/internal/quality"
)

type fakePreparer struct {
	res   prepare.Result
	err   error
	calls atomic.Int64
}

func (p *fakePreparer) Run(context.Context) (prepare.Result, error) {
	p.calls.Add(1)
	return p.res, p.err
}

func validConfig() config.Config {
	return config.Config{
		Job:         "job1",
		RawDir:      "raw",
		PreparedDir: "prepared",
		Inputs:      config.Inputs{Customers: "c.csv", Products: "p.csv", Sales: "s.xlsx"},
		Warehouse: config.WarehouseConfig{
			Kind:         "sqlite",
			DSN:          "dw.db",
			OrphanPolicy: config.OrphanPolicyConfig{Customers: "repair", Products: "reject"},
		},
		Metrics: config.MetricsConfig{Backend: "none"},
	}
}

// mustNotRun fails the test if any side-effecting seam is reached.
func mustNotRun(t *testing.T) appDeps {
	return appDeps{
		loadConfig: func(string) (config.Config, error) {
			t.Fatalf("loadConfig must not be called on usage errors")
			return config.Config{}, nil
		},
		initMetrics: func(context.Context, setup.Options) (metrics.Backend, func(), error) {
			t.Fatalf("initMetrics must not be called on usage errors")
			return nil, nil, nil
		},
		newPreparer: func(config.Config, *log.Logger, metrics.Backend) preparer {
			t.Fatalf("newPreparer must not be called on usage errors")
			return nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
		{name: "positional_arg", args: []string{"extra"}, wantStderrSub: "usage: prepare"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, mustNotRun(t))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	t.Parallel()

	okResult := prepare.Result{Entities: []prepare.EntityResult{
		{Entity: quality.EntityCustomer, Output: "prepared/c_prepared.csv", Report: quality.Report{Input: 6, Output: 2}},
		{Entity: quality.EntitySale, Err: quality.ErrEmptyInput},
	}}

	tests := []struct {
		name             string
		args             []string
		loadErr          error
		badConfig        bool
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdoutSub    string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "load_config_error", args: []string{"-config", "job.json"}, loadErr: errors.New("read job file: no such file"), wantCode: 1, wantStderrSub: "load config: read job file: no such file"},
		{name: "invalid_config", badConfig: true, wantCode: 1, wantStderrSub: "configuration is invalid"},
		{name: "validate_only", args: []string{"-validate"}, wantCode: 0, wantStdoutSub: "configuration is valid"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{name: "run_error_runs_cleanup", runErr: errors.New("sale: empty"), wantCode: 1, wantStderrSub: "run:", wantStdoutSub: "sale: skipped", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "success", args: []string{"-config", "job.json", "-v"}, wantCode: 0, wantStdoutSub: "customer: 6 -> 2 rows, prepared/c_prepared.csv", wantRunnerCalls: 1, wantCleanupCalls: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fp := &fakePreparer{res: okResult, err: tc.runErr}
			var cleanupCalls atomic.Int64

			deps := appDeps{
				loadConfig: func(path string) (config.Config, error) {
					wantPath := ""
					for i, a := range tc.args {
						if a == "-config" && i+1 < len(tc.args) {
							wantPath = tc.args[i+1]
						}
					}
					if path != wantPath {
						t.Fatalf("loadConfig path=%q, want %q", path, wantPath)
					}
					cfg := validConfig()
					if tc.badConfig {
						cfg.Warehouse.Kind = "oracle"
					}
					return cfg, tc.loadErr
				},
				initMetrics: func(_ context.Context, opts setup.Options) (metrics.Backend, func(), error) {
					if opts.Backend != "none" {
						t.Fatalf("backend=%q, want none", opts.Backend)
					}
					if tc.initMetricsErr != nil {
						return metrics.Nop{}, func() {}, tc.initMetricsErr
					}
					return metrics.Nop{}, func() { cleanupCalls.Add(1) }, nil
				},
				newPreparer: func(cfg config.Config, _ *log.Logger, _ metrics.Backend) preparer {
					return fp
				},
			}

			code := runMain(context.Background(), tc.args, &stdout, &stderr, deps)
			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutSub != "" && !strings.Contains(stdout.String(), tc.wantStdoutSub) {
				t.Fatalf("stdout=%q, want contains %q", stdout.String(), tc.wantStdoutSub)
			}
			if got := fp.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_FlagsOverrideMetricsConfig(t *testing.T) {
	t.Parallel()

	var got setup.Options
	deps := appDeps{
		loadConfig: func(string) (config.Config, error) { return validConfig(), nil },
		initMetrics: func(_ context.Context, opts setup.Options) (metrics.Backend, func(), error) {
			got = opts
			return metrics.Nop{}, func() {}, nil
		},
		newPreparer: func(config.Config, *log.Logger, metrics.Backend) preparer { return &fakePreparer{} },
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-metrics-backend", "pushgateway", "-pushgateway-url", "http://gw:9091"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if got.Backend != "pushgateway" || got.PushgatewayURL != "http://gw:9091" || got.JobName != "job1" {
		t.Fatalf("metrics options=%+v", got)
	}
}
