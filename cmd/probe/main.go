// Command probe profiles the raw customer, product and sales files without
// writing anything: header coverage, fill rates, inferred cell types, cells
// that would fail the declared type, and raw duplicate keys.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"smartsales/internal/config"
	"smartsales/internal/probe"
	"smartsales/internal/quality"
)

type appDeps struct {
	loadConfig func(path string) (config.Config, error)
	profile    func(ctx context.Context, cfg config.Config, entity string) (probe.Profile, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		profile:    probe.Entity,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns 0 when every requested file fits its rule set, 1 otherwise
// and 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "optional JSON job file overlaid on SMARTSALES_* env")
	entity := fs.String("entity", "", "profile only this entity (customer|product|sale)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: probe [-config job.json] [-entity name]\n")
		return 2
	}

	entities := quality.Entities()
	if e := strings.TrimSpace(*entity); e != "" {
		if _, ok := quality.RulesFor(e); !ok {
			fmt.Fprintf(stderr, "unknown entity %q (want %s)\n", e, strings.Join(entities, "|"))
			return 2
		}
		entities = []string{e}
	}

	cfg, err := deps.loadConfig(strings.TrimSpace(*cfgPath))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	code := 0
	for i, e := range entities {
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(stderr, "probe: interrupted\n")
			return 1
		}
		p, err := deps.profile(ctx, cfg, e)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			code = 1
			continue
		}
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		if err := p.Render(stdout); err != nil {
			fmt.Fprintf(stderr, "write: %v\n", err)
			return 1
		}
		if p.SchemaErr != nil {
			code = 1
		}
	}
	return code
}
