package warehouse

import (
	"context"
	"fmt"

	"smartsales/internal/metrics"
	"smartsales/internal/storage"
)

// Runner opens the configured store, loads Input and verifies the result.
type Runner struct {
	// storage-agnostic factory seam
	NewWarehouse func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error)

	Policies Policies
	RunID    string
	Logger   Logger
	Metrics  metrics.Backend
}

// NewDefaultRunner returns a Runner backed by the storage registry. Backends
// must be registered (see storage/all).
func NewDefaultRunner() *Runner {
	return &Runner{NewWarehouse: storage.New}
}

// Run loads in and verifies it. A verification with unresolved references is
// returned together with an error.
func (r *Runner) Run(ctx context.Context, cfg storage.Config, in Input) (LoadResult, Verification, error) {
	open := r.NewWarehouse
	if open == nil {
		open = storage.New
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return LoadResult{}, Verification{}, fmt.Errorf("open %s warehouse: %w", cfg.Kind, err)
	}
	defer store.Close()

	loader := &Loader{Store: store, Policies: r.Policies, RunID: r.RunID, Logger: r.Logger, Metrics: r.Metrics}
	res, err := loader.Load(ctx, in)
	if err != nil {
		return res, Verification{}, err
	}

	ver, err := (&Verifier{Store: store}).Verify(ctx)
	if err != nil {
		return res, ver, fmt.Errorf("verify: %w", err)
	}
	if r.Logger != nil {
		for _, line := range ver.Summary() {
			r.Logger.Printf("stage=verify run_id=%s %s", res.RunID, line)
		}
	}
	if !ver.OK() {
		return res, ver, fmt.Errorf("verify: unresolved sales references: %v", ver.Orphans)
	}
	return res, ver, nil
}
