package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"smartsales/internal/storage"
)

// Verification is a read-only snapshot of the warehouse after a load.
type Verification struct {
	// Counts holds the row count per table.
	Counts map[string]int64

	// Orphans holds, per sales foreign key column, the number of sales whose
	// non-NULL reference has no dimension row.
	Orphans map[string]int64
}

// UnmatchedCustomers is the number of sales whose customer_id does not
// resolve.
func (v Verification) UnmatchedCustomers() int64 { return v.Orphans["customer_id"] }

// OK reports whether every sales reference resolves.
func (v Verification) OK() bool {
	for _, n := range v.Orphans {
		if n != 0 {
			return false
		}
	}
	return true
}

// Summary renders the verification as key=value log lines.
func (v Verification) Summary() []string {
	var out []string
	for _, t := range DeleteOrder() {
		if n, ok := v.Counts[t]; ok {
			out = append(out, fmt.Sprintf("table=%s rows=%d", t, n))
		}
	}
	cols := make([]string, 0, len(v.Orphans))
	for c := range v.Orphans {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s:%d", c, v.Orphans[c]))
	}
	out = append(out, "orphans="+strings.Join(parts, ","))
	return out
}

// Verifier reads row counts and unresolved references. It never writes.
type Verifier struct {
	Store storage.Warehouse
}

func (v *Verifier) Verify(ctx context.Context) (Verification, error) {
	if v.Store == nil {
		return Verification{}, fmt.Errorf("warehouse: Store is required")
	}
	out := Verification{Counts: map[string]int64{}, Orphans: map[string]int64{}}

	for _, spec := range Tables() {
		n, err := v.Store.CountRows(ctx, spec.Name)
		if err != nil {
			return out, err
		}
		out.Counts[spec.Name] = n
	}
	for _, fk := range SaleForeignKeys() {
		n, err := v.Store.CountOrphans(ctx, TableSales, fk)
		if err != nil {
			return out, err
		}
		out.Orphans[fk.Column] = n
	}
	return out, nil
}
