package warehouse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"smartsales/internal/records"
	"smartsales/internal/storage"
)

// ErrOrphanedReference is returned when sales reference a dimension key that
// does not exist and the dimension's policy is PolicyReject.
var ErrOrphanedReference = errors.New("warehouse: orphaned reference")

// OrphanPolicy says what to do with fact references to missing dimension rows.
type OrphanPolicy string

const (
	// PolicyRepair inserts a placeholder dimension row per missing key.
	PolicyRepair OrphanPolicy = "repair"
	// PolicyReject fails the load with ErrOrphanedReference.
	PolicyReject OrphanPolicy = "reject"
)

// ParsePolicy accepts "repair" or "reject" (case-insensitive).
func ParsePolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyRepair:
		return PolicyRepair, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q (want repair|reject)", s)
	}
}

// Policies holds the orphan policy per referenced dimension. Stores and
// campaigns are always derived from the sales themselves, so they cannot be
// orphaned.
type Policies struct {
	Customers OrphanPolicy
	Products  OrphanPolicy
}

// DefaultPolicies repairs missing customers and rejects missing products.
func DefaultPolicies() Policies {
	return Policies{Customers: PolicyRepair, Products: PolicyReject}
}

func (p Policies) withDefaults() Policies {
	d := DefaultPolicies()
	if p.Customers == "" {
		p.Customers = d.Customers
	}
	if p.Products == "" {
		p.Products = d.Products
	}
	return p
}

// placeholderJoinDate is the join date given to synthesized customers.
var placeholderJoinDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// maxListedOrphans caps how many ids an ErrOrphanedReference message lists.
const maxListedOrphans = 20

// tableRows is one table's insert payload.
type tableRows struct {
	Columns []string
	Rows    [][]any
}

// loadPlan is everything a load writes, computed before any statement runs.
type loadPlan struct {
	tables       map[string]tableRows
	placeholders map[string]int
}

// buildPlan projects the cleaned collections onto the warehouse tables,
// derives stores and campaigns, and applies the orphan policies.
func buildPlan(in Input, pol Policies) (loadPlan, error) {
	pol = pol.withDefaults()
	plan := loadPlan{
		tables:       make(map[string]tableRows, 5),
		placeholders: map[string]int{},
	}

	customers := project(in.Customers, customersTable())
	products := project(in.Products, productsTable())
	sales := projectSales(in.Sales)

	saleIdx := indexOf(sales.Columns)

	stores := tableRows{Columns: storesTable().ColumnNames()}
	for _, id := range distinct(sales.Rows, saleIdx["store_id"]) {
		stores.Rows = append(stores.Rows, []any{id, "Store-" + storage.NormalizeKey(id), nil})
	}
	campaigns := tableRows{Columns: campaignsTable().ColumnNames()}
	for _, id := range distinct(sales.Rows, saleIdx["campaign_id"]) {
		campaigns.Rows = append(campaigns.Rows, []any{id, "Campaign-" + storage.NormalizeKey(id)})
	}

	missingCustomers := missingRefs(customers.Rows, 0, sales.Rows, saleIdx["customer_id"])
	if len(missingCustomers) > 0 {
		if pol.Customers == PolicyReject {
			return plan, orphanError("customer_id", TableCustomers, missingCustomers)
		}
		for _, id := range missingCustomers {
			customers.Rows = append(customers.Rows, placeholderCustomer(id))
		}
		plan.placeholders[TableCustomers] = len(missingCustomers)
	}

	missingProducts := missingRefs(products.Rows, 0, sales.Rows, saleIdx["product_id"])
	if len(missingProducts) > 0 {
		if pol.Products == PolicyReject {
			return plan, orphanError("product_id", TableProducts, missingProducts)
		}
		for _, id := range missingProducts {
			products.Rows = append(products.Rows, placeholderProduct(id))
		}
		plan.placeholders[TableProducts] = len(missingProducts)
	}

	plan.tables[TableCustomers] = customers
	plan.tables[TableProducts] = products
	plan.tables[TableStores] = stores
	plan.tables[TableCampaigns] = campaigns
	plan.tables[TableSales] = sales
	return plan, nil
}

// project maps each record onto the table's columns. Fields the record lacks
// bind as NULL.
func project(c records.Collection, spec storage.TableSpec) tableRows {
	cols := spec.ColumnNames()
	out := tableRows{Columns: cols, Rows: make([][]any, 0, c.Len())}
	for _, rec := range c.Records {
		row := make([]any, len(cols))
		for i, col := range cols {
			row[i] = rec.Get(col).Bind()
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// projectSales projects sales and fills net_sale_amount.
func projectSales(c records.Collection) tableRows {
	out := project(c, salesTable())
	netIdx := indexOf(out.Columns)["net_sale_amount"]
	for i, rec := range c.Records {
		if net, ok := NetSaleAmount(rec.Get("sale_amount"), rec.Get("discount_percent")); ok {
			out.Rows[i][netIdx] = net
		}
	}
	return out
}

// NetSaleAmount returns amount * (1 - discount/100). A missing discount counts
// as zero; a missing amount yields false.
func NetSaleAmount(amount, discount records.Value) (float64, bool) {
	a, ok := amount.Number()
	if !ok {
		return 0, false
	}
	d, ok := discount.Number()
	if !ok {
		d = 0
	}
	return a * (1 - d/100), true
}

// distinct returns the non-NULL values of column idx in first-seen order.
func distinct(rows [][]any, idx int) []any {
	seen := map[string]bool{}
	var out []any
	for _, row := range rows {
		v := row[idx]
		k := storage.NormalizeKey(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// missingRefs returns the distinct non-NULL values of facts[fkIdx] that do not
// appear in dims[keyIdx], in first-seen order.
func missingRefs(dims [][]any, keyIdx int, facts [][]any, fkIdx int) []any {
	have := make(map[string]bool, len(dims))
	for _, row := range dims {
		have[storage.NormalizeKey(row[keyIdx])] = true
	}
	var out []any
	for _, v := range distinct(facts, fkIdx) {
		if !have[storage.NormalizeKey(v)] {
			out = append(out, v)
		}
	}
	return out
}

// placeholderCustomer matches customersTable's column order.
func placeholderCustomer(id any) []any {
	return []any{
		id,
		"Unknown Customer " + storage.NormalizeKey(id),
		"Unknown",
		placeholderJoinDate,
		int64(0),
		"Unknown",
	}
}

// placeholderProduct matches productsTable's column order.
func placeholderProduct(id any) []any {
	return []any{
		id,
		"Unknown Product " + storage.NormalizeKey(id),
		"Uncategorized",
		nil,
		int64(0),
		"Unknown",
	}
}

func orphanError(column, dim string, ids []any) error {
	shown := ids
	if len(shown) > maxListedOrphans {
		shown = shown[:maxListedOrphans]
	}
	parts := make([]string, 0, len(shown))
	for _, id := range shown {
		parts = append(parts, storage.NormalizeKey(id))
	}
	more := ""
	if len(ids) > len(shown) {
		more = fmt.Sprintf(" (and %d more)", len(ids)-len(shown))
	}
	return fmt.Errorf("%w: %d %s.%s value(s) missing from %s: %s%s",
		ErrOrphanedReference, len(ids), TableSales, column, dim, strings.Join(parts, ","), more)
}

func indexOf(columns []string) map[string]int {
	m := make(map[string]int, len(columns))
	for i, c := range columns {
		m[c] = i
	}
	return m
}
