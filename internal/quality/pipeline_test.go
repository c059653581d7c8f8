package quality

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartsales/internal/metrics"
	"smartsales/internal/records"
)

var fixedNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

// collectionOf builds a raw collection the way the CSV reader would: every
// column present, blank cells missing, everything else a string.
func collectionOf(rs RuleSet, rows ...map[string]string) records.Collection {
	c := records.Collection{Entity: rs.Entity, Columns: append([]string(nil), rs.Columns...)}
	for i, row := range rows {
		rec := records.NewRecord(i + 2)
		for _, col := range rs.Columns {
			rec.Set(col, records.FromCell(row[col]))
		}
		c.Records = append(c.Records, rec)
	}
	return c
}

func runPipeline(t *testing.T, rs RuleSet, in records.Collection) (records.Collection, Report) {
	t.Helper()
	p := &Pipeline{Rules: rs, Now: func() time.Time { return fixedNow }, RunID: "test-run"}
	out, rep, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	return out, rep
}

func customer(id, name, region, join, points string) map[string]string {
	return map[string]string{
		"customer_id":       id,
		"name":              name,
		"region":            region,
		"join_date":         join,
		"loyalty_points":    points,
		"preferred_contact": "email",
	}
}

func TestPipeline_DuplicateCustomerFirstWinsAndRegionNormalized(t *testing.T) {
	t.Parallel()

	in := collectionOf(CustomerRules(),
		customer("1", "Alice", "east", "2021-01-01", "50"),
		customer("1", "Alice", "EAST", "2021-01-01", "999"),
	)

	out, rep := runPipeline(t, CustomerRules(), in)

	require.Equal(t, 1, out.Len())
	rec := out.Records[0]
	id, ok := rec.Get("customer_id").IntVal()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "East", rec.Get("region").Text())
	assert.Equal(t, "50", rec.Get("loyalty_points").Text())
	assert.Equal(t, 2, rec.Line)

	st, ok := rep.Stage(StageDedupe)
	require.True(t, ok)
	assert.Equal(t, 1, st.Removed())
	require.Len(t, st.Dropped, 1)
	assert.Equal(t, 3, st.Dropped[0].Line)
	assert.Equal(t, ReasonDuplicate, st.Dropped[0].Reason)
}

func TestPipeline_CustomerOutliersDropped(t *testing.T) {
	t.Parallel()

	in := collectionOf(CustomerRules(),
		customer("1", "Early", "west", "2009-12-31", "10"),
		customer("2", "Negative", "west", "2021-03-01", "-5"),
		customer("3", "TooMany", "west", "2021-03-01", "10001"),
		customer("4", "Keeper", "west", "2010-01-01", "10000"),
		customer("5", "Future", "west", "2030-01-01", "1"),
	)

	out, rep := runPipeline(t, CustomerRules(), in)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, "Keeper", out.Records[0].Get("name").Text())

	st, ok := rep.Stage(StageOutliers)
	require.True(t, ok)
	assert.Equal(t, 4, st.Removed())
	counts := st.ReasonCounts()
	assert.Equal(t, 2, counts["out_of_range:join_date"])
	assert.Equal(t, 2, counts["out_of_range:loyalty_points"])
}

func TestPipeline_ProductRequiredAndDefaults(t *testing.T) {
	t.Parallel()

	in := collectionOf(ProductRules(),
		map[string]string{"product_id": "10", "product_name": "Laptop", "category": "electronics", "unit_price": "", "stock_quantity": "5", "supplier": "globaltech"},
		map[string]string{"product_id": "11", "product_name": "Mouse", "category": "", "unit_price": "19.99", "stock_quantity": "", "supplier": "MEGACORP"},
	)

	out, rep := runPipeline(t, ProductRules(), in)

	require.Equal(t, 1, out.Len())
	rec := out.Records[0]
	assert.Equal(t, "11", rec.Get("product_id").Text())
	assert.Equal(t, "Uncategorized", rec.Get("category").Text())
	assert.Equal(t, "0", rec.Get("stock_quantity").Text())
	assert.Equal(t, "MegaCorp", rec.Get("supplier").Text())

	price, ok := rec.Get("unit_price").FloatVal()
	require.True(t, ok)
	assert.InDelta(t, 19.99, price, 1e-9)

	st, _ := rep.Stage(StageMissing)
	require.Len(t, st.Dropped, 1)
	assert.Equal(t, []string{"unit_price"}, st.Dropped[0].Fields)
}

func TestPipeline_ProductCategoryTitleCasedAndPriceExclusive(t *testing.T) {
	t.Parallel()

	in := collectionOf(ProductRules(),
		map[string]string{"product_id": "1", "product_name": "Free", "category": "x", "unit_price": "0", "stock_quantity": "1", "supplier": "a"},
		map[string]string{"product_id": "2", "product_name": "Cam", "category": "  HOME goods ", "unit_price": "10000", "stock_quantity": "2000", "supplier": "Indie"},
	)

	out, _ := runPipeline(t, ProductRules(), in)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, "Home Goods", out.Records[0].Get("category").Text())
	assert.Equal(t, "Indie", out.Records[0].Get("supplier").Text())
}

func TestPipeline_SaleUnparsableRequiredDropsRecord(t *testing.T) {
	t.Parallel()

	sale := func(id, date, amount, discount, payment string) map[string]string {
		return map[string]string{
			"transaction_id": id, "sale_date": date, "customer_id": "1", "product_id": "2",
			"store_id": "3", "campaign_id": "", "sale_amount": amount,
			"discount_percent": discount, "payment_type": payment,
		}
	}

	in := collectionOf(SaleRules(),
		sale("100", "2024-02-01", "abc", "5", "cash"),
		sale("101", "not a date", "10", "5", "cash"),
		sale("102", "2024-02-01", "10", "oops", "cash"),
		sale("103", "2024-02-01", "250.5", "", "credit card"),
	)

	out, rep := runPipeline(t, SaleRules(), in)

	require.Equal(t, 1, out.Len())
	rec := out.Records[0]
	assert.Equal(t, "103", rec.Get("transaction_id").Text())
	assert.Equal(t, "0", rec.Get("campaign_id").Text())
	assert.Equal(t, "0", rec.Get("discount_percent").Text())
	assert.Equal(t, "Credit Card", rec.Get("payment_type").Text())
	assert.Equal(t, "2024-02-01", rec.Get("sale_date").Text())

	std, _ := rep.Stage(StageStandardize)
	assert.Equal(t, 2, std.Removed())
	outl, _ := rep.Stage(StageOutliers)
	assert.Equal(t, 1, outl.Removed(), "unparsable discount is missing and fails its bound")
	require.Len(t, std.Cleared, 1)
	assert.Equal(t, Drop{Line: 4, Reason: ReasonUnparsable, Fields: []string{"discount_percent"}, Detail: "kept, value cleared"}, std.Cleared[0])
}

func TestPipeline_UnparsableOptionalFieldIsReported(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	sale := map[string]string{
		"transaction_id": "200", "sale_date": "2024-02-01", "customer_id": "1", "product_id": "2",
		"store_id": "3", "campaign_id": "x", "sale_amount": "10",
		"discount_percent": "5", "payment_type": "cash",
	}
	p := &Pipeline{Rules: SaleRules(), Now: func() time.Time { return fixedNow }, RunID: "r", Logger: log.New(&logs, "", 0)}
	out, rep, err := p.Run(context.Background(), collectionOf(SaleRules(), sale))
	require.NoError(t, err)

	require.Equal(t, 1, out.Len())
	assert.True(t, out.Records[0].Get("campaign_id").IsMissing())

	std, _ := rep.Stage(StageStandardize)
	assert.Equal(t, 0, std.Removed())
	require.Len(t, std.Cleared, 1)
	assert.Equal(t, []string{"campaign_id"}, std.Cleared[0].Fields)
	assert.Contains(t, logs.String(), "level=warn stage=standardize entity=sale cleared=unparsable:campaign_id=1")
	assert.Contains(t, strings.Join(rep.Summary(), "\n"), "stage=standardize in=1 out=1 removed=0 cleared=unparsable:campaign_id=1")

	cust, crep := runPipeline(t, CustomerRules(), collectionOf(CustomerRules(), customer("7", "Gus", "east", "2021-01-01", "abc")))
	assert.Equal(t, 0, cust.Len())
	cstd, _ := crep.Stage(StageStandardize)
	require.Len(t, cstd.Cleared, 1)
	assert.Equal(t, 2, cstd.Cleared[0].Line)
	assert.Equal(t, []string{"loyalty_points"}, cstd.Cleared[0].Fields)
}

func TestPipeline_PlaceholdersBecomeMissing(t *testing.T) {
	t.Parallel()

	in := collectionOf(CustomerRules(),
		customer("1", "N/A", "east", "2021-01-01", "1"),
		customer("2", "Bob", "unknown", "2021-01-01", "null"),
		customer("3", "Carol", " ", "2021-01-01", "NONE"),
	)

	out, rep := runPipeline(t, CustomerRules(), in)

	require.Equal(t, 2, out.Len())
	for _, rec := range out.Records {
		assert.Equal(t, "Unknown", rec.Get("region").Text())
		assert.Equal(t, "0", rec.Get("loyalty_points").Text())
	}
	st, _ := rep.Stage(StageMissing)
	require.Len(t, st.Dropped, 1)
	assert.Equal(t, 2, st.Dropped[0].Line)
}

func TestPipeline_CleanedRecordInvariants(t *testing.T) {
	t.Parallel()

	in := collectionOf(CustomerRules(),
		customer("1", "A", "east", "2021-01-01", "5"),
		customer(" 1", "A2", "west", "2021-01-01", "5"),
		customer("01", "A3", "west", "2021-01-01", "5"),
		customer("2", "", "west", "2021-01-01", "5"),
		customer("3", "C", "south-west", "2015-05-05", "abc"),
		customer("4", "D", "North", "05/06/2019", "7.0"),
		customer("x", "E", "north", "2019-01-01", "1"),
	)

	rs := CustomerRules()
	out, rep := runPipeline(t, rs, in)

	seen := map[string]bool{}
	for _, rec := range out.Records {
		k := records.Key(rec, rs.DedupKey)
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true

		assert.Empty(t, rec.MissingFields(rs.Required))

		for f, b := range rs.NumericBounds {
			x, ok := rec.Get(f).Number()
			require.True(t, ok, "field %s", f)
			assert.True(t, b.Contains(x), "field %s=%v outside %s", f, x, b)
		}
		for f, b := range rs.DateBounds {
			d, ok := rec.Get(f).TimeVal()
			require.True(t, ok)
			lo, hi := b.resolve(fixedNow)
			assert.False(t, d.Before(lo) || d.After(hi))
		}
	}

	assert.Equal(t, rep.Output, out.Len())
	total := 0
	for _, s := range rep.Stages {
		total += s.Removed()
	}
	assert.Equal(t, rep.Input-rep.Output, total, "every dropped row is accounted for")
	assert.Len(t, rep.Dropped(), total)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	t.Parallel()

	rs := SaleRules()
	in := collectionOf(rs,
		map[string]string{"transaction_id": "1"},
		map[string]string{"transaction_id": "2"},
		map[string]string{"transaction_id": "1"},
		map[string]string{"transaction_id": "3"},
		map[string]string{"transaction_id": "2"},
	)

	once, drops := Deduplicate(rs, in.Records)
	require.Len(t, once, 3)
	assert.Len(t, drops, 2)

	twice, drops2 := Deduplicate(rs, once)
	assert.Equal(t, once, twice)
	assert.Empty(t, drops2)
}

func TestPipeline_ConfigErrorBeforeProcessing(t *testing.T) {
	t.Parallel()

	in := records.Collection{
		Entity:  EntityCustomer,
		Columns: []string{"customer_id", "name"},
		Records: []records.Record{records.NewRecord(2)},
	}

	p := &Pipeline{Rules: CustomerRules()}
	_, rep, err := p.Run(context.Background(), in)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "join_date")
	assert.Empty(t, rep.Stages)
}

func TestPipeline_UncoveredColumnIsConfigError(t *testing.T) {
	t.Parallel()

	rs := CustomerRules()
	in := collectionOf(rs, customer("1", "A", "east", "2021-01-01", "1"))
	in.Columns = append(in.Columns, "notes")

	p := &Pipeline{Rules: rs}
	_, _, err := p.Run(context.Background(), in)
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "notes")
}

func TestPipeline_EmptyInput(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Rules: ProductRules()}
	_, _, err := p.Run(context.Background(), collectionOf(ProductRules()))
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestPipeline_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{Rules: ProductRules()}
	_, _, err := p.Run(ctx, collectionOf(ProductRules(), map[string]string{"product_id": "1"}))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := collectionOf(CustomerRules(), customer("1", " Alice ", "east", "2021-01-01", "n/a"))
	_, _ = runPipeline(t, CustomerRules(), in)

	assert.Equal(t, " Alice ", in.Records[0].Get("name").Text())
	assert.Equal(t, "n/a", in.Records[0].Get("loyalty_points").Text())
}

type countingBackend struct {
	metrics.Nop
	counters map[string]float64
}

func (c *countingBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c.counters[name+"|"+labels["entity"]+"|"+labels["kind"]] += delta
}

func TestPipeline_LogsAndMetrics(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mb := &countingBackend{counters: map[string]float64{}}
	p := &Pipeline{
		Rules:   CustomerRules(),
		Now:     func() time.Time { return fixedNow },
		RunID:   "r1",
		Logger:  log.New(&buf, "", 0),
		Metrics: mb,
	}
	in := collectionOf(CustomerRules(),
		customer("1", "A", "east", "2021-01-01", "1"),
		customer("1", "A", "east", "2021-01-01", "1"),
	)
	_, _, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2.0, mb.counters["etl_records_total|customer|input"])
	assert.Equal(t, 1.0, mb.counters["etl_records_total|customer|duplicate"])
	assert.Equal(t, 1.0, mb.counters["etl_records_total|customer|output"])
	assert.True(t, strings.Contains(buf.String(), "stage=dedupe entity=customer run_id=r1 in=2 out=1 removed=1"), buf.String())
}

func TestReport_Summary(t *testing.T) {
	t.Parallel()

	rep := Report{
		RunID: "r", Entity: "sale", Input: 3, Output: 1,
		Stages: []StageReport{
			{Name: StageDedupe, In: 3, Out: 2, Dropped: []Drop{{Line: 4, Reason: ReasonDuplicate}}},
			{Name: StageOutliers, In: 2, Out: 1, Dropped: []Drop{{Line: 3, Reason: ReasonOutOfRange, Fields: []string{"sale_amount"}}}},
		},
	}
	lines := rep.Summary()
	require.Len(t, lines, 3)
	assert.Equal(t, "entity=sale run_id=r input_rows=3 output_rows=1", lines[0])
	assert.Equal(t, "entity=sale stage=dedupe in=3 out=2 removed=1 reasons=duplicate=1", lines[1])
	assert.Equal(t, "entity=sale stage=reject_outliers in=2 out=1 removed=1 reasons=out_of_range:sale_amount=1", lines[2])
}

func TestCoerce_TypesPreparedTextAndIsStable(t *testing.T) {
	t.Parallel()

	in := collectionOf(SaleRules(), map[string]string{
		"transaction_id":   "100",
		"sale_date":        "2024-03-01",
		"customer_id":      "1",
		"product_id":       "10",
		"store_id":         "404",
		"campaign_id":      "0",
		"sale_amount":      "200",
		"discount_percent": "10",
		"payment_type":     "Cash",
	}, map[string]string{
		"transaction_id": "oops",
		"sale_date":      "2024-03-01",
		"customer_id":    "1",
		"product_id":     "10",
		"store_id":       "404",
		"sale_amount":    "1",
	})

	out, drops := Coerce(SaleRules(), in)
	require.Equal(t, 1, out.Len())
	require.Len(t, drops, 1)
	assert.Equal(t, ReasonUnparsable, drops[0].Reason)
	assert.Equal(t, []string{"transaction_id"}, drops[0].Fields)

	rec := out.Records[0]
	assert.Equal(t, records.KindInt, rec.Get("store_id").Kind())
	assert.Equal(t, records.KindFloat, rec.Get("sale_amount").Kind())
	assert.Equal(t, records.KindTime, rec.Get("sale_date").Kind())
	assert.Equal(t, "Cash", rec.Get("payment_type").Text())

	again, drops := Coerce(SaleRules(), out)
	assert.Empty(t, drops)
	assert.True(t, again.Records[0].Get("sale_amount").Equal(rec.Get("sale_amount")))
}
