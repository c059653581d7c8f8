package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeWarehouse struct{ closed int }

func (f *fakeWarehouse) Close()                                           { f.closed++ }
func (f *fakeWarehouse) Begin(ctx context.Context) (Tx, error)            { return nil, errors.New("no tx") }
func (f *fakeWarehouse) CountRows(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeWarehouse) CountOrphans(context.Context, string, ForeignKeySpec) (int64, error) {
	return 0, nil
}

func TestRegisterAndNew(t *testing.T) {
	want := &fakeWarehouse{}
	var gotDSN string
	Register("fake-registry-test", func(ctx context.Context, cfg Config) (Warehouse, error) {
		gotDSN = cfg.DSN
		return want, nil
	})

	w, err := New(context.Background(), Config{Kind: "fake-registry-test", DSN: "mem"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w != want {
		t.Fatalf("New returned %v, want registered warehouse", w)
	}
	if gotDSN != "mem" {
		t.Fatalf("dsn=%q want mem", gotDSN)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-registry-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v, missing fake-registry-test", Kinds())
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("err=%v want ErrUnsupportedKind", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	cases := []struct {
		name string
		kind string
		f    Factory
	}{
		{"empty kind", "", func(context.Context, Config) (Warehouse, error) { return nil, nil }},
		{"nil factory", "fake-nil", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tc.kind, tc.f)
		})
	}

	Register("fake-dup", func(context.Context, Config) (Warehouse, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("fake-dup", func(context.Context, Config) (Warehouse, error) { return nil, nil })
}

func TestRowsPerStatement(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cols, params, rows, want int
	}{
		{cols: 10, params: 2100, rows: 1000, want: 210},
		{cols: 1, params: 2100, rows: 1000, want: 1000},
		{cols: 8, params: 999, rows: 0, want: 124},
		{cols: 5000, params: 999, rows: 0, want: 1},
		{cols: 0, params: 100, rows: 0, want: 100},
	}
	for _, tc := range cases {
		if got := RowsPerStatement(tc.cols, tc.params, tc.rows); got != tc.want {
			t.Fatalf("RowsPerStatement(%d,%d,%d)=%d want %d", tc.cols, tc.params, tc.rows, got, tc.want)
		}
	}
}

func TestTableSpecValidate(t *testing.T) {
	t.Parallel()

	notNull := false
	good := TableSpec{
		Name:       "sales",
		PrimaryKey: []string{"transaction_id"},
		Columns: []ColumnSpec{
			{Name: "transaction_id", Type: TypeInteger, Nullable: &notNull},
			{Name: "customer_id", Type: TypeInteger},
			{Name: "sale_date", Type: TypeDate},
		},
		ForeignKeys: []ForeignKeySpec{{Column: "customer_id", RefTable: "customers", RefColumn: "customer_id"}},
		Indexes:     []IndexSpec{{Name: "idx_sales_date", Columns: []string{"sale_date"}}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if good.Columns[0].IsNullable() || !good.Columns[1].IsNullable() {
		t.Fatalf("nullability not honored")
	}
	if got := strings.Join(good.ColumnNames(), ","); got != "transaction_id,customer_id,sale_date" {
		t.Fatalf("ColumnNames=%s", got)
	}
	if !good.IsPrimaryKey("transaction_id") || good.IsPrimaryKey("customer_id") {
		t.Fatalf("IsPrimaryKey wrong")
	}

	bad := []func(*TableSpec){
		func(s *TableSpec) { s.Name = "" },
		func(s *TableSpec) { s.Columns = nil },
		func(s *TableSpec) { s.PrimaryKey = []string{"nope"} },
		func(s *TableSpec) { s.ForeignKeys = []ForeignKeySpec{{Column: "nope", RefTable: "x", RefColumn: "y"}} },
		func(s *TableSpec) { s.ForeignKeys = []ForeignKeySpec{{Column: "customer_id"}} },
		func(s *TableSpec) { s.Indexes = []IndexSpec{{Name: "i", Columns: []string{"nope"}}} },
		func(s *TableSpec) { s.Columns = append(s.Columns, ColumnSpec{Name: "x", Type: "blob"}) },
		func(s *TableSpec) { s.Columns = append(s.Columns, ColumnSpec{Name: "sale_date", Type: TypeDate}) },
	}
	for i, mutate := range bad {
		s := good
		s.Columns = append([]ColumnSpec(nil), good.Columns...)
		mutate(&s)
		if err := s.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{" 7 ", "7"},
		{[]byte("7"), "7"},
		{int64(7), "7"},
		{7, "7"},
		{float64(7), "7"},
		{7.5, "7.5"},
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-01-01T00:00:00Z"},
	}
	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%#v)=%q want %q", tc.in, got, tc.want)
		}
	}
}
