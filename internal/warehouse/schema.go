package warehouse

import "smartsales/internal/storage"

// Warehouse table names.
const (
	TableCustomers = "customers"
	TableProducts  = "products"
	TableStores    = "stores"
	TableCampaigns = "campaigns"
	TableSales     = "sales"
)

func notNull() *bool {
	v := false
	return &v
}

func customersTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableCustomers,
		PrimaryKey: []string{"customer_id"},
		Columns: []storage.ColumnSpec{
			{Name: "customer_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "name", Type: storage.TypeText, Nullable: notNull()},
			{Name: "region", Type: storage.TypeText},
			{Name: "join_date", Type: storage.TypeDate},
			{Name: "loyalty_points", Type: storage.TypeInteger},
			{Name: "preferred_contact", Type: storage.TypeText},
		},
	}
}

func productsTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableProducts,
		PrimaryKey: []string{"product_id"},
		Columns: []storage.ColumnSpec{
			{Name: "product_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "product_name", Type: storage.TypeText, Nullable: notNull()},
			{Name: "category", Type: storage.TypeText},
			{Name: "unit_price", Type: storage.TypeReal},
			{Name: "stock_quantity", Type: storage.TypeInteger},
			{Name: "supplier", Type: storage.TypeText},
		},
	}
}

func storesTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableStores,
		PrimaryKey: []string{"store_id"},
		Columns: []storage.ColumnSpec{
			{Name: "store_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "store_name", Type: storage.TypeText, Nullable: notNull()},
			{Name: "region", Type: storage.TypeText},
		},
	}
}

func campaignsTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableCampaigns,
		PrimaryKey: []string{"campaign_id"},
		Columns: []storage.ColumnSpec{
			{Name: "campaign_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "campaign_name", Type: storage.TypeText, Nullable: notNull()},
		},
	}
}

// salesTable is the fact table. campaign_id is nullable: a sale whose
// campaign did not parse keeps a NULL reference instead of an invented one.
func salesTable() storage.TableSpec {
	return storage.TableSpec{
		Name:       TableSales,
		PrimaryKey: []string{"transaction_id"},
		Columns: []storage.ColumnSpec{
			{Name: "transaction_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "sale_date", Type: storage.TypeDate, Nullable: notNull()},
			{Name: "customer_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "product_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "store_id", Type: storage.TypeInteger, Nullable: notNull()},
			{Name: "campaign_id", Type: storage.TypeInteger},
			{Name: "sale_amount", Type: storage.TypeReal, Nullable: notNull()},
			{Name: "discount_percent", Type: storage.TypeReal},
			{Name: "payment_type", Type: storage.TypeText},
			{Name: "net_sale_amount", Type: storage.TypeReal},
		},
		ForeignKeys: []storage.ForeignKeySpec{
			{Column: "customer_id", RefTable: TableCustomers, RefColumn: "customer_id"},
			{Column: "product_id", RefTable: TableProducts, RefColumn: "product_id"},
			{Column: "store_id", RefTable: TableStores, RefColumn: "store_id"},
			{Column: "campaign_id", RefTable: TableCampaigns, RefColumn: "campaign_id"},
		},
		Indexes: []storage.IndexSpec{
			{Name: "idx_sales_customer_id", Columns: []string{"customer_id"}},
			{Name: "idx_sales_product_id", Columns: []string{"product_id"}},
			{Name: "idx_sales_store_id", Columns: []string{"store_id"}},
			{Name: "idx_sales_campaign_id", Columns: []string{"campaign_id"}},
			{Name: "idx_sales_sale_date", Columns: []string{"sale_date"}},
		},
	}
}

// Tables returns the star schema in creation order: dimensions before the
// fact table that references them.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		customersTable(),
		productsTable(),
		storesTable(),
		campaignsTable(),
		salesTable(),
	}
}

// DeleteOrder returns table names in an order that never violates a foreign
// key: the fact table first.
func DeleteOrder() []string {
	return []string{TableSales, TableCampaigns, TableStores, TableProducts, TableCustomers}
}

// SaleForeignKeys returns the fact table's references.
func SaleForeignKeys() []storage.ForeignKeySpec {
	return salesTable().ForeignKeys
}
