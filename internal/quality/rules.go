package quality

import (
	"time"

	"smartsales/internal/records"
)

const (
	EntityCustomer = "customer"
	EntityProduct  = "product"
	EntitySale     = "sale"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CustomerRules returns the customer rule set.
func CustomerRules() RuleSet {
	return RuleSet{
		Entity:  EntityCustomer,
		Columns: []string{"customer_id", "name", "region", "join_date", "loyalty_points", "preferred_contact"},
		Headers: map[string]string{
			"CustomerID":       "customer_id",
			"Name":             "name",
			"Region":           "region",
			"JoinDate":         "join_date",
			"LoyaltyPoints":    "loyalty_points",
			"PreferredContact": "preferred_contact",
		},
		DedupKey: []string{"customer_id"},
		Required: []string{"customer_id", "name", "join_date"},
		FillDefaults: map[string]records.Value{
			"region":            records.String("Unknown"),
			"loyalty_points":    records.Int(0),
			"preferred_contact": records.String("Email"),
		},
		Normalize: map[string]map[string]string{
			"region": {
				"east":       "East",
				"west":       "West",
				"north":      "North",
				"south":      "South",
				"central":    "Central",
				"south-west": "Southwest",
				"south-east": "Southeast",
				"north-west": "Northwest",
				"north-east": "Northeast",
			},
			"preferred_contact": {
				"email": "Email",
				"phone": "Phone",
				"sms":   "SMS",
				"text":  "Text",
				"mail":  "Mail",
			},
		},
		Types: map[string]FieldType{
			"customer_id":    TypeInteger,
			"name":           TypeString,
			"join_date":      TypeDate,
			"loyalty_points": TypeInteger,
		},
		NumericBounds: map[string]Bound{
			"loyalty_points": {Min: 0, Max: 10000},
		},
		DateBounds: map[string]DateBound{
			"join_date": {Min: day(2010, time.January, 1), MaxNow: true},
		},
	}
}

// ProductRules returns the product rule set.
func ProductRules() RuleSet {
	return RuleSet{
		Entity:  EntityProduct,
		Columns: []string{"product_id", "product_name", "category", "unit_price", "stock_quantity", "supplier"},
		Headers: map[string]string{
			"ProductID":     "product_id",
			"ProductName":   "product_name",
			"Category":      "category",
			"UnitPrice":     "unit_price",
			"StockQuantity": "stock_quantity",
			"Supplier":      "supplier",
		},
		DedupKey: []string{"product_id"},
		Required: []string{"product_id", "product_name", "unit_price"},
		FillDefaults: map[string]records.Value{
			"category":       records.String("Uncategorized"),
			"stock_quantity": records.Int(0),
			"supplier":       records.String("Unknown"),
		},
		Normalize: map[string]map[string]string{
			"supplier": {
				"globaltech": "GlobalTech",
				"megacorp":   "MegaCorp",
				"bestsource": "BestSource",
				"supplypro":  "SupplyPro",
			},
		},
		TitleCase: []string{"category"},
		Types: map[string]FieldType{
			"product_id":     TypeInteger,
			"unit_price":     TypeFloat,
			"stock_quantity": TypeInteger,
		},
		NumericBounds: map[string]Bound{
			"unit_price":     {Min: 0, Max: 10000, MinExclusive: true},
			"stock_quantity": {Min: 0, Max: 2000},
		},
	}
}

// SaleRules returns the sale rule set.
func SaleRules() RuleSet {
	return RuleSet{
		Entity: EntitySale,
		Columns: []string{
			"transaction_id", "sale_date", "customer_id", "product_id", "store_id",
			"campaign_id", "sale_amount", "discount_percent", "payment_type",
		},
		Headers: map[string]string{
			"TransactionID":   "transaction_id",
			"SaleDate":        "sale_date",
			"CustomerID":      "customer_id",
			"ProductID":       "product_id",
			"StoreID":         "store_id",
			"CampaignID":      "campaign_id",
			"SaleAmount":      "sale_amount",
			"DiscountPercent": "discount_percent",
			"PaymentType":     "payment_type",
		},
		DedupKey: []string{"transaction_id"},
		Required: []string{"transaction_id", "sale_date", "customer_id", "product_id", "store_id", "sale_amount"},
		FillDefaults: map[string]records.Value{
			"campaign_id":      records.Int(0),
			"discount_percent": records.Int(0),
			"payment_type":     records.String("Unknown"),
		},
		Normalize: map[string]map[string]string{
			"payment_type": {
				"cash":        "Cash",
				"credit card": "Credit Card",
				"debit card":  "Debit Card",
				"check":       "Check",
				"paypal":      "PayPal",
				"gift card":   "Gift Card",
			},
		},
		Types: map[string]FieldType{
			"transaction_id":   TypeInteger,
			"sale_date":        TypeDate,
			"customer_id":      TypeInteger,
			"product_id":       TypeInteger,
			"store_id":         TypeInteger,
			"campaign_id":      TypeInteger,
			"sale_amount":      TypeFloat,
			"discount_percent": TypeFloat,
		},
		NumericBounds: map[string]Bound{
			"sale_amount":      {Min: 0, Max: 50000},
			"discount_percent": {Min: 0, Max: 100},
		},
		DateBounds: map[string]DateBound{
			"sale_date": {Min: day(2020, time.January, 1), MaxNow: true},
		},
	}
}

// RulesFor returns the rule set for an entity name.
func RulesFor(entity string) (RuleSet, bool) {
	switch entity {
	case EntityCustomer:
		return CustomerRules(), true
	case EntityProduct:
		return ProductRules(), true
	case EntitySale:
		return SaleRules(), true
	default:
		return RuleSet{}, false
	}
}

// Entities lists the entity names in load order.
func Entities() []string {
	return []string{EntityCustomer, EntityProduct, EntitySale}
}
