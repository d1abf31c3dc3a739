package catalog

import "github.com/medatechnology/dualdb/validate"

var categorySchema = validate.Schema{
	Table: "categories",
	Fields: []validate.Field{
		{Name: "id", Type: validate.UUID},
		{Name: "name", Type: validate.String},
		{Name: "slug", Type: validate.String},
		{Name: "sku_prefix", Type: validate.String},
		{Name: "description", Type: validate.String, Nullable: true, Optional: true},
		{Name: "created_at", Type: validate.Timestamp},
		{Name: "updated_at", Type: validate.Timestamp},
	},
}

var productSchema = validate.Schema{
	Table: "products",
	Fields: []validate.Field{
		{Name: "id", Type: validate.UUID},
		{Name: "category_id", Type: validate.UUID},
		{Name: "sku", Type: validate.String},
		{Name: "name", Type: validate.String},
		{Name: "price", Type: validate.Decimal},
		{Name: "attributes", Type: validate.JSON, Nullable: true, Optional: true},
		{Name: "active", Type: validate.Bool},
		{Name: "created_at", Type: validate.Timestamp},
		{Name: "updated_at", Type: validate.Timestamp},
	},
}

var orderSchema = validate.Schema{
	Table: "orders",
	Fields: []validate.Field{
		{Name: "id", Type: validate.UUID},
		{Name: "customer_email", Type: validate.String},
		{Name: "status", Type: validate.String},
		{Name: "total", Type: validate.Decimal},
		{Name: "created_at", Type: validate.Timestamp},
	},
}

var orderItemSchema = validate.Schema{
	Table: "order_items",
	Fields: []validate.Field{
		{Name: "id", Type: validate.UUID},
		{Name: "order_id", Type: validate.UUID},
		{Name: "product_id", Type: validate.UUID},
		{Name: "quantity", Type: validate.Int},
		{Name: "unit_price", Type: validate.Decimal},
	},
}
