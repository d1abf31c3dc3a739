package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/validate"
)

// Order statuses.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusShipped   = "shipped"
	StatusCancelled = "cancelled"
)

type Order struct {
	ID            string      `db:"id" json:"id"`
	CustomerEmail string      `db:"customer_email" json:"customer_email"`
	Status        string      `db:"status" json:"status"`
	Total         float64     `db:"total" json:"total"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	Items         []OrderItem `db:"-" json:"items"`
}

type OrderItem struct {
	ID        string  `db:"id" json:"id"`
	OrderID   string  `db:"order_id" json:"order_id"`
	ProductID string  `db:"product_id" json:"product_id"`
	Quantity  int     `db:"quantity" json:"quantity"`
	UnitPrice float64 `db:"unit_price" json:"unit_price"`
}

// LineItem is one product in an order being placed.
type LineItem struct {
	ProductID string
	Quantity  int
}

type Orders struct {
	db     dualdb.Adapter
	logger dualdb.Logger
}

// Place creates a pending order and its items in one transaction, pricing every item
// from the products table. Inactive or unknown products fail the whole order.
//
// The order id is generated here rather than returned by the database, so placing an
// order needs no RETURNING inside the transaction and works on backends that buffer
// transactional writes.
func (o *Orders) Place(ctx context.Context, email string, items []LineItem) (Order, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return Order{}, fmt.Errorf("%w: customer email %q", ErrInvalidInput, email)
	}
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: an order needs at least one item", ErrInvalidInput)
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity %d for product %s", ErrInvalidInput, it.Quantity, it.ProductID)
		}
	}

	id := uuid.NewString()
	total, err := dualdb.InTransaction(ctx, o.db, func(tx dualdb.Tx) (float64, error) {
		if _, err := tx.Query(ctx,
			`INSERT INTO orders (id, customer_email, status, total, created_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			id, email, StatusPending, 0); err != nil {
			return 0, err
		}

		var total float64
		for _, it := range items {
			price, err := o.price(ctx, tx, it.ProductID)
			if err != nil {
				return 0, err
			}
			if _, err := tx.Query(ctx,
				`INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
				 VALUES (gen_random_uuid(), $1, $2, $3, $4)`,
				id, it.ProductID, it.Quantity, price); err != nil {
				return 0, err
			}
			total += price * float64(it.Quantity)
		}

		total = math.Round(total*100) / 100
		_, err := tx.Query(ctx, "UPDATE orders SET total = $1 WHERE id = $2", total, id)
		return total, err
	})
	if err != nil {
		return Order{}, err
	}

	o.logger.Info("order placed",
		dualdb.String("id", id),
		dualdb.Int("items", len(items)),
		dualdb.Float64("total", total))
	return o.Get(ctx, id)
}

func (o *Orders) price(ctx context.Context, tx dualdb.Tx, productID string) (float64, error) {
	row, err := dualdb.QueryOne(ctx, tx, "SELECT price, active FROM products WHERE id = $1", productID)
	if errors.Is(err, dualdb.ErrSQLNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	p, err := validate.ValidateRow(row, validate.Schema{
		Table: "products",
		Fields: []validate.Field{
			{Name: "price", Type: validate.Decimal},
			{Name: "active", Type: validate.Bool},
		},
	})
	if err != nil {
		return 0, err
	}
	if !p["active"].(bool) {
		return 0, fmt.Errorf("%w: product %s is not for sale", ErrInvalidInput, productID)
	}
	return p["price"].(float64), nil
}

// Get returns the order with its items.
func (o *Orders) Get(ctx context.Context, id string) (Order, error) {
	row, err := dualdb.QueryOne(ctx, o.db, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, dualdb.ErrSQLNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Order{}, err
	}
	order, err := validate.DecodeRow[Order](row, orderSchema)
	if err != nil {
		return Order{}, err
	}

	res, err := o.db.Query(ctx, "SELECT * FROM order_items WHERE order_id = $1 ORDER BY product_id", id)
	if err != nil {
		return Order{}, err
	}
	// an order with a corrupt item is not shown partially
	order.Items, err = validate.Decode[OrderItem](res.Rows, orderItemSchema, validate.Options{})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// SetStatus moves an order to status.
func (o *Orders) SetStatus(ctx context.Context, id, status string) (Order, error) {
	switch status {
	case StatusPending, StatusPaid, StatusShipped, StatusCancelled:
	default:
		return Order{}, fmt.Errorf("%w: order status %q", ErrInvalidInput, status)
	}
	res, err := o.db.Query(ctx, "UPDATE orders SET status = $1 WHERE id = $2 RETURNING *", status, id)
	if err != nil {
		return Order{}, err
	}
	if len(res.Rows) == 0 {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	order, err := validate.DecodeRow[Order](res.Rows[0], orderSchema)
	if err != nil {
		return Order{}, err
	}
	o.logger.Info("order status changed", dualdb.String("id", id), dualdb.String("status", status))
	return order, nil
}
