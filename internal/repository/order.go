package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/order"
)

const (
	findAddressSQL = `SELECT id FROM addresses
		WHERE user_id = $1 AND full_name = $2 AND line1 = $3 AND city = $4 AND postal_code = $5
		LIMIT 1`

	insertAddressSQL = `INSERT INTO addresses (id, user_id, full_name, line1, line2, city, postal_code, country, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, subtotal, tax, shipping_cost,
		discount_amount, total, status, payment_status, shipping_address_id, billing_address_id,
		coupon_id, payment_intent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	// Conditional increment: a concurrent checkout may have consumed the
	// last remaining use after validation. Zero rows affected means the
	// cap is gone and the whole transaction aborts.
	incrementCouponUsesSQL = `UPDATE coupons SET current_uses = current_uses + 1
		WHERE id = $1 AND (max_uses = 0 OR current_uses < max_uses)`

	// Guarded usage insert re-checking the per-user cap ($4, 0 means
	// unlimited). Runs after the increment, whose row lock on the coupon
	// serializes concurrent checkouts with the same code, so the count
	// only sees committed usages.
	insertCouponUsageSQL = `INSERT INTO coupon_usages (coupon_id, user_id, order_id)
		SELECT $1, $2, $3
		WHERE $4 = 0
			OR (SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2) < $4`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, book_id, name,
		unit_price, quantity, is_digital, max_downloads, download_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	// Guarded reservation: the decrement only applies when enough stock
	// remains, so concurrent checkouts can never drive stock negative.
	// total_sold stays untouched until the sale completes.
	reserveStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity - $2, reserved_quantity = reserved_quantity + $2
		WHERE id = $1 AND stock_quantity >= $2`

	getOrderSQL = `SELECT id, order_number, user_id, subtotal, tax, shipping_cost, discount_amount,
		total, status, payment_status, shipping_address_id, billing_address_id, coupon_id,
		payment_intent_id, delivered_at, created_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, order_id, product_id, book_id, name, unit_price, quantity,
		is_digital, max_downloads, download_expires_at
		FROM order_items WHERE order_id = $1 ORDER BY name`

	markDeliveredSQL = `UPDATE orders SET status = $2, delivered_at = $3, updated_at = now()
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time

	// beforeItemInsert is a test hook invoked before each order item
	// insert; a non-nil return aborts the transaction.
	beforeItemInsert func(idx int) error
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists the order, its items, the coupon usage, and the stock
// reservations in a single transaction. Any failure rolls the whole order
// back; no partial order is ever visible.
func (r *OrderRepository) Create(ctx context.Context, params order.CreateParams) (_ *order.Order, txErr error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() {
		if txErr != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				txErr = errors.Wrap(txErr, "rollback: "+rbErr.Error())
			}
		}
	}()

	now := r.now()

	addressID, err := r.upsertAddress(ctx, tx, params.Address)
	if err != nil {
		return nil, err
	}
	var billingID *uuid.UUID
	if params.BillingAddress != nil {
		id, err := r.upsertAddress(ctx, tx, *params.BillingAddress)
		if err != nil {
			return nil, err
		}
		billingID = &id
	}

	o := &order.Order{
		ID:                uuid.New(),
		Number:            params.Number,
		UserID:            params.UserID,
		Subtotal:          params.Quote.Subtotal,
		Tax:               params.Quote.Tax,
		ShippingCost:      params.Quote.ShippingCost,
		DiscountAmount:    params.Quote.Discount,
		Total:             params.Quote.Total,
		Status:            order.StatusProcessing,
		PaymentStatus:     order.PaymentPaid,
		ShippingAddressID: addressID,
		BillingAddressID:  billingID,
		PaymentIntentID:   params.PaymentIntentID,
		CreatedAt:         now,
	}
	if params.Discount != nil {
		couponID := params.Discount.CouponID
		o.CouponID = &couponID
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, o.Subtotal, o.Tax, o.ShippingCost,
		o.DiscountAmount, o.Total, o.Status, o.PaymentStatus,
		o.ShippingAddressID, o.BillingAddressID, o.CouponID, o.PaymentIntentID, o.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "insert order %s", o.Number)
	}

	if params.Discount != nil {
		if err := r.recordCouponUsage(ctx, tx, params, o.ID); err != nil {
			return nil, err
		}
	}

	for i, line := range params.Lines {
		if r.beforeItemInsert != nil {
			if err := r.beforeItemInsert(i); err != nil {
				return nil, err
			}
		}
		item, err := r.insertItem(ctx, tx, o.ID, line, now)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return o, nil
}

// upsertAddress reuses an identical address of the same user or inserts a
// new row.
func (r *OrderRepository) upsertAddress(ctx context.Context, tx pgx.Tx, addr order.Address) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, findAddressSQL,
		addr.UserID, addr.FullName, addr.Line1, addr.City, addr.PostalCode,
	).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, errors.Wrap(err, "find address")
	}

	id = uuid.New()
	_, err = tx.Exec(ctx, insertAddressSQL,
		id, addr.UserID, addr.FullName, addr.Line1, addr.Line2,
		addr.City, addr.PostalCode, addr.Country, addr.Phone,
	)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "insert address")
	}
	return id, nil
}

func (r *OrderRepository) recordCouponUsage(ctx context.Context, tx pgx.Tx, params order.CreateParams, orderID uuid.UUID) error {
	d := params.Discount

	tag, err := tx.Exec(ctx, incrementCouponUsesSQL, d.CouponID)
	if err != nil {
		return errors.Wrapf(err, "increment uses of coupon %s", d.Code)
	}
	if tag.RowsAffected() == 0 {
		return &order.CouponExhaustedError{Code: d.Code}
	}

	tag, err = tx.Exec(ctx, insertCouponUsageSQL, d.CouponID, params.UserID, orderID, d.MaxUsesPerUser)
	if err != nil {
		return errors.Wrapf(err, "insert usage of coupon %s", d.Code)
	}
	if tag.RowsAffected() == 0 {
		return &order.CouponExhaustedError{Code: d.Code}
	}
	return nil
}

func (r *OrderRepository) insertItem(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, line catalog.ResolvedLine, now time.Time) (order.Item, error) {
	item := order.Item{
		ID:        uuid.New(),
		OrderID:   orderID,
		Name:      line.Name(),
		UnitPrice: line.UnitPrice,
		Quantity:  line.Line.Quantity,
	}

	switch line.Kind {
	case catalog.KindDigital:
		bookID := line.Book.ID
		expires := now.Add(order.DownloadWindow)
		item.BookID = &bookID
		item.IsDigital = true
		item.MaxDownloads = order.DefaultMaxDownloads
		item.DownloadExpiresAt = &expires
	default:
		productID := line.Product.ID
		item.ProductID = &productID

		tag, err := tx.Exec(ctx, reserveStockSQL, productID, item.Quantity)
		if err != nil {
			return order.Item{}, errors.Wrapf(err, "reserve stock for product %s", productID)
		}
		if tag.RowsAffected() == 0 {
			return order.Item{}, &order.InsufficientStockError{
				ProductID: productID,
				Requested: item.Quantity,
			}
		}
	}

	_, err := tx.Exec(ctx, insertOrderItemSQL,
		item.ID, item.OrderID, item.ProductID, item.BookID, item.Name,
		item.UnitPrice, item.Quantity, item.IsDigital,
		item.MaxDownloads, item.DownloadExpiresAt,
	)
	if err != nil {
		return order.Item{}, errors.Wrapf(err, "insert order item %q", item.Name)
	}
	return item, nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.Number, &o.UserID, &o.Subtotal, &o.Tax, &o.ShippingCost,
		&o.DiscountAmount, &o.Total, &o.Status, &o.PaymentStatus,
		&o.ShippingAddressID, &o.BillingAddressID, &o.CouponID,
		&o.PaymentIntentID, &o.DeliveredAt, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(pgx.ErrNoRows, "order %s", id)
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get items of order %s", id)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, errors.Wrapf(err, "scan items of order %s", id)
	}
	return &o, nil
}

// MarkDelivered transitions the order to DELIVERED with the given timestamp.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, markDeliveredSQL, id, order.StatusDelivered, at)
	if err != nil {
		return errors.Wrapf(err, "mark order %s delivered", id)
	}
	return nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var item order.Item
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.BookID, &item.Name,
		&item.UnitPrice, &item.Quantity, &item.IsDigital,
		&item.MaxDownloads, &item.DownloadExpiresAt,
	)
	return item, err
}
