// Package order defines the order aggregate and the atomic persistence
// contract for creating it.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/coupon"
	"github.com/veleda/stemshop/internal/domain/pricing"
)

// Status is the order lifecycle state. Within checkout scope only the
// PROCESSING -> DELIVERED transition (digital-only auto-completion) occurs;
// the remaining transitions belong to fulfillment and admin flows.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// PaymentStatus reflects the externally managed payment state. Checkout only
// ever writes PAID: payment capture is validated before the order pipeline
// runs.
type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Download limits applied to every digital order item at creation.
const (
	DefaultMaxDownloads = 5
	DownloadWindow      = 30 * 24 * time.Hour
)

// Order is a committed customer order with its pricing frozen at commit time.
type Order struct {
	ID                uuid.UUID
	Number            string
	UserID            uuid.UUID
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	ShippingCost      decimal.Decimal
	DiscountAmount    decimal.Decimal
	Total             decimal.Decimal
	Status            Status
	PaymentStatus     PaymentStatus
	ShippingAddressID uuid.UUID
	BillingAddressID  *uuid.UUID
	CouponID          *uuid.UUID
	PaymentIntentID   string
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	Items             []Item
}

// Item is a single order line bound to exactly one catalog entity:
// ProductID for physical items, BookID for digital ones, never both.
type Item struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	ProductID         *uuid.UUID
	BookID            *uuid.UUID
	Name              string
	UnitPrice         decimal.Decimal
	Quantity          int
	IsDigital         bool
	MaxDownloads      int
	DownloadExpiresAt *time.Time
}

// AllDigital reports whether every item in the order is a digital download.
func (o *Order) AllDigital() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if !item.IsDigital {
			return false
		}
	}
	return true
}

// Address is a shipping or billing address, deduplicated per user by
// (FullName, Line1, City, PostalCode).
type Address struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	FullName   string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// InsufficientStockError aborts the order transaction when a physical line
// cannot reserve the requested quantity.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

// CouponExhaustedError aborts the order transaction when one of the coupon's
// usage caps, global or per-user, was consumed by a concurrent checkout
// between validation and commit.
type CouponExhaustedError struct {
	Code string
}

func (e *CouponExhaustedError) Error() string {
	return fmt.Sprintf("coupon %s exhausted", e.Code)
}

// CreateParams is the input to the atomic order creation step.
// BillingAddress is optional; nil means the order bills to the shipping
// address.
type CreateParams struct {
	UserID          uuid.UUID
	Number          string
	Address         Address
	BillingAddress  *Address
	Quote           pricing.Quote
	Discount        *coupon.Discount
	Lines           []catalog.ResolvedLine
	PaymentIntentID string
}

// Repository is the persistence contract for orders. Create is the single
// atomic region of the checkout pipeline: either the order, its items, the
// coupon usage, and the stock reservations all commit, or none do.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
}
