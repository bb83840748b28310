// Package coupon validates discount codes against business rules and
// computes discount amounts.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the subtotal, optionally
	// clipped to the rule's MaxDiscount.
	TypePercentage Type = "PERCENTAGE"
	// TypeFixedAmount discounts a fixed amount, capped at the subtotal.
	TypeFixedAmount Type = "FIXED_AMOUNT"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or not active.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when a coupon has exhausted its global uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrUserLimitReached is returned when this user has exhausted their allowed uses.
	ErrUserLimitReached = errors.New("coupon per-user limit reached")
	// ErrMinimumOrderNotMet is returned when the subtotal is below the rule's minimum.
	ErrMinimumOrderNotMet = errors.New("minimum order value not met")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Zero-valued caps (MaxUses, MaxUsesPerUser, MaxDiscount, MinOrderValue)
// mean "unlimited" / "not set".
type Rule struct {
	ID             uuid.UUID
	Code           string
	Type           Type
	Value          decimal.Decimal
	MaxDiscount    decimal.Decimal
	MinOrderValue  decimal.Decimal
	StartsAt       *time.Time
	ExpiresAt      *time.Time
	MaxUses        int
	CurrentUses    int
	MaxUsesPerUser int
	Active         bool
}

// Discount is a successfully validated coupon application: the amount to
// subtract and the coupon identity to record against the order.
// MaxUsesPerUser carries the rule's per-user cap (0 for unlimited) so the
// order writer can re-check it inside the commit transaction.
type Discount struct {
	CouponID       uuid.UUID
	Code           string
	Amount         decimal.Decimal
	MaxUsesPerUser int
}

// Repository provides coupon rule lookup and historical usage counts.
type Repository interface {
	// FindByCode returns the rule for an active coupon code.
	// Returns ErrInvalidCoupon when no matching active coupon exists.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// CountUserUses returns how many committed orders of this user have
	// already applied the coupon.
	CountUserUses(ctx context.Context, couponID, userID uuid.UUID) (int, error)
}
