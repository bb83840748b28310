package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Validator validates a coupon code for a user and subtotal, returning the
// discount to apply. All preconditions must hold; callers decide whether a
// failure is surfaced or absorbed (checkout treats every failure as
// "no coupon").
type Validator interface {
	Validate(ctx context.Context, code string, userID uuid.UUID, subtotal decimal.Decimal) (*Discount, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository and applying them via Apply.
//
// Validation here is advisory: both usage caps are re-checked inside the
// order transaction when the usage is recorded, so two concurrent requests
// cannot both consume the last use.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks every eligibility rule in conjunction: the coupon exists
// and is active, the current time falls within its window, the global and
// per-user usage caps have headroom, and the subtotal meets the minimum
// order value.
func (v *RepoValidator) Validate(ctx context.Context, code string, userID uuid.UUID, subtotal decimal.Decimal) (*Discount, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !rule.Active {
		return nil, ErrInvalidCoupon
	}

	now := v.now()
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return nil, ErrCouponExpired
	}
	if rule.ExpiresAt != nil && now.After(*rule.ExpiresAt) {
		return nil, ErrCouponExpired
	}

	if rule.MaxUses > 0 && rule.CurrentUses >= rule.MaxUses {
		return nil, ErrUsageLimitReached
	}

	if rule.MaxUsesPerUser > 0 {
		used, err := v.repo.CountUserUses(ctx, rule.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user uses")
		}
		if used >= rule.MaxUsesPerUser {
			return nil, ErrUserLimitReached
		}
	}

	if rule.MinOrderValue.IsPositive() && subtotal.LessThan(rule.MinOrderValue) {
		return nil, ErrMinimumOrderNotMet
	}

	amount, err := Apply(rule, subtotal)
	if err != nil {
		return nil, err
	}

	return &Discount{
		CouponID:       rule.ID,
		Code:           rule.Code,
		Amount:         amount,
		MaxUsesPerUser: rule.MaxUsesPerUser,
	}, nil
}
