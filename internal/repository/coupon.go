package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veleda/stemshop/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, type, value, max_discount, min_order_value,
		starts_at, expires_at, max_uses, current_uses, max_uses_per_user, active
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	countUserUsesSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no matching coupon exists; inactive
// coupons are returned as-is and rejected by the validator.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &rule, nil
}

// CountUserUses returns how many committed orders of this user applied the
// coupon.
func (r *CouponRepository) CountUserUses(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, countUserUsesSQL, couponID, userID).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "count uses of coupon %s by user %s", couponID, userID)
	}
	return count, nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule     coupon.Rule
		ruleType string
		maxUses  int32
		curUses  int32
		perUser  int32
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &ruleType, &rule.Value, &rule.MaxDiscount,
		&rule.MinOrderValue, &rule.StartsAt, &rule.ExpiresAt,
		&maxUses, &curUses, &perUser, &rule.Active,
	)
	rule.Type = coupon.Type(ruleType)
	rule.MaxUses = int(maxUses)
	rule.CurrentUses = int(curUses)
	rule.MaxUsesPerUser = int(perUser)
	return rule, err
}
