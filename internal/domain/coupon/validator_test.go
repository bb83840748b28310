package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeRepo is an in-memory coupon.Repository for validator tests.
type fakeRepo struct {
	rules    map[string]*Rule
	userUses map[uuid.UUID]int
	usesErr  error
}

func (f *fakeRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	rule, ok := f.rules[code]
	if !ok {
		return nil, ErrInvalidCoupon
	}
	return rule, nil
}

func (f *fakeRepo) CountUserUses(_ context.Context, _, userID uuid.UUID) (int, error) {
	if f.usesErr != nil {
		return 0, f.usesErr
	}
	return f.userUses[userID], nil
}

func newValidator(rules ...*Rule) (*RepoValidator, *fakeRepo) {
	repo := &fakeRepo{
		rules:    make(map[string]*Rule),
		userUses: make(map[uuid.UUID]int),
	}
	for _, r := range rules {
		repo.rules[r.Code] = r
	}
	v := NewRepoValidator(repo)
	v.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }
	return v, repo
}

func activeRule(code string) *Rule {
	return &Rule{
		ID:     uuid.New(),
		Code:   code,
		Type:   TypePercentage,
		Value:  dec("10"),
		Active: true,
	}
}

func TestValidate_UnknownCode(t *testing.T) {
	v, _ := newValidator()

	_, err := v.Validate(context.Background(), "NOPE", uuid.New(), dec("100"))

	assert.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestValidate_InactiveCoupon(t *testing.T) {
	rule := activeRule("PAUSED")
	rule.Active = false
	v, _ := newValidator(rule)

	_, err := v.Validate(context.Background(), "PAUSED", uuid.New(), dec("100"))

	assert.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestValidate_TimeWindow(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		startsAt  *time.Time
		expiresAt *time.Time
		wantErr   error
	}{
		{"not started yet", &future, nil, ErrCouponExpired},
		{"already expired", nil, &past, ErrCouponExpired},
		{"inside window", &past, &future, nil},
		{"no window", nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := activeRule("WINDOW")
			rule.StartsAt = tt.startsAt
			rule.ExpiresAt = tt.expiresAt
			v, _ := newValidator(rule)

			_, err := v.Validate(context.Background(), "WINDOW", uuid.New(), dec("100"))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_GlobalCap(t *testing.T) {
	rule := activeRule("CAPPED")
	rule.MaxUses = 100
	rule.CurrentUses = 100
	v, _ := newValidator(rule)

	_, err := v.Validate(context.Background(), "CAPPED", uuid.New(), dec("100"))

	assert.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestValidate_PerUserCap(t *testing.T) {
	rule := activeRule("ONCE")
	rule.MaxUsesPerUser = 1
	v, repo := newValidator(rule)

	userID := uuid.New()
	repo.userUses[userID] = 1

	_, err := v.Validate(context.Background(), "ONCE", userID, dec("100"))
	assert.ErrorIs(t, err, ErrUserLimitReached)

	// A fresh user still qualifies.
	_, err = v.Validate(context.Background(), "ONCE", uuid.New(), dec("100"))
	assert.NoError(t, err)
}

func TestValidate_MinimumOrder(t *testing.T) {
	rule := activeRule("BIGCART")
	rule.MinOrderValue = dec("40")
	v, _ := newValidator(rule)

	_, err := v.Validate(context.Background(), "BIGCART", uuid.New(), dec("39.99"))
	assert.ErrorIs(t, err, ErrMinimumOrderNotMet)

	d, err := v.Validate(context.Background(), "BIGCART", uuid.New(), dec("40.00"))
	require.NoError(t, err)
	assert.True(t, dec("4").Equal(d.Amount), "got %s", d.Amount)
}

func TestValidate_UsesLookupError(t *testing.T) {
	rule := activeRule("FLAKY")
	rule.MaxUsesPerUser = 3
	v, repo := newValidator(rule)
	repo.usesErr = errors.New("connection reset")

	_, err := v.Validate(context.Background(), "FLAKY", uuid.New(), dec("100"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserLimitReached)
}

func TestApply_Percentage(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		maxDiscount string
		subtotal    string
		want        string
	}{
		{"plain percentage", "10", "0", "80.00", "8.00"},
		{"capped by max discount", "50", "20", "100.00", "20.00"},
		{"cap not reached", "50", "20", "30.00", "15.00"},
		{"rounded to 2 decimals", "15", "0", "10.03", "1.50"},
		// Banker's rounding: halves go to the even neighbour.
		{"half rounds down to even", "5", "0", "10.50", "0.52"},
		{"half rounds up to even", "5", "0", "11.10", "0.56"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &Rule{
				Type:        TypePercentage,
				Value:       dec(tt.value),
				MaxDiscount: dec(tt.maxDiscount),
			}

			amount, err := Apply(rule, dec(tt.subtotal))

			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(amount), "want %s, got %s", tt.want, amount)
		})
	}
}

func TestApply_FixedAmount(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		subtotal string
		want     string
	}{
		{"below subtotal", "5", "30.00", "5.00"},
		{"clipped to subtotal", "30", "10.00", "10.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &Rule{Type: TypeFixedAmount, Value: dec(tt.value)}

			amount, err := Apply(rule, dec(tt.subtotal))

			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(amount), "want %s, got %s", tt.want, amount)
		})
	}
}

func TestApply_UnknownType(t *testing.T) {
	rule := &Rule{Type: "BOGOF", Value: dec("1")}

	_, err := Apply(rule, dec("10"))

	assert.Error(t, err)
}
