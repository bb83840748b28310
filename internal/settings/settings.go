// Package settings provides store-wide configuration with guaranteed
// fallback defaults. Pricing must never block checkout because the settings
// store is unavailable, so every accessor degrades to a fixed default on
// lookup failure instead of returning an error.
package settings

import (
	"context"
	"strconv"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Setting keys as stored in the settings table.
const (
	KeyTaxRate               = "tax.rate"
	KeyApplyTax              = "tax.apply"
	KeyFreeShippingThreshold = "shipping.free_threshold"
	KeyShippingMethodPrefix  = "shipping.method."
)

// Defaults applied when the store cannot be read or a key is missing.
var (
	// DefaultTaxRate is the fallback VAT rate (21%).
	DefaultTaxRate = decimal.RequireFromString("0.21")
	// DefaultApplyTax enables VAT breakdown by default.
	DefaultApplyTax = true
)

// Provider exposes store-wide settings to the pricing engine. Implementations
// must always return a usable value; "not configured" is expressed through
// the boolean returns, never through an error.
type Provider interface {
	// TaxRate returns the VAT rate as a fraction (0.21 for 21%).
	TaxRate(ctx context.Context) decimal.Decimal
	// ApplyTax reports whether the VAT breakdown is enabled store-wide.
	ApplyTax(ctx context.Context) bool
	// FreeShippingThreshold returns the subtotal above which shipping is
	// free, and whether the threshold is active at all.
	FreeShippingThreshold(ctx context.Context) (decimal.Decimal, bool)
	// ShippingMethodPrice returns the price of the named shipping method,
	// and whether the method is known.
	ShippingMethodPrice(ctx context.Context, method string) (decimal.Decimal, bool)
}

// Store is the raw key/value lookup behind StoreProvider.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// StoreProvider reads settings from a Store, falling back to the package
// defaults whenever a key is missing or the read fails.
type StoreProvider struct {
	store Store
}

var _ Provider = (*StoreProvider)(nil)

// NewStoreProvider wraps the given store.
func NewStoreProvider(store Store) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) TaxRate(ctx context.Context) decimal.Decimal {
	raw, err := p.store.Get(ctx, KeyTaxRate)
	if err != nil {
		logFallback(ctx, KeyTaxRate, err)
		return DefaultTaxRate
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() {
		logFallback(ctx, KeyTaxRate, err)
		return DefaultTaxRate
	}
	return rate
}

func (p *StoreProvider) ApplyTax(ctx context.Context) bool {
	raw, err := p.store.Get(ctx, KeyApplyTax)
	if err != nil {
		logFallback(ctx, KeyApplyTax, err)
		return DefaultApplyTax
	}
	apply, err := strconv.ParseBool(raw)
	if err != nil {
		logFallback(ctx, KeyApplyTax, err)
		return DefaultApplyTax
	}
	return apply
}

func (p *StoreProvider) FreeShippingThreshold(ctx context.Context) (decimal.Decimal, bool) {
	raw, err := p.store.Get(ctx, KeyFreeShippingThreshold)
	if err != nil {
		// Missing threshold means the promotion is simply off.
		return decimal.Zero, false
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil || !threshold.IsPositive() {
		logFallback(ctx, KeyFreeShippingThreshold, err)
		return decimal.Zero, false
	}
	return threshold, true
}

func (p *StoreProvider) ShippingMethodPrice(ctx context.Context, method string) (decimal.Decimal, bool) {
	raw, err := p.store.Get(ctx, KeyShippingMethodPrefix+method)
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || price.IsNegative() {
		logFallback(ctx, KeyShippingMethodPrefix+method, err)
		return decimal.Zero, false
	}
	return price, true
}

func logFallback(ctx context.Context, key string, err error) {
	zctx.From(ctx).Warn("settings lookup failed, using default",
		zap.String("key", key),
		zap.Error(err),
	)
}

// Static is an in-memory Provider for tests and local development.
type Static struct {
	Rate            decimal.Decimal
	Apply           bool
	Threshold       decimal.Decimal
	ThresholdActive bool
	MethodPrices    map[string]decimal.Decimal
}

var _ Provider = (*Static)(nil)

func (s *Static) TaxRate(context.Context) decimal.Decimal { return s.Rate }
func (s *Static) ApplyTax(context.Context) bool           { return s.Apply }

func (s *Static) FreeShippingThreshold(context.Context) (decimal.Decimal, bool) {
	return s.Threshold, s.ThresholdActive
}

func (s *Static) ShippingMethodPrice(_ context.Context, method string) (decimal.Decimal, bool) {
	price, ok := s.MethodPrices[method]
	return price, ok
}
