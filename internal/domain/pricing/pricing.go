// Package pricing computes the monetary breakdown of a resolved cart:
// subtotal, VAT, shipping, discount, and grand total.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/settings"
)

// Overrides carries client-declared pricing fields. The client may
// pre-compute the breakdown; a present field wins over the server value,
// an absent one falls back to the server computation.
type Overrides struct {
	Subtotal     *decimal.Decimal
	Tax          *decimal.Decimal
	ShippingCost *decimal.Decimal
	Total        *decimal.Decimal
}

// Input is everything the engine needs to price an order.
type Input struct {
	Lines          []catalog.ResolvedLine
	ShippingMethod string
	Discount       decimal.Decimal
	Overrides      Overrides
}

// Quote is the frozen pricing breakdown persisted with the order.
// All values are rounded to 2 decimal places.
type Quote struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// Engine prices carts using store-wide settings. It is pure computation:
// for fixed inputs and settings the quote is deterministic, and it never
// fails — settings outages degrade to defaults inside the Provider.
type Engine struct {
	settings settings.Provider
}

// NewEngine creates an Engine over the given settings provider.
func NewEngine(provider settings.Provider) *Engine {
	return &Engine{settings: provider}
}

var one = decimal.NewFromInt(1)

// Quote computes the full pricing breakdown for the given input.
//
// Displayed prices are VAT-inclusive, so tax is derived backward from the
// subtotal (tax = subtotal - subtotal/(1+rate)) rather than added on top.
// Shipping is the selected method's price, zeroed when the free-shipping
// threshold is active and met. The total never goes negative.
func (e *Engine) Quote(ctx context.Context, in Input) Quote {
	subtotal := e.subtotal(in)
	tax := e.tax(ctx, subtotal, in.Overrides)
	shipping := e.shipping(ctx, subtotal, in)

	discount := in.Discount.Round(2)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if in.Overrides.Total != nil {
		total = *in.Overrides.Total
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Quote{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Discount:     discount,
		Total:        total.Round(2),
	}
}

func (e *Engine) subtotal(in Input) decimal.Decimal {
	if in.Overrides.Subtotal != nil {
		return in.Overrides.Subtotal.Round(2)
	}
	sum := decimal.Zero
	for _, line := range in.Lines {
		qty := decimal.NewFromInt(int64(line.Line.Quantity))
		sum = sum.Add(line.UnitPrice.Mul(qty))
	}
	return sum.Round(2)
}

func (e *Engine) tax(ctx context.Context, subtotal decimal.Decimal, ov Overrides) decimal.Decimal {
	if ov.Tax != nil {
		return ov.Tax.Round(2)
	}
	if !e.settings.ApplyTax(ctx) {
		return decimal.Zero
	}
	rate := e.settings.TaxRate(ctx)
	// Backward VAT: the subtotal already contains tax.
	tax := subtotal.Sub(subtotal.Div(one.Add(rate)))
	return tax.Round(2)
}

func (e *Engine) shipping(ctx context.Context, subtotal decimal.Decimal, in Input) decimal.Decimal {
	if in.Overrides.ShippingCost != nil {
		return in.Overrides.ShippingCost.Round(2)
	}

	cost := decimal.Zero
	if price, ok := e.settings.ShippingMethodPrice(ctx, in.ShippingMethod); ok {
		cost = price
	}

	if threshold, active := e.settings.FreeShippingThreshold(ctx); active {
		if subtotal.GreaterThanOrEqual(threshold) {
			cost = decimal.Zero
		}
	}
	return cost.Round(2)
}
