// Package checkout orchestrates the order-creation pipeline: catalog
// resolution, pricing, coupon validation, the atomic order write, and the
// post-commit side effects.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/coupon"
	"github.com/veleda/stemshop/internal/domain/order"
	"github.com/veleda/stemshop/internal/domain/pricing"
	"github.com/veleda/stemshop/internal/fulfillment"
	"github.com/veleda/stemshop/internal/identity"
	"github.com/veleda/stemshop/internal/notify"
)

var (
	// ErrEmptyCart is returned when the request contains no lines at all.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNoPurchasableLines is returned when every submitted line was
	// dropped during catalog resolution.
	ErrNoPurchasableLines = errors.New("no purchasable lines in cart")
)

// DefaultSideEffectTimeout bounds the post-commit side effects so a slow
// delivery service or broker cannot hold the request open.
const DefaultSideEffectTimeout = 5 * time.Second

// Request is a validated checkout submission.
type Request struct {
	Lines           []catalog.CartLine
	ShippingAddress order.Address
	// BillingAddress is optional. Nil bills to the shipping address.
	BillingAddress *order.Address
	ShippingMethod string
	CouponCode     string
	// DeclaredDiscount is the client's pre-computed discount. It is never
	// applied: the discount is always re-validated server-side.
	DeclaredDiscount *decimal.Decimal
	Overrides        pricing.Overrides
	PaymentIntentID  string
}

// Result is a committed order plus the manifest of lines that were dropped
// during resolution.
type Result struct {
	Order   *order.Order
	Dropped []catalog.DroppedLine
}

// Service runs the checkout pipeline. The order repository's Create is the
// only atomic region; everything after it is best-effort.
type Service struct {
	resolver  *catalog.Resolver
	pricer    *pricing.Engine
	coupons   coupon.Validator
	orders    order.Repository
	deliverer fulfillment.Deliverer
	notifier  notify.Notifier

	sideEffectTimeout time.Duration
	now               func() time.Time
}

// NewService wires the checkout pipeline.
func NewService(
	resolver *catalog.Resolver,
	pricer *pricing.Engine,
	coupons coupon.Validator,
	orders order.Repository,
	deliverer fulfillment.Deliverer,
	notifier notify.Notifier,
) *Service {
	return &Service{
		resolver:          resolver,
		pricer:            pricer,
		coupons:           coupons,
		orders:            orders,
		deliverer:         deliverer,
		notifier:          notifier,
		sideEffectTimeout: DefaultSideEffectTimeout,
		now:               time.Now,
	}
}

// WithSideEffectTimeout overrides the post-commit side effect deadline.
// Non-positive values keep the default.
func (s *Service) WithSideEffectTimeout(d time.Duration) *Service {
	if d > 0 {
		s.sideEffectTimeout = d
	}
	return s
}

// PlaceOrder executes the pipeline for the given user.
//
// Individual invalid cart lines and coupon failures are absorbed: the order
// proceeds without them. Infrastructure failures — catalog store outage,
// transaction failure — abort the whole request. After the transaction has
// committed the order is final; fulfillment and notification failures are
// logged and swallowed.
func (s *Service) PlaceOrder(ctx context.Context, user identity.User, req Request) (*Result, error) {
	lg := zctx.From(ctx)

	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	manifest, err := s.resolver.Resolve(ctx, req.Lines)
	if err != nil {
		return nil, errors.Wrap(err, "resolve cart")
	}
	if len(manifest.Accepted) == 0 {
		return nil, ErrNoPurchasableLines
	}
	for _, dropped := range manifest.Dropped {
		lg.Info("cart line dropped",
			zap.Stringer("line_id", dropped.ID),
			zap.String("reason", string(dropped.Reason)),
		)
	}

	input := pricing.Input{
		Lines:          manifest.Accepted,
		ShippingMethod: req.ShippingMethod,
		Overrides:      req.Overrides,
	}
	base := s.pricer.Quote(ctx, input)

	discount := s.applyCoupon(ctx, user, req, base.Subtotal)
	if discount != nil {
		input.Discount = discount.Amount
	}
	quote := s.pricer.Quote(ctx, input)

	address := req.ShippingAddress
	address.UserID = user.ID
	var billing *order.Address
	if req.BillingAddress != nil {
		b := *req.BillingAddress
		b.UserID = user.ID
		billing = &b
	}

	o, err := s.orders.Create(ctx, order.CreateParams{
		UserID:          user.ID,
		Number:          order.NewNumber(s.now()),
		Address:         address,
		BillingAddress:  billing,
		Quote:           quote,
		Discount:        discount,
		Lines:           manifest.Accepted,
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.runSideEffects(ctx, user, o, req.Lines)

	return &Result{
		Order:   o,
		Dropped: manifest.Dropped,
	}, nil
}

// applyCoupon validates the coupon code, if any. Every failure — expired
// code, exhausted cap, unexpected lookup error — results in "no coupon";
// a stale coupon must never block checkout.
func (s *Service) applyCoupon(ctx context.Context, user identity.User, req Request, subtotal decimal.Decimal) *coupon.Discount {
	lg := zctx.From(ctx)

	if req.DeclaredDiscount != nil {
		// Client-declared discounts are an integrity hole; the server
		// recomputes from the coupon code alone.
		lg.Debug("ignoring client-declared discount",
			zap.String("declared", req.DeclaredDiscount.String()),
		)
	}

	if req.CouponCode == "" {
		return nil
	}

	discount, err := s.coupons.Validate(ctx, req.CouponCode, user.ID, subtotal)
	if err != nil {
		switch {
		case errors.Is(err, coupon.ErrInvalidCoupon),
			errors.Is(err, coupon.ErrCouponExpired),
			errors.Is(err, coupon.ErrUsageLimitReached),
			errors.Is(err, coupon.ErrUserLimitReached),
			errors.Is(err, coupon.ErrMinimumOrderNotMet):
			lg.Info("coupon rejected",
				zap.String("code", req.CouponCode),
				zap.Error(err),
			)
		default:
			lg.Warn("coupon lookup failed, proceeding without coupon",
				zap.String("code", req.CouponCode),
				zap.Error(err),
			)
		}
		return nil
	}
	return discount
}

// runSideEffects executes the post-commit steps: digital fulfillment and the
// confirmation email. Both run on a detached, deadline-bound context so they
// survive client disconnects but cannot hold the request open. Errors are
// logged inside each step and never escape.
func (s *Service) runSideEffects(ctx context.Context, user identity.User, o *order.Order, lines []catalog.CartLine) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		s.triggerDigitalFulfillment(gctx, o, lines)
		return nil
	})
	g.Go(func() error {
		s.sendConfirmation(gctx, user, o)
		return nil
	})
	_ = g.Wait()
}

// triggerDigitalFulfillment re-reads the committed order, hands digital
// items to the delivery service, and auto-completes orders that contain
// nothing to ship. Idempotent: it derives everything from persisted rows,
// so an external job may re-invoke it for stuck orders.
func (s *Service) triggerDigitalFulfillment(ctx context.Context, o *order.Order, lines []catalog.CartLine) {
	lg := zctx.From(ctx).With(zap.Stringer("order_id", o.ID))

	persisted, err := s.orders.GetByID(ctx, o.ID)
	if err != nil {
		lg.Error("fulfillment: re-read order", zap.Error(err))
		return
	}

	// Order items do not retain cart line ids, so the language preference
	// is joined back by item name. The join is approximate on purpose.
	langByName := make(map[string]string, len(lines))
	for _, line := range lines {
		if line.Language != "" {
			langByName[line.Name] = line.Language
		}
	}

	languages := make(map[uuid.UUID]string)
	hasDigital := false
	for _, item := range persisted.Items {
		if item.BookID == nil {
			continue
		}
		hasDigital = true
		if lang, ok := langByName[item.Name]; ok {
			languages[item.ID] = lang
		}
	}
	if !hasDigital {
		return
	}

	if err := s.deliverer.Deliver(ctx, persisted.ID, languages); err != nil {
		lg.Warn("digital delivery failed, retryable out-of-band", zap.Error(err))
		return
	}

	// Digital goods need no shipping step: a fully digital order is done
	// the moment delivery is triggered.
	if persisted.AllDigital() {
		at := s.now()
		if err := s.orders.MarkDelivered(ctx, persisted.ID, at); err != nil {
			lg.Error("mark order delivered", zap.Error(err))
			return
		}
		o.Status = order.StatusDelivered
		o.DeliveredAt = &at
	}
}

func (s *Service) sendConfirmation(ctx context.Context, user identity.User, o *order.Order) {
	lg := zctx.From(ctx)

	c := notify.Confirmation{
		OrderID:        o.ID.String(),
		OrderNumber:    o.Number,
		Email:          user.Email,
		Subtotal:       o.Subtotal,
		Tax:            o.Tax,
		ShippingCost:   o.ShippingCost,
		DiscountAmount: o.DiscountAmount,
		Total:          o.Total,
		Items:          make([]notify.ConfirmationItem, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		c.Items = append(c.Items, notify.ConfirmationItem{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			IsDigital: item.IsDigital,
		})
	}

	if err := s.notifier.OrderConfirmed(ctx, c); err != nil {
		lg.Warn("order confirmation dispatch failed",
			zap.Stringer("order_id", o.ID),
			zap.Error(err),
		)
	}
}
