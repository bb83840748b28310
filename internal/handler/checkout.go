package handler

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/checkout"
	"github.com/veleda/stemshop/internal/domain/order"
	"github.com/veleda/stemshop/internal/domain/pricing"
	"github.com/veleda/stemshop/internal/identity"
)

type checkoutItemDTO struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	IsBook   bool            `json:"isBook"`
	Language string          `json:"language,omitempty"`
}

type addressDTO struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (d addressDTO) toAddress() order.Address {
	return order.Address{
		FullName:   d.FullName,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

type checkoutRequestDTO struct {
	Items           []checkoutItemDTO `json:"items"`
	ShippingAddress addressDTO        `json:"shippingAddress"`
	BillingAddress  *addressDTO       `json:"billingAddress,omitempty"`
	ShippingMethod  string            `json:"shippingMethod"`
	CouponCode      string            `json:"couponCode,omitempty"`
	DiscountAmount  *decimal.Decimal  `json:"discountAmount,omitempty"`
	Subtotal        *decimal.Decimal  `json:"subtotal,omitempty"`
	Tax             *decimal.Decimal  `json:"tax,omitempty"`
	ShippingCost    *decimal.Decimal  `json:"shippingCost,omitempty"`
	Total           *decimal.Decimal  `json:"total,omitempty"`
	PaymentIntentID string            `json:"paymentIntentId"`
	GuestEmail      string            `json:"guestEmail,omitempty"`
	// AcceptGuest must accompany GuestEmail: the client confirms the buyer
	// chose guest checkout rather than leaking an email into a new account.
	AcceptGuest bool `json:"acceptGuest,omitempty"`
}

// validate returns field-keyed messages for everything wrong with the
// request. An empty map means the request is well-formed.
func (d *checkoutRequestDTO) validate() map[string]string {
	fields := make(map[string]string)

	if len(d.Items) == 0 {
		fields["items"] = "at least one item is required"
	}
	for i, item := range d.Items {
		key := "items[" + strconv.Itoa(i) + "]"
		if _, err := uuid.Parse(item.ID); err != nil {
			fields[key+".id"] = "must be a valid UUID"
		}
		if item.Quantity < 1 {
			fields[key+".quantity"] = "must be at least 1"
		}
	}

	validateAddress(fields, "shippingAddress", d.ShippingAddress)
	if d.BillingAddress != nil {
		validateAddress(fields, "billingAddress", *d.BillingAddress)
	}

	if d.ShippingMethod == "" {
		fields["shippingMethod"] = "required"
	}
	if d.PaymentIntentID == "" {
		fields["paymentIntentId"] = "required"
	}
	if d.GuestEmail != "" {
		if _, err := mail.ParseAddress(d.GuestEmail); err != nil {
			fields["guestEmail"] = "must be a valid email address"
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

func validateAddress(fields map[string]string, key string, addr addressDTO) {
	if addr.FullName == "" {
		fields[key+".fullName"] = "required"
	}
	if addr.Line1 == "" {
		fields[key+".line1"] = "required"
	}
	if addr.City == "" {
		fields[key+".city"] = "required"
	}
	if addr.PostalCode == "" {
		fields[key+".postalCode"] = "required"
	}
	if addr.Country == "" {
		fields[key+".country"] = "required"
	}
}

func (d *checkoutRequestDTO) toRequest() checkout.Request {
	lines := make([]catalog.CartLine, 0, len(d.Items))
	for _, item := range d.Items {
		id, _ := uuid.Parse(item.ID)
		lines = append(lines, catalog.CartLine{
			ID:       id,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			IsBook:   item.IsBook,
			Language: item.Language,
		})
	}

	var billing *order.Address
	if d.BillingAddress != nil {
		b := d.BillingAddress.toAddress()
		billing = &b
	}

	return checkout.Request{
		Lines:            lines,
		ShippingAddress:  d.ShippingAddress.toAddress(),
		BillingAddress:   billing,
		ShippingMethod:   d.ShippingMethod,
		CouponCode:       d.CouponCode,
		DeclaredDiscount: d.DiscountAmount,
		Overrides: pricing.Overrides{
			Subtotal:     d.Subtotal,
			Tax:          d.Tax,
			ShippingCost: d.ShippingCost,
			Total:        d.Total,
		},
		PaymentIntentID: d.PaymentIntentID,
	}
}

type acceptedLineDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	IsDigital bool            `json:"isDigital"`
}

type droppedLineDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

type checkoutLinesDTO struct {
	Accepted []acceptedLineDTO `json:"accepted"`
	Dropped  []droppedLineDTO  `json:"dropped"`
}

type checkoutResponseDTO struct {
	OrderID          string           `json:"orderId"`
	OrderNumber      string           `json:"orderNumber"`
	Status           string           `json:"status"`
	BillingAddressID string           `json:"billingAddressId,omitempty"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Tax              decimal.Decimal  `json:"tax"`
	ShippingCost     decimal.Decimal  `json:"shippingCost"`
	DiscountAmount   decimal.Decimal  `json:"discountAmount"`
	Total            decimal.Decimal  `json:"total"`
	Lines            checkoutLinesDTO `json:"lines"`
}

// POST /checkout/order
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	var req checkoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if fields := req.validate(); fields != nil {
		respondFieldErrors(w, fields)
		return
	}

	user, ok := h.resolveUser(w, r, req.GuestEmail, req.AcceptGuest)
	if !ok {
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, *user, req.toRequest())
	if err != nil {
		var (
			stockErr  *order.InsufficientStockError
			couponErr *order.CouponExhaustedError
		)
		switch {
		case errors.Is(err, checkout.ErrEmptyCart),
			errors.Is(err, checkout.ErrNoPurchasableLines):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &stockErr):
			respondError(w, http.StatusConflict, stockErr.Error())
		case errors.As(err, &couponErr):
			respondError(w, http.StatusConflict, couponErr.Error())
		default:
			lg.Error("place order", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusOK, toCheckoutResponse(result))
}

// resolveUser identifies the caller: a bearer session token when present,
// otherwise the guest checkout email plus its confirmation flag. Writes the
// error response itself and returns ok=false when identification fails.
func (h *Handler) resolveUser(w http.ResponseWriter, r *http.Request, guestEmail string, acceptGuest bool) (*identity.User, bool) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	auth := r.Header.Get("Authorization")
	if auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusForbidden, "malformed authorization header")
			return nil, false
		}
		user, err := h.identity.FromToken(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrNoSession),
				errors.Is(err, identity.ErrSessionExpired):
				respondError(w, http.StatusForbidden, "invalid or expired session")
			default:
				lg.Error("resolve session", zap.Error(err))
				respondError(w, http.StatusInternalServerError, "internal error")
			}
			return nil, false
		}
		return user, true
	}

	if guestEmail == "" {
		respondError(w, http.StatusUnauthorized, "authentication or guestEmail required")
		return nil, false
	}
	if !acceptGuest {
		respondError(w, http.StatusUnauthorized, "guest checkout requires acceptGuest")
		return nil, false
	}
	user, err := h.identity.Guest(ctx, guestEmail)
	if err != nil {
		lg.Error("resolve guest", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return user, true
}

func toCheckoutResponse(result *checkout.Result) checkoutResponseDTO {
	o := result.Order

	resp := checkoutResponseDTO{
		OrderID:        o.ID.String(),
		OrderNumber:    o.Number,
		Status:         string(o.Status),
		Subtotal:       o.Subtotal,
		Tax:            o.Tax,
		ShippingCost:   o.ShippingCost,
		DiscountAmount: o.DiscountAmount,
		Total:          o.Total,
		Lines: checkoutLinesDTO{
			Accepted: make([]acceptedLineDTO, 0, len(o.Items)),
			Dropped:  make([]droppedLineDTO, 0, len(result.Dropped)),
		},
	}
	if o.BillingAddressID != nil {
		resp.BillingAddressID = o.BillingAddressID.String()
	}
	for _, item := range o.Items {
		resp.Lines.Accepted = append(resp.Lines.Accepted, acceptedLineDTO{
			ID:        item.ID.String(),
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			IsDigital: item.IsDigital,
		})
	}
	for _, dropped := range result.Dropped {
		resp.Lines.Dropped = append(resp.Lines.Dropped, droppedLineDTO{
			ID:     dropped.ID.String(),
			Name:   dropped.Name,
			Reason: string(dropped.Reason),
		})
	}
	return resp
}
