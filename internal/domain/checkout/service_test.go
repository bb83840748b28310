package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/coupon"
	"github.com/veleda/stemshop/internal/domain/order"
	"github.com/veleda/stemshop/internal/domain/pricing"
	"github.com/veleda/stemshop/internal/identity"
	"github.com/veleda/stemshop/internal/notify"
	"github.com/veleda/stemshop/internal/settings"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeProducts struct {
	byID map[uuid.UUID]*catalog.Product
}

func (f *fakeProducts) List(context.Context) ([]catalog.Product, error) { return nil, nil }

func (f *fakeProducts) GetByID(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrNotFound
}

type fakeBooks struct {
	byID map[uuid.UUID]*catalog.Book
}

func (f *fakeBooks) List(context.Context) ([]catalog.Book, error) { return nil, nil }

func (f *fakeBooks) GetByID(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	if b, ok := f.byID[id]; ok {
		return b, nil
	}
	return nil, catalog.ErrNotFound
}

// mockOrders mimics the transactional repository: Create materializes the
// order the way the real store would, and GetByID returns it.
type mockOrders struct {
	mu        sync.Mutex
	created   *order.Order
	createErr error
	getErr    error
	markErr   error

	gotParams   order.CreateParams
	deliveredAt *time.Time
}

func (m *mockOrders) Create(_ context.Context, params order.CreateParams) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gotParams = params
	if m.createErr != nil {
		return nil, m.createErr
	}

	o := &order.Order{
		ID:             uuid.New(),
		Number:         params.Number,
		UserID:         params.UserID,
		Subtotal:       params.Quote.Subtotal,
		Tax:            params.Quote.Tax,
		ShippingCost:   params.Quote.ShippingCost,
		DiscountAmount: params.Quote.Discount,
		Total:          params.Quote.Total,
		Status:         order.StatusProcessing,
		PaymentStatus:  order.PaymentPaid,
	}
	for _, line := range params.Lines {
		item := order.Item{
			ID:        uuid.New(),
			OrderID:   o.ID,
			Name:      line.Name(),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Line.Quantity,
		}
		if line.Kind == catalog.KindDigital {
			bookID := line.Book.ID
			item.BookID = &bookID
			item.IsDigital = true
		} else {
			productID := line.Product.ID
			item.ProductID = &productID
		}
		o.Items = append(o.Items, item)
	}
	m.created = o
	return o, nil
}

func (m *mockOrders) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.created == nil || m.created.ID != id {
		return nil, errors.New("order not found")
	}
	copied := *m.created
	return &copied, nil
}

func (m *mockOrders) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.markErr != nil {
		return m.markErr
	}
	m.deliveredAt = &at
	return nil
}

type mockValidator struct {
	discount *coupon.Discount
	err      error
	gotCode  string
}

func (m *mockValidator) Validate(_ context.Context, code string, _ uuid.UUID, _ decimal.Decimal) (*coupon.Discount, error) {
	m.gotCode = code
	if m.err != nil {
		return nil, m.err
	}
	return m.discount, nil
}

type mockDeliverer struct {
	mu        sync.Mutex
	err       error
	calls     int
	orderID   uuid.UUID
	languages map[uuid.UUID]string
}

func (m *mockDeliverer) Deliver(_ context.Context, orderID uuid.UUID, languages map[uuid.UUID]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.orderID = orderID
	m.languages = languages
	return m.err
}

type mockNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notify.Confirmation
}

func (m *mockNotifier) OrderConfirmed(_ context.Context, c notify.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, c)
	return m.err
}

type fixture struct {
	svc       *Service
	products  *fakeProducts
	books     *fakeBooks
	orders    *mockOrders
	validator *mockValidator
	deliverer *mockDeliverer
	notifier  *mockNotifier
}

func newFixture() *fixture {
	f := &fixture{
		products:  &fakeProducts{byID: make(map[uuid.UUID]*catalog.Product)},
		books:     &fakeBooks{byID: make(map[uuid.UUID]*catalog.Book)},
		orders:    &mockOrders{},
		validator: &mockValidator{},
		deliverer: &mockDeliverer{},
		notifier:  &mockNotifier{},
	}

	cfg := &settings.Static{
		Rate:  dec("0.21"),
		Apply: true,
		MethodPrices: map[string]decimal.Decimal{
			"standard": dec("4.95"),
		},
	}

	f.svc = NewService(
		catalog.NewResolver(f.products, f.books),
		pricing.NewEngine(cfg),
		f.validator,
		f.orders,
		f.deliverer,
		f.notifier,
	)
	return f
}

func (f *fixture) addProduct(name, price string) *catalog.Product {
	p := &catalog.Product{ID: uuid.New(), Name: name, Price: dec(price), Active: true, StockQuantity: 100}
	f.products.byID[p.ID] = p
	return p
}

func (f *fixture) addBook(title, price string, languages ...string) *catalog.Book {
	b := &catalog.Book{ID: uuid.New(), Title: title, Price: dec(price), Active: true, Languages: languages}
	f.books.byID[b.ID] = b
	return b
}

func user() identity.User {
	return identity.User{ID: uuid.New(), Email: "buyer@example.com"}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PlaceOrder(context.Background(), user(), Request{})

	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_AllLinesDropped(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines: []catalog.CartLine{
			{ID: uuid.New(), Quantity: 1},
			{ID: uuid.New(), Quantity: 1},
		},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	assert.ErrorIs(t, err, ErrNoPurchasableLines)
}

func TestPlaceOrder_DroppedLinesReported(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Snap Circuits", "34.99")
	missing := uuid.New()

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines: []catalog.CartLine{
			{ID: p.ID, Quantity: 1},
			{ID: missing, Quantity: 1},
		},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, missing, result.Dropped[0].ID)
	assert.Equal(t, catalog.DropNotFound, result.Dropped[0].Reason)
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, "Snap Circuits", result.Order.Items[0].Name)
}

func TestPlaceOrder_CouponApplied(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Microscope", "89.00")
	f.validator.discount = &coupon.Discount{
		CouponID: uuid.New(),
		Code:     "WELCOME10",
		Amount:   dec("8.90"),
	}

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 1}},
		ShippingMethod:  "standard",
		CouponCode:      "WELCOME10",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", f.validator.gotCode)
	assert.True(t, dec("8.90").Equal(result.Order.DiscountAmount), "got %s", result.Order.DiscountAmount)
	require.NotNil(t, f.orders.gotParams.Discount)
	assert.Equal(t, "WELCOME10", f.orders.gotParams.Discount.Code)
}

func TestPlaceOrder_CouponFailureDoesNotBlock(t *testing.T) {
	for _, sentinel := range []error{
		coupon.ErrInvalidCoupon,
		coupon.ErrCouponExpired,
		coupon.ErrUsageLimitReached,
		coupon.ErrUserLimitReached,
		coupon.ErrMinimumOrderNotMet,
		errors.New("lookup timeout"),
	} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			f := newFixture()
			p := f.addProduct("Rover Kit", "27.50")
			f.validator.err = sentinel

			result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
				Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 1}},
				ShippingMethod:  "standard",
				CouponCode:      "STALE",
				PaymentIntentID: "pi_1",
			})

			require.NoError(t, err)
			assert.True(t, result.Order.DiscountAmount.IsZero())
			assert.Nil(t, f.orders.gotParams.Discount)
		})
	}
}

func TestPlaceOrder_DeclaredDiscountIgnored(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Crystal Lab", "19.90")
	declared := dec("15.00")

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:            []catalog.CartLine{{ID: p.ID, Quantity: 1}},
		ShippingMethod:   "standard",
		DeclaredDiscount: &declared,
		PaymentIntentID:  "pi_1",
	})

	require.NoError(t, err)
	assert.True(t, result.Order.DiscountAmount.IsZero())
}

func TestPlaceOrder_WriterErrorPropagates(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Robot Arm", "49.95")
	f.orders.createErr = &order.InsufficientStockError{ProductID: p.ID, Requested: 3}

	_, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 3}},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Requested)

	// Nothing committed, so no side effects may run.
	assert.Zero(t, f.deliverer.calls)
	assert.Empty(t, f.notifier.sent)
}

func TestPlaceOrder_AllDigitalAutoDelivered(t *testing.T) {
	f := newFixture()
	b := f.addBook("Space Atlas", "15.00", "en", "nl")

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:           []catalog.CartLine{{ID: b.ID, Name: "Space Atlas", Quantity: 1, Language: "nl"}},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, f.deliverer.calls)
	assert.Equal(t, result.Order.ID, f.deliverer.orderID)
	require.NotNil(t, f.orders.deliveredAt)
	assert.Equal(t, order.StatusDelivered, result.Order.Status)
	assert.NotNil(t, result.Order.DeliveredAt)

	// Language preference joined back to the persisted item.
	require.Len(t, f.deliverer.languages, 1)
	for _, lang := range f.deliverer.languages {
		assert.Equal(t, "nl", lang)
	}
}

func TestPlaceOrder_MixedOrderStaysProcessing(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Solar Rover", "27.50")
	b := f.addBook("Experiments", "9.50", "en")

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines: []catalog.CartLine{
			{ID: p.ID, Quantity: 1},
			{ID: b.ID, Quantity: 1},
		},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, f.deliverer.calls, "digital item still delivered")
	assert.Nil(t, f.orders.deliveredAt, "physical items keep the order open")
	assert.Equal(t, order.StatusProcessing, result.Order.Status)
}

func TestPlaceOrder_PhysicalOnlySkipsDelivery(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Magnet Set", "8.00")

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 2}},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	assert.Zero(t, f.deliverer.calls)
	assert.Equal(t, order.StatusProcessing, result.Order.Status)
}

func TestPlaceOrder_DeliveryFailureAbsorbed(t *testing.T) {
	f := newFixture()
	b := f.addBook("Handbook", "12.99", "en")
	f.deliverer.err = errors.New("delivery service down")

	result, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:           []catalog.CartLine{{ID: b.ID, Quantity: 1}},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err, "the committed order must be returned")
	assert.Nil(t, f.orders.deliveredAt, "failed delivery must not auto-complete the order")
	assert.Equal(t, order.StatusProcessing, result.Order.Status)
}

func TestPlaceOrder_NotifierFailureAbsorbed(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Starter Kit", "34.99")
	f.notifier.err = errors.New("broker unavailable")

	_, err := f.svc.PlaceOrder(context.Background(), user(), Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 1}},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
}

func TestPlaceOrder_ConfirmationContent(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Hydraulic Arm", "49.95")
	u := user()

	result, err := f.svc.PlaceOrder(context.Background(), u, Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 2}},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1)

	c := f.notifier.sent[0]
	assert.Equal(t, result.Order.Number, c.OrderNumber)
	assert.Equal(t, u.Email, c.Email)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Hydraulic Arm", c.Items[0].Name)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.True(t, result.Order.Total.Equal(c.Total))
}

func TestPlaceOrder_AddressBoundToUser(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Kit", "10.00")
	u := user()

	_, err := f.svc.PlaceOrder(context.Background(), u, Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 1}},
		ShippingAddress: order.Address{FullName: "A. Buyer", Line1: "Main St 1", City: "Utrecht", PostalCode: "3511AA"},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	assert.Equal(t, u.ID, f.orders.gotParams.Address.UserID)
	assert.Equal(t, "A. Buyer", f.orders.gotParams.Address.FullName)
	assert.Nil(t, f.orders.gotParams.BillingAddress)
}

func TestPlaceOrder_BillingAddressBoundToUser(t *testing.T) {
	f := newFixture()
	p := f.addProduct("Kit", "10.00")
	u := user()

	_, err := f.svc.PlaceOrder(context.Background(), u, Request{
		Lines:           []catalog.CartLine{{ID: p.ID, Quantity: 1}},
		ShippingAddress: order.Address{FullName: "A. Buyer", Line1: "Main St 1", City: "Utrecht", PostalCode: "3511AA"},
		BillingAddress:  &order.Address{FullName: "Finance Dept", Line1: "Invoice Rd 9", City: "Leiden", PostalCode: "2311GJ"},
		ShippingMethod:  "standard",
		PaymentIntentID: "pi_1",
	})

	require.NoError(t, err)
	billing := f.orders.gotParams.BillingAddress
	require.NotNil(t, billing)
	assert.Equal(t, u.ID, billing.UserID)
	assert.Equal(t, "Finance Dept", billing.FullName)
}
