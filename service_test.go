package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/event"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/product"
	"goflare.io/storefront/stock"
)

type fakeStock struct {
	mu            sync.Mutex
	locations     map[models.LocationID]*models.StockLocation
	movements     []stock.CreateStockMovementParams
	invalidations int
}

func newFakeStock() *fakeStock {
	return &fakeStock{locations: map[models.LocationID]*models.StockLocation{
		"1":                {ID: "1", Name: "North", Quantity: 10, UnitPrice: decimal.NewFromInt(1000)},
		"2":                {ID: "2", Name: "South", Quantity: 5, UnitPrice: decimal.NewFromInt(1500)},
		models.WarehouseID: {ID: models.WarehouseID, Name: models.WarehouseName, Quantity: 100, UnitPrice: decimal.NewFromInt(800)},
	}}
}

func (f *fakeStock) sortedIDs() []models.LocationID {
	ids := make([]models.LocationID, 0, len(f.locations))
	for id := range f.locations {
		if !id.IsWarehouse() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeStock) quantity(id models.LocationID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locations[id].Quantity
}

func (f *fakeStock) GetSnapshot(context.Context, pgx.Tx) (*models.InventorySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := &models.InventorySnapshot{Warehouse: *f.locations[models.WarehouseID]}
	for _, id := range f.sortedIDs() {
		snapshot.Locations = append(snapshot.Locations, *f.locations[id])
	}
	return snapshot, nil
}

func (f *fakeStock) GetLocation(_ context.Context, _ pgx.Tx, id models.LocationID) (*models.StockLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, ok := f.locations[id]
	if !ok {
		return nil, models.ErrLocationNotFound
	}
	cp := *loc
	return &cp, nil
}

func (f *fakeStock) DecrementStock(_ context.Context, _ pgx.Tx, id models.LocationID, quantity int) (*models.StockLocation, error) {
	if id.IsWarehouse() {
		return nil, models.ErrWarehouseNotSellable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, ok := f.locations[id]
	if !ok {
		return nil, models.ErrLocationNotFound
	}
	if loc.Quantity < quantity {
		return nil, &models.InsufficientStockError{Name: loc.Name, Available: loc.Quantity}
	}
	loc.Quantity -= quantity
	cp := *loc
	return &cp, nil
}

func (f *fakeStock) SetAllQuantities(_ context.Context, _ pgx.Tx, branchQuantity, warehouseQuantity int) ([]models.StockLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var updated []models.StockLocation
	for _, id := range f.sortedIDs() {
		f.locations[id].Quantity = branchQuantity
		updated = append(updated, *f.locations[id])
	}
	f.locations[models.WarehouseID].Quantity = warehouseQuantity
	return append(updated, *f.locations[models.WarehouseID]), nil
}

func (f *fakeStock) CreateStockMovements(_ context.Context, _ pgx.Tx, params []stock.CreateStockMovementParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movements = append(f.movements, params...)
	return nil
}

func (f *fakeStock) ListStockMovements(_ context.Context, _ pgx.Tx, id models.LocationID, limit, _ uint64) ([]*models.StockMovement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StockMovement
	for _, m := range f.movements {
		if m.LocationID == id && uint64(len(out)) < limit {
			out = append(out, &models.StockMovement{LocationID: m.LocationID, Quantity: m.Quantity, Type: m.Type, ReferenceType: m.ReferenceType, ReferenceID: m.ReferenceID})
		}
	}
	return out, nil
}

func (f *fakeStock) InvalidateSnapshot(context.Context) {
	f.mu.Lock()
	f.invalidations++
	f.mu.Unlock()
}

type fakeOrders struct {
	mu     sync.Mutex
	nextID uint64
	orders map[string]*models.Order
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]*models.Order)}
}

func (f *fakeOrders) CreateOrder(_ context.Context, _ pgx.Tx, o *models.Order) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *o
	cp.ID = f.nextID
	f.orders[cp.Token] = &cp
	out := cp
	return &out, nil
}

func (f *fakeOrders) GetOrderByToken(_ context.Context, _ pgx.Tx, token string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[token]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, _ pgx.Tx, params order.UpdateStatusParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == params.OrderID {
			o.Status = params.Status
			o.FailureReason = params.FailureReason
			return nil
		}
	}
	return models.ErrOrderNotFound
}

func (f *fakeOrders) only(t *testing.T) *models.Order {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.orders, 1)
	for _, o := range f.orders {
		cp := *o
		return &cp
	}
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func (f *fakeEvents) Create(_ context.Context, e *models.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[e.ID]; ok {
		return false, nil
	}
	cp := *e
	f.events[e.ID] = &cp
	return true, nil
}

func (f *fakeEvents) GetByID(_ context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, event.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEvents) MarkAsProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].Processed = true
	return nil
}

type inlineTx struct{}

func (inlineTx) ExecuteTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (inlineTx) ExecuteSerializableTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type recordingPublisher struct {
	mu     sync.Mutex
	deltas []models.StockDelta
}

func (p *recordingPublisher) Publish(_ context.Context, delta models.StockDelta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, delta)
	return nil
}

func (p *recordingPublisher) published() []models.StockDelta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StockDelta(nil), p.deltas...)
}

type failingProvider struct{}

func (failingProvider) CreateSession(context.Context, payment.SessionParams) (*payment.Session, error) {
	return nil, errors.New("gateway down")
}

func (failingProvider) Verify(context.Context, string) (bool, error) {
	return false, errors.New("gateway down")
}

type fakeProducts struct {
	mu      sync.Mutex
	created []models.Product
}

func (f *fakeProducts) CreateProduct(_ context.Context, _ pgx.Tx, params product.CreateProductParams) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.created {
		if p.Name == params.Name {
			return nil, models.ErrProductExists
		}
	}
	p := models.Product{
		ID:           uint64(len(f.created) + 1),
		Name:         params.Name,
		Description:  params.Description,
		Price:        params.Price,
		InitialStock: params.InitialStock,
		Photo:        params.Photo,
	}
	f.created = append(f.created, p)
	return &p, nil
}

type fixture struct {
	svc       *service
	stock     *fakeStock
	orders    *fakeOrders
	events    *fakeEvents
	products  *fakeProducts
	publisher *recordingPublisher
}

func newFixture(t *testing.T, provider payment.Provider) *fixture {
	t.Helper()
	f := &fixture{
		stock:     newFakeStock(),
		orders:    newFakeOrders(),
		events:    &fakeEvents{events: make(map[string]*models.Event)},
		products:  &fakeProducts{},
		publisher: &recordingPublisher{},
	}
	if provider == nil {
		provider = payment.NewMockProvider("http://localhost:8080")
	}
	f.svc = NewService(Deps{
		Stock:     f.stock,
		Order:     f.orders,
		Event:     f.events,
		Product:   f.products,
		Tx:        inlineTx{},
		Payments:  provider,
		Publisher: f.publisher,
	}, zap.NewNop()).(*service)
	return f
}

func TestService_ConvertCurrency(t *testing.T) {
	f := newFixture(t, nil)

	got, err := f.svc.ConvertCurrency(context.Background(), decimal.NewFromInt(3000))
	require.NoError(t, err)
	assert.Equal(t, "3.33", got.String())

	got, err = f.svc.ConvertCurrency(context.Background(), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = f.svc.ConvertCurrency(context.Background(), decimal.NewFromInt(-1))
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestService_ConvertCurrencyCustomRate(t *testing.T) {
	svc := NewService(Deps{Rate: decimal.RequireFromString("937.5")}, zap.NewNop())

	got, err := svc.ConvertCurrency(context.Background(), decimal.NewFromInt(3000))

	require.NoError(t, err)
	assert.Equal(t, "3.2", got.String())
}

func TestService_StartPayment(t *testing.T) {
	f := newFixture(t, nil)

	sess, err := f.svc.StartPayment(context.Background(), StartPaymentParams{
		LocationRef: "1",
		Quantity:    3,
		LocalTotal:  decimal.NewFromInt(1),
	})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.Token, "mock_token_O"))
	assert.Contains(t, sess.RedirectURL, "/payment/confirm?token=")

	o := f.orders.only(t)
	assert.Equal(t, sess.Token, o.Token)
	assert.Equal(t, enum.OrderStatusInitiated, o.Status)
	assert.Equal(t, "3000", o.Amount.String())
	assert.Equal(t, 3, o.Quantity)
	assert.Equal(t, 10, f.stock.quantity("1"), "stock is only taken on confirmation")
}

func TestService_StartPaymentRejects(t *testing.T) {
	tests := []struct {
		name   string
		params StartPaymentParams
		check  func(t *testing.T, err error)
	}{
		{
			name:   "warehouse",
			params: StartPaymentParams{LocationRef: models.WarehouseID, Quantity: 1},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, models.ErrWarehouseNotSellable) },
		},
		{
			name:   "zero quantity",
			params: StartPaymentParams{LocationRef: "1", Quantity: 0},
			check: func(t *testing.T, err error) {
				var validation *models.ValidationError
				assert.ErrorAs(t, err, &validation)
			},
		},
		{
			name:   "unknown location",
			params: StartPaymentParams{LocationRef: "99", Quantity: 1},
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, models.ErrLocationNotFound) },
		},
		{
			name:   "insufficient stock",
			params: StartPaymentParams{LocationRef: "2", Quantity: 6},
			check: func(t *testing.T, err error) {
				var insufficient *models.InsufficientStockError
				require.ErrorAs(t, err, &insufficient)
				assert.Equal(t, 5, insufficient.Available)
				assert.Equal(t, "South", insufficient.Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.svc.StartPayment(context.Background(), tt.params)
			tt.check(t, err)
			assert.Empty(t, f.orders.orders)
		})
	}
}

func TestService_StartPaymentProviderFailure(t *testing.T) {
	f := newFixture(t, failingProvider{})

	_, err := f.svc.StartPayment(context.Background(), StartPaymentParams{LocationRef: "1", Quantity: 1})

	var providerErr *ProviderError
	assert.ErrorAs(t, err, &providerErr)
	assert.Empty(t, f.orders.orders)
}

func TestService_ConfirmPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartPayment(ctx, StartPaymentParams{LocationRef: "1", Quantity: 3})
	require.NoError(t, err)

	o, err := f.svc.ConfirmPayment(ctx, sess.Token)

	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusAuthorized, o.Status)
	assert.Equal(t, 7, f.stock.quantity("1"))
	assert.Equal(t, []models.StockDelta{{TargetID: "1", Name: "North", NewQuantity: 7}}, f.publisher.published())
	assert.Equal(t, 1, f.stock.invalidations)
	require.Len(t, f.stock.movements, 1)
	assert.Equal(t, enum.StockMovementTypeOut, f.stock.movements[0].Type)
	assert.Equal(t, enum.StockMovementReferenceTypeOrder, f.stock.movements[0].ReferenceType)
	assert.Equal(t, o.BuyOrder, f.stock.movements[0].ReferenceID)

	// 重複確認不會再次扣減
	again, err := f.svc.ConfirmPayment(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusAuthorized, again.Status)
	assert.Equal(t, 7, f.stock.quantity("1"))
	assert.Len(t, f.publisher.published(), 1)
}

func TestService_ConfirmPaymentInsufficientAtConfirmation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartPayment(ctx, StartPaymentParams{LocationRef: "2", Quantity: 4})
	require.NoError(t, err)

	_, err = f.svc.Sell(ctx, "2", 3)
	require.NoError(t, err)

	o, err := f.svc.ConfirmPayment(ctx, sess.Token)

	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusRejected, o.Status)
	assert.Contains(t, o.FailureReason, "insufficient stock")
	assert.Equal(t, 2, f.stock.quantity("2"))
	assert.Equal(t, enum.OrderStatusRejected, f.orders.only(t).Status)
	assert.Len(t, f.publisher.published(), 1, "only the direct sale was announced")
}

func TestService_ConfirmPaymentNotPaid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.orders.CreateOrder(ctx, nil, &models.Order{
		BuyOrder: "O1", Token: "cs_unpaid", LocationID: "1", Quantity: 1, Status: enum.OrderStatusInitiated,
	})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, "cs_unpaid")

	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, enum.OrderStatusRejected, f.orders.only(t).Status)
	assert.Equal(t, 10, f.stock.quantity("1"))
}

func TestService_ConfirmPaymentUnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ConfirmPayment(context.Background(), "mock_token_missing")

	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestService_RejectPaymentKeepsSettledOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartPayment(ctx, StartPaymentParams{LocationRef: "1", Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, sess.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.RejectPayment(ctx, sess.Token, "late cancel"))

	assert.Equal(t, enum.OrderStatusAuthorized, f.orders.only(t).Status)
}

func TestService_Sell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	loc, err := f.svc.Sell(ctx, "1", 4)
	require.NoError(t, err)
	assert.Equal(t, 6, loc.Quantity)
	assert.Equal(t, []models.StockDelta{{TargetID: "1", Name: "North", NewQuantity: 6}}, f.publisher.published())
	assert.Equal(t, enum.StockMovementReferenceTypeSale, f.stock.movements[0].ReferenceType)

	_, err = f.svc.Sell(ctx, models.WarehouseID, 1)
	assert.ErrorIs(t, err, models.ErrWarehouseNotSellable)

	_, err = f.svc.Sell(ctx, "1", 7)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 6, f.stock.quantity("1"))

	_, err = f.svc.Sell(ctx, "1", -2)
	var validation *models.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestService_Restock(t *testing.T) {
	f := newFixture(t, nil)

	updated, err := f.svc.Restock(context.Background(), 20, 500)

	require.NoError(t, err)
	require.Len(t, updated, 3)
	assert.Equal(t, []models.StockDelta{
		{TargetID: "1", Name: "North", NewQuantity: 20},
		{TargetID: "2", Name: "South", NewQuantity: 20},
		{TargetID: models.WarehouseID, Name: models.WarehouseName, NewQuantity: 500},
	}, f.publisher.published())
	assert.Len(t, f.stock.movements, 3)
	assert.Equal(t, 1, f.stock.invalidations)

	movements, err := f.svc.ListStockMovements(context.Background(), models.WarehouseID, 0, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, enum.StockMovementTypeSet, movements[0].Type)
}

func checkoutEvent(id string, eventType stripe.EventType, sessionID, paymentStatus string) *stripe.Event {
	raw, _ := json.Marshal(map[string]string{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": paymentStatus,
	})
	return &stripe.Event{ID: id, Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestService_ProcessEventCompletedOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartPayment(ctx, StartPaymentParams{LocationRef: "1", Quantity: 2})
	require.NoError(t, err)

	e := checkoutEvent("evt_1", stripe.EventTypeCheckoutSessionCompleted, sess.Token, "paid")
	require.NoError(t, f.svc.ProcessEvent(ctx, e))
	require.NoError(t, f.svc.ProcessEvent(ctx, e))

	assert.Equal(t, enum.OrderStatusAuthorized, f.orders.only(t).Status)
	assert.Equal(t, 8, f.stock.quantity("1"))
	assert.Len(t, f.publisher.published(), 1)
	assert.True(t, f.events.events["evt_1"].Processed)
}

func TestService_ProcessEventUnpaidCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartPayment(ctx, StartPaymentParams{LocationRef: "1", Quantity: 2})
	require.NoError(t, err)

	e := checkoutEvent("evt_2", stripe.EventTypeCheckoutSessionCompleted, sess.Token, "unpaid")
	require.NoError(t, f.svc.ProcessEvent(ctx, e))

	assert.Equal(t, enum.OrderStatusInitiated, f.orders.only(t).Status)
	assert.Equal(t, 10, f.stock.quantity("1"))
}

func TestService_ProcessEventExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartPayment(ctx, StartPaymentParams{LocationRef: "1", Quantity: 2})
	require.NoError(t, err)

	e := checkoutEvent("evt_3", stripe.EventTypeCheckoutSessionExpired, sess.Token, "unpaid")
	require.NoError(t, f.svc.ProcessEvent(ctx, e))

	o := f.orders.only(t)
	assert.Equal(t, enum.OrderStatusRejected, o.Status)
	assert.Equal(t, "checkout session expired", o.FailureReason)
}

func TestService_ProcessEventRetriesAfterFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	e := checkoutEvent("evt_4", stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, "mock_token_late", "paid")
	require.Error(t, f.svc.ProcessEvent(ctx, e))
	assert.False(t, f.events.events["evt_4"].Processed)

	_, err := f.orders.CreateOrder(ctx, nil, &models.Order{
		BuyOrder: "late", Token: "mock_token_late", LocationID: "2", Quantity: 1, Status: enum.OrderStatusInitiated,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessEvent(ctx, e))
	assert.Equal(t, enum.OrderStatusAuthorized, f.orders.only(t).Status)
	assert.True(t, f.events.events["evt_4"].Processed)
}

func TestService_ProcessEventIgnoresUnknownType(t *testing.T) {
	f := newFixture(t, nil)

	err := f.svc.ProcessEvent(context.Background(), &stripe.Event{ID: "evt_5", Type: stripe.EventTypeChargeRefunded})

	require.NoError(t, err)
	assert.Empty(t, f.events.events)
}

func TestService_IngestProduct(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.IngestProduct(ctx, product.CreateProductParams{
		Name:         "  Taladro  ",
		Description:  "Taladro percutor",
		Price:        decimal.RequireFromString("49990"),
		InitialStock: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "Taladro", created.Name)
	assert.Equal(t, 12, created.InitialStock)

	_, err = f.svc.IngestProduct(ctx, product.CreateProductParams{Name: "Taladro", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrProductExists)
}

func TestService_IngestProductRejects(t *testing.T) {
	tests := []struct {
		name   string
		params product.CreateProductParams
	}{
		{"empty name", product.CreateProductParams{Name: " ", Price: decimal.NewFromInt(10)}},
		{"zero price", product.CreateProductParams{Name: "Martillo", Price: decimal.Zero}},
		{"negative price", product.CreateProductParams{Name: "Martillo", Price: decimal.NewFromInt(-5)}},
		{"negative stock", product.CreateProductParams{Name: "Martillo", Price: decimal.NewFromInt(10), InitialStock: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.svc.IngestProduct(context.Background(), tt.params)

			var validation *models.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Empty(t, f.products.created)
		})
	}
}
