package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	storefront "goflare.io/storefront"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/product"
)

type stubService struct {
	snapshot *models.InventorySnapshot
	order    *models.Order
	sold     *models.StockLocation
	err      error

	startParams storefront.StartPaymentParams
	rejected    string
}

func (s *stubService) Inventory(context.Context) (*models.InventorySnapshot, error) {
	return s.snapshot, s.err
}

func (s *stubService) ConvertCurrency(_ context.Context, local decimal.Decimal) (decimal.Decimal, error) {
	if local.IsNegative() {
		return decimal.Zero, &models.ValidationError{Field: "localTotal", Reason: "must not be negative"}
	}
	return local.Div(decimal.NewFromInt(900)).Round(2), nil
}

func (s *stubService) StartPayment(_ context.Context, params storefront.StartPaymentParams) (*payment.Session, error) {
	s.startParams = params
	if s.err != nil {
		return nil, s.err
	}
	return &payment.Session{Token: "mock_token_O1", RedirectURL: "http://pay.example/confirm"}, nil
}

func (s *stubService) ConfirmPayment(context.Context, string) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubService) RejectPayment(_ context.Context, token, _ string) error {
	s.rejected = token
	return s.err
}

func (s *stubService) Sell(context.Context, models.LocationID, int) (*models.StockLocation, error) {
	return s.sold, s.err
}

func (s *stubService) Restock(context.Context, int, int) ([]models.StockLocation, error) {
	return nil, s.err
}

func (s *stubService) ListStockMovements(context.Context, models.LocationID, uint64, uint64) ([]*models.StockMovement, error) {
	return []*models.StockMovement{{ID: 1, Quantity: 3, Type: enum.StockMovementTypeOut}}, s.err
}

func (s *stubService) IngestProduct(context.Context, product.CreateProductParams) (*models.Product, error) {
	return nil, s.err
}

func (s *stubService) ProcessEvent(context.Context, *stripe.Event) error { return nil }

func (s *stubService) ListenPaymentEvents(context.Context, *nats.Conn, int) (func(), error) {
	return func() {}, nil
}

func serve(t *testing.T, svc storefront.Service, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	New(svc, nil, zap.NewNop()).Routes().ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandler_Inventory(t *testing.T) {
	svc := &stubService{snapshot: &models.InventorySnapshot{
		Locations: []models.StockLocation{{ID: "1", Name: "North", Quantity: 10, UnitPrice: decimal.NewFromInt(1000)}},
		Warehouse: models.StockLocation{ID: models.WarehouseID, Name: models.WarehouseName, Quantity: 50, UnitPrice: decimal.NewFromInt(800)},
	}}

	rec := serve(t, svc, http.MethodGet, "/inventory?cacheBust=123", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t,
		`{"sucursales":[{"id":1,"nombre":"North","cantidad":10,"precio":1000}],"casa_matriz":{"cantidad":50,"precio":800}}`,
		rec.Body.String())
}

func TestHandler_ConvertCurrency(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodPost, "/convert-currency", `{"localTotal":3000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"foreignTotal":3.33}`, rec.Body.String())

	rec = serve(t, &stubService{}, http.MethodPost, "/convert-currency", `{"localTotal":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Precio inválido", errorMessage(t, rec))

	rec = serve(t, &stubService{}, http.MethodPost, "/convert-currency", `{"localTotal":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_StartPayment(t *testing.T) {
	svc := &stubService{}

	rec := serve(t, svc, http.MethodPost, "/payment/start", `{"localTotal":3000,"locationRef":1,"quantity":3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"redirectUrl":"http://pay.example/confirm","token":"mock_token_O1"}`, rec.Body.String())
	assert.Equal(t, models.LocationID("1"), svc.startParams.LocationRef)
	assert.Equal(t, 3, svc.startParams.Quantity)
	assert.Equal(t, "3000", svc.startParams.LocalTotal.String())
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"insufficient", &models.InsufficientStockError{Name: "North", Available: 5}, http.StatusBadRequest, "Stock insuficiente en North (disponible: 5)"},
		{"warehouse", models.ErrWarehouseNotSellable, http.StatusBadRequest, "La casa matriz no vende directamente"},
		{"not found", models.ErrLocationNotFound, http.StatusNotFound, "Sucursal no encontrada"},
		{"provider", &storefront.ProviderError{Err: errors.New("down")}, http.StatusBadGateway, "Error al comunicarse con el proveedor de pagos"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "Error interno"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &stubService{err: tt.err}, http.MethodPost, "/sell", `{"locationRef":1,"quantity":2}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
}

func TestHandler_Sell(t *testing.T) {
	svc := &stubService{sold: &models.StockLocation{ID: "1", Name: "North", Quantity: 7}}

	rec := serve(t, svc, http.MethodPost, "/sell", `{"locationRef":"1","quantity":3}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Venta realizada","remaining":7}`, rec.Body.String())

	rec = serve(t, svc, http.MethodPost, "/sell", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ConfirmPayment(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/payment/confirm", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc := &stubService{order: &models.Order{Status: enum.OrderStatusRejected, FailureReason: "insufficient stock"}}
	rec = serve(t, svc, http.MethodGet, "/payment/confirm?token=mock_token_O1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"rejected","message":"Pago rechazado: insufficient stock"}`, rec.Body.String())

	svc = &stubService{err: storefront.ErrPaymentNotCompleted}
	rec = serve(t, svc, http.MethodGet, "/payment/confirm?token=cs_1", "")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestHandler_CancelPayment(t *testing.T) {
	svc := &stubService{}

	rec := serve(t, svc, http.MethodGet, "/payment/cancel?token=cs_1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cs_1", svc.rejected)
}

func TestHandler_ListStockMovements(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/locations/casa_matriz/movements?limit=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var movements []models.StockMovement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &movements))
	require.Len(t, movements, 1)
	assert.Equal(t, enum.StockMovementTypeOut, movements[0].Type)
}

func TestHandler_Health(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
