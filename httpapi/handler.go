// Package httpapi exposes the storefront service over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	storefront "goflare.io/storefront"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

const requestTimeout = 30 * time.Second

type Handler struct {
	svc    storefront.Service
	events http.Handler
	logger *zap.Logger
}

// New 建立 HTTP handler；events 為 nil 時不提供 /events
func New(svc storefront.Service, events http.Handler, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		events: events,
		logger: logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/health", h.Health)

	// SSE 連線不能套用逾時
	if h.events != nil {
		r.Method(http.MethodGet, "/events", h.events)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/inventory", h.Inventory)
		r.Post("/convert-currency", h.ConvertCurrency)
		r.Post("/sell", h.Sell)
		r.Post("/restock", h.Restock)
		r.Get("/locations/{id}/movements", h.ListStockMovements)

		r.Route("/payment", func(r chi.Router) {
			r.Post("/start", h.StartPayment)
			r.Get("/confirm", h.ConfirmPayment)
			r.Get("/cancel", h.CancelPayment)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}

// writeServiceError 將服務層錯誤對應到 HTTP 狀態碼
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *models.InsufficientStockError
		validation   *models.ValidationError
		providerErr  *storefront.ProviderError
	)

	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Stock insuficiente en %s (disponible: %d)", insufficient.Name, insufficient.Available))
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, models.ErrWarehouseNotSellable):
		writeError(w, http.StatusBadRequest, "La casa matriz no vende directamente")
	case errors.Is(err, models.ErrLocationNotFound):
		writeError(w, http.StatusNotFound, "Sucursal no encontrada")
	case errors.Is(err, models.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Orden no encontrada")
	case errors.Is(err, storefront.ErrPaymentNotCompleted):
		writeError(w, http.StatusPaymentRequired, "Pago no completado")
	case errors.As(err, &providerErr):
		h.logger.Error("payment provider failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Error al comunicarse con el proveedor de pagos")
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error interno")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.Inventory(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) ConvertCurrency(w http.ResponseWriter, r *http.Request) {
	var req models.ConvertRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ConvertResponse{Error: "Precio inválido"})
		return
	}

	foreign, err := h.svc.ConvertCurrency(r.Context(), req.LocalTotal.Decimal())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ConvertResponse{Error: err.Error()})
		return
	}

	total := models.Amount(foreign)
	writeJSON(w, http.StatusOK, models.ConvertResponse{ForeignTotal: &total})
}

func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentStartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.svc.StartPayment(r.Context(), storefront.StartPaymentParams{
		LocationRef: req.LocationRef,
		Quantity:    req.Quantity,
		LocalTotal:  req.LocalTotal.Decimal(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.PaymentStartResponse{RedirectURL: sess.RedirectURL, Token: sess.Token})
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token requerido")
		return
	}

	o, err := h.svc.ConfirmPayment(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := models.ConfirmResponse{Status: string(o.Status)}
	switch o.Status {
	case enum.OrderStatusAuthorized:
		resp.Message = "Pago autorizado"
	case enum.OrderStatusRejected:
		resp.Message = "Pago rechazado: " + o.FailureReason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token requerido")
		return
	}

	if err := h.svc.RejectPayment(r.Context(), token, "cancelled by customer"); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ConfirmResponse{
		Status:  string(enum.OrderStatusRejected),
		Message: "Pago cancelado",
	})
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req models.SellRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc, err := h.svc.Sell(r.Context(), req.LocationRef, req.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.SellResponse{Message: "Venta realizada", Remaining: loc.Quantity})
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	var req models.RestockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.svc.Restock(r.Context(), req.BranchQuantity, req.WarehouseQuantity); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	snapshot, err := h.svc.Inventory(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) ListStockMovements(w http.ResponseWriter, r *http.Request) {
	id := models.LocationID(chi.URLParam(r, "id"))
	limit := queryUint(r, "limit", 50)
	offset := queryUint(r, "offset", 0)

	movements, err := h.svc.ListStockMovements(r.Context(), id, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func queryUint(r *http.Request, key string, fallback uint64) uint64 {
	v, err := strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
