package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/event"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/product"
	"goflare.io/storefront/stock"
	"goflare.io/storefront/stream"
)

var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
)

// ProviderError 表示付款服務商呼叫失敗
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider unavailable: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type Service interface {
	Inventory(ctx context.Context) (*models.InventorySnapshot, error)
	ConvertCurrency(ctx context.Context, localTotal decimal.Decimal) (decimal.Decimal, error)

	StartPayment(ctx context.Context, params StartPaymentParams) (*payment.Session, error)
	ConfirmPayment(ctx context.Context, token string) (*models.Order, error)
	RejectPayment(ctx context.Context, token, reason string) error

	Sell(ctx context.Context, id models.LocationID, quantity int) (*models.StockLocation, error)
	Restock(ctx context.Context, branchQuantity, warehouseQuantity int) ([]models.StockLocation, error)
	ListStockMovements(ctx context.Context, id models.LocationID, limit, offset uint64) ([]*models.StockMovement, error)

	IngestProduct(ctx context.Context, params product.CreateProductParams) (*models.Product, error)

	ProcessEvent(ctx context.Context, event *stripe.Event) error
	ListenPaymentEvents(ctx context.Context, conn *nats.Conn, workers int) (func(), error)
}

type StartPaymentParams struct {
	LocationRef models.LocationID
	Quantity    int
	LocalTotal  decimal.Decimal
}

type Deps struct {
	Stock     stock.Repository
	Order     order.Repository
	Event     event.Repository
	Product   product.Repository
	Tx        driver.TxRunner
	Payments  payment.Provider
	Publisher stream.Publisher
	Rate      decimal.Decimal
}

var _ Service = (*service)(nil)

type service struct {
	stock     stock.Repository
	order     order.Repository
	event     event.Repository
	product   product.Repository
	payments  payment.Provider
	publisher stream.Publisher
	rate      decimal.Decimal

	transactionManager driver.TxRunner
	eventManager       *EventManager

	now    func() time.Time
	logger *zap.Logger
}

func NewService(deps Deps, logger *zap.Logger) Service {
	rate := deps.Rate
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(900)
	}
	s := &service{
		stock:              deps.Stock,
		order:              deps.Order,
		event:              deps.Event,
		product:            deps.Product,
		payments:           deps.Payments,
		publisher:          deps.Publisher,
		rate:               rate,
		transactionManager: deps.Tx,
		now:                time.Now,
		logger:             logger,
	}
	s.eventManager = NewEventManager(logger)
	s.registerEventHandlers()
	return s
}

func (s *service) Inventory(ctx context.Context) (*models.InventorySnapshot, error) {
	snapshot, err := s.stock.GetSnapshot(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	return snapshot, nil
}

// ConvertCurrency 以固定匯率換算並四捨五入到兩位小數
func (s *service) ConvertCurrency(_ context.Context, localTotal decimal.Decimal) (decimal.Decimal, error) {
	if localTotal.IsNegative() {
		return decimal.Zero, &models.ValidationError{Field: "localTotal", Reason: "must not be negative"}
	}
	return localTotal.Div(s.rate).Round(2), nil
}

// StartPayment 驗證庫存並建立付款工作階段；金額以伺服器端價格重新計算
func (s *service) StartPayment(ctx context.Context, params StartPaymentParams) (*payment.Session, error) {
	if params.LocationRef.IsWarehouse() {
		return nil, models.ErrWarehouseNotSellable
	}
	if params.Quantity <= 0 {
		return nil, &models.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}

	loc, err := s.stock.GetLocation(ctx, nil, params.LocationRef)
	if err != nil {
		return nil, err
	}
	if loc.Quantity < params.Quantity {
		return nil, &models.InsufficientStockError{Name: loc.Name, Available: loc.Quantity}
	}

	amount := loc.UnitPrice.Mul(decimal.NewFromInt(int64(params.Quantity)))
	if !params.LocalTotal.IsZero() && !params.LocalTotal.Equal(amount) {
		s.logger.Warn("client total differs from server price",
			zap.String("location_id", loc.ID.String()),
			zap.String("client_total", params.LocalTotal.String()),
			zap.String("server_total", amount.String()))
	}

	buyOrder := newBuyOrder()
	sess, err := s.payments.CreateSession(ctx, payment.SessionParams{
		BuyOrder:     buyOrder,
		LocationName: loc.Name,
		Quantity:     params.Quantity,
		UnitPrice:    loc.UnitPrice,
		Amount:       amount,
	})
	if err != nil {
		return nil, &ProviderError{Err: err}
	}

	created, err := s.order.CreateOrder(ctx, nil, &models.Order{
		BuyOrder:   buyOrder,
		Token:      sess.Token,
		Amount:     amount,
		LocationID: loc.ID,
		Quantity:   params.Quantity,
		Status:     enum.OrderStatusInitiated,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("payment started",
		zap.String("buy_order", created.BuyOrder),
		zap.String("location_id", loc.ID.String()),
		zap.Int("quantity", params.Quantity),
		zap.String("amount", amount.String()))

	return sess, nil
}

// ConfirmPayment asks the provider whether token was paid and, if so,
// authorizes the order. Confirming a token twice is a no-op.
func (s *service) ConfirmPayment(ctx context.Context, token string) (*models.Order, error) {
	paid, err := s.payments.Verify(ctx, token)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	if !paid {
		if err := s.RejectPayment(ctx, token, ErrPaymentNotCompleted.Error()); err != nil {
			return nil, err
		}
		return nil, ErrPaymentNotCompleted
	}
	return s.authorize(ctx, token)
}

// authorize 在交易內扣減庫存並將訂單標記為 authorized；庫存不足時改為 rejected
func (s *service) authorize(ctx context.Context, token string) (*models.Order, error) {
	var (
		result *models.Order
		delta  *models.StockDelta
	)

	err := s.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		result, delta = nil, nil

		// 1. 鎖定訂單
		orderModel, err := s.order.GetOrderByToken(ctx, tx, token)
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}
		result = orderModel

		if !orderModel.AllowChangeStatus(enum.OrderStatusAuthorized) {
			s.logger.Info("order already settled", zap.String("buy_order", orderModel.BuyOrder), zap.String("status", string(orderModel.Status)))
			return nil
		}

		// 2. 扣減庫存
		loc, err := s.stock.DecrementStock(ctx, tx, orderModel.LocationID, orderModel.Quantity)
		if err != nil {
			var insufficient *models.InsufficientStockError
			if !errors.As(err, &insufficient) && !errors.Is(err, models.ErrLocationNotFound) {
				return fmt.Errorf("failed to decrement stock: %w", err)
			}
			return s.markRejected(ctx, tx, orderModel, err.Error())
		}

		// 3. 庫存異動紀錄
		if err = s.stock.CreateStockMovements(ctx, tx, []stock.CreateStockMovementParams{{
			LocationID:    loc.ID,
			Quantity:      orderModel.Quantity,
			Type:          enum.StockMovementTypeOut,
			ReferenceType: enum.StockMovementReferenceTypeOrder,
			ReferenceID:   orderModel.BuyOrder,
		}}); err != nil {
			return fmt.Errorf("failed to create stock movements: %w", err)
		}

		// 4. 更新訂單狀態
		if err = s.order.UpdateOrderStatus(ctx, tx, order.UpdateStatusParams{
			OrderID:   orderModel.ID,
			Status:    enum.OrderStatusAuthorized,
			UpdatedAt: s.now(),
		}); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		orderModel.Status = enum.OrderStatusAuthorized

		delta = &models.StockDelta{TargetID: loc.ID, Name: loc.Name, NewQuantity: loc.Quantity}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if delta != nil {
		s.stockChanged(ctx, *delta)
		s.logger.Info("payment authorized", zap.String("buy_order", result.BuyOrder))
	}
	return result, nil
}

func (s *service) RejectPayment(ctx context.Context, token, reason string) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		orderModel, err := s.order.GetOrderByToken(ctx, tx, token)
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}
		if !orderModel.AllowChangeStatus(enum.OrderStatusRejected) {
			return nil
		}
		return s.markRejected(ctx, tx, orderModel, reason)
	})
}

func (s *service) markRejected(ctx context.Context, tx pgx.Tx, orderModel *models.Order, reason string) error {
	if err := s.order.UpdateOrderStatus(ctx, tx, order.UpdateStatusParams{
		OrderID:       orderModel.ID,
		Status:        enum.OrderStatusRejected,
		FailureReason: reason,
		UpdatedAt:     s.now(),
	}); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	orderModel.Status = enum.OrderStatusRejected
	orderModel.FailureReason = reason

	s.logger.Info("payment rejected",
		zap.String("buy_order", orderModel.BuyOrder),
		zap.String("reason", reason))
	return nil
}

// Sell 直接扣減分店庫存，不經過付款流程
func (s *service) Sell(ctx context.Context, id models.LocationID, quantity int) (*models.StockLocation, error) {
	if id.IsWarehouse() {
		return nil, models.ErrWarehouseNotSellable
	}
	if quantity <= 0 {
		return nil, &models.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}

	var updated *models.StockLocation
	err := s.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		loc, err := s.stock.DecrementStock(ctx, tx, id, quantity)
		if err != nil {
			return err
		}
		if err = s.stock.CreateStockMovements(ctx, tx, []stock.CreateStockMovementParams{{
			LocationID:    loc.ID,
			Quantity:      quantity,
			Type:          enum.StockMovementTypeOut,
			ReferenceType: enum.StockMovementReferenceTypeSale,
			ReferenceID:   uuid.NewString(),
		}}); err != nil {
			return fmt.Errorf("failed to create stock movements: %w", err)
		}
		updated = loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stockChanged(ctx, models.StockDelta{TargetID: updated.ID, Name: updated.Name, NewQuantity: updated.Quantity})
	return updated, nil
}

// Restock sets every branch to branchQuantity and the warehouse to
// warehouseQuantity, then announces each entity.
func (s *service) Restock(ctx context.Context, branchQuantity, warehouseQuantity int) ([]models.StockLocation, error) {
	if branchQuantity < 0 || warehouseQuantity < 0 {
		return nil, &models.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	var updated []models.StockLocation
	err := s.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		locations, err := s.stock.SetAllQuantities(ctx, tx, branchQuantity, warehouseQuantity)
		if err != nil {
			return err
		}

		reference := uuid.NewString()
		movements := make([]stock.CreateStockMovementParams, 0, len(locations))
		for _, loc := range locations {
			movements = append(movements, stock.CreateStockMovementParams{
				LocationID:    loc.ID,
				Quantity:      loc.Quantity,
				Type:          enum.StockMovementTypeSet,
				ReferenceType: enum.StockMovementReferenceTypeAdjustment,
				ReferenceID:   reference,
			})
		}
		if err = s.stock.CreateStockMovements(ctx, tx, movements); err != nil {
			return fmt.Errorf("failed to create stock movements: %w", err)
		}
		updated = locations
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stock.InvalidateSnapshot(ctx)
	for _, loc := range updated {
		s.publish(ctx, models.StockDelta{TargetID: loc.ID, Name: loc.Name, NewQuantity: loc.Quantity})
	}
	return updated, nil
}

func (s *service) ListStockMovements(ctx context.Context, id models.LocationID, limit, offset uint64) ([]*models.StockMovement, error) {
	if limit == 0 || limit > 100 {
		limit = 100
	}
	return s.stock.ListStockMovements(ctx, nil, id, limit, offset)
}

func (s *service) stockChanged(ctx context.Context, delta models.StockDelta) {
	s.stock.InvalidateSnapshot(ctx)
	s.publish(ctx, delta)
}

// publish 失敗只記錄；庫存已經提交，客戶端下次重新載入時會取得正確數量
func (s *service) publish(ctx context.Context, delta models.StockDelta) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, delta); err != nil {
		s.logger.Error("failed to publish stock delta",
			zap.String("location_id", delta.TargetID.String()),
			zap.Error(err))
	}
}

func newBuyOrder() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "O" + strings.ToUpper(id[:20])
}
