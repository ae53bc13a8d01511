package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) (*models.Order, error)
	GetOrderByToken(ctx context.Context, tx pgx.Tx, token string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) error
}

type UpdateStatusParams struct {
	OrderID       uint64
	Status        enum.OrderStatus
	FailureReason string
	UpdatedAt     time.Time
}

const orderColumns = `o.id, o.buy_order, o.token, o.amount::text, o.quantity, o.status, o.failure_reason,
	o.created_at, o.updated_at, l.id, l.is_warehouse`

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) (*models.Order, error) {
	locationID, err := strconv.ParseInt(order.LocationID.String(), 10, 64)
	if err != nil {
		return nil, models.ErrLocationNotFound
	}

	created, err := scanOrder(driver.Use(r.conn, tx).QueryRow(ctx,
		`WITH o AS (
			INSERT INTO orders (buy_order, token, amount, location_id, quantity, status)
			VALUES ($1, $2, $3::numeric, $4, $5, $6)
			RETURNING *
		)
		SELECT `+orderColumns+` FROM o JOIN locations l ON l.id = o.location_id`,
		order.BuyOrder, order.Token, order.Amount.String(), locationID, order.Quantity, string(order.Status)))
	if err != nil {
		r.logger.Error("Failed to create order", zap.String("buy_order", order.BuyOrder), zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetOrderByToken 在交易內會鎖定該筆訂單，避免重複確認
func (r *repository) GetOrderByToken(ctx context.Context, tx pgx.Tx, token string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o JOIN locations l ON l.id = o.location_id WHERE o.token = $1`
	if tx != nil {
		query += ` FOR UPDATE OF o`
	}

	order, err := scanOrder(driver.Use(r.conn, tx).QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get order by token", zap.Error(err))
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) error {
	tag, err := driver.Use(r.conn, tx).Exec(ctx,
		`UPDATE orders SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1`,
		params.OrderID, string(params.Status), params.FailureReason, params.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update order status", zap.Uint64("order_id", params.OrderID), zap.Error(err))
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o           models.Order
		amount      string
		locationID  int64
		isWarehouse bool
	)
	if err := row.Scan(&o.ID, &o.BuyOrder, &o.Token, &amount, &o.Quantity, &o.Status, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt, &locationID, &isWarehouse); err != nil {
		return nil, err
	}

	var err error
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid order amount %q: %w", amount, err)
	}
	o.LocationID = models.LocationID(strconv.FormatInt(locationID, 10))
	if isWarehouse {
		o.LocationID = models.WarehouseID
	}
	return &o, nil
}
