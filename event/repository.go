package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var _ Repository = (*repository)(nil)

var ErrEventNotFound = errors.New("event not found")

type Repository interface {
	// Create 回傳 false 表示此事件 ID 已經存在
	Create(ctx context.Context, event *models.Event) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

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

func (r *repository) Create(ctx context.Context, event *models.Event) (bool, error) {
	tag, err := r.conn.Exec(ctx,
		`INSERT INTO events (id, type, processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Type), event.Processed, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create event", zap.String("event_id", event.ID), zap.Error(err))
		return false, fmt.Errorf("failed to create event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var (
		e         models.Event
		eventType string
	)
	err := r.conn.QueryRow(ctx,
		`SELECT id, type, processed, created_at, updated_at FROM events WHERE id = $1`, id).
		Scan(&e.ID, &eventType, &e.Processed, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.Type = stripe.EventType(eventType)
	return &e, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE events SET processed = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}
