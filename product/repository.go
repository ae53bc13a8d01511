package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateProduct(ctx context.Context, tx pgx.Tx, params CreateProductParams) (*models.Product, error)
}

type CreateProductParams struct {
	Name         string
	Description  string
	Price        decimal.Decimal
	InitialStock int
	Photo        []byte
}

const uniqueViolation = "23505"

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

// CreateProduct 新增商品；名稱重複時回傳 models.ErrProductExists
func (r *repository) CreateProduct(ctx context.Context, tx pgx.Tx, params CreateProductParams) (*models.Product, error) {
	var (
		p     models.Product
		price string
	)
	err := driver.Use(r.conn, tx).QueryRow(ctx,
		`INSERT INTO products (name, description, price, initial_stock, photo)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING id, name, description, price::text, initial_stock, photo, created_at`,
		params.Name, params.Description, params.Price.String(), params.InitialStock, params.Photo,
	).Scan(&p.ID, &p.Name, &p.Description, &price, &p.InitialStock, &p.Photo, &p.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, models.ErrProductExists
	}
	if err != nil {
		r.logger.Error("Failed to create product", zap.String("name", params.Name), zap.Error(err))
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid product price %q: %w", price, err)
	}
	return &p, nil
}
