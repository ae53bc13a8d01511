package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	GetSnapshot(ctx context.Context, tx pgx.Tx) (*models.InventorySnapshot, error)
	GetLocation(ctx context.Context, tx pgx.Tx, id models.LocationID) (*models.StockLocation, error)
	DecrementStock(ctx context.Context, tx pgx.Tx, id models.LocationID, quantity int) (*models.StockLocation, error)
	SetAllQuantities(ctx context.Context, tx pgx.Tx, branchQuantity, warehouseQuantity int) ([]models.StockLocation, error)
	CreateStockMovements(ctx context.Context, tx pgx.Tx, params []CreateStockMovementParams) error
	ListStockMovements(ctx context.Context, tx pgx.Tx, id models.LocationID, limit, offset uint64) ([]*models.StockMovement, error)
	InvalidateSnapshot(ctx context.Context)
}

const locationColumns = `id, name, quantity, unit_price::text, is_warehouse`

type repository struct {
	conn   driver.PostgresPool
	cache  *SnapshotCache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *SnapshotCache, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  cache,
		logger: logger,
	}
}

// GetSnapshot 讀取完整庫存；交易外優先使用快取
func (r *repository) GetSnapshot(ctx context.Context, tx pgx.Tx) (*models.InventorySnapshot, error) {
	var (
		generation int64
		cacheable  bool
	)
	if tx == nil {
		if snapshot, found := r.cache.Get(ctx); found {
			return snapshot, nil
		}
		// 世代必須在查詢前讀取
		generation, cacheable = r.cache.Generation(ctx)
	}

	rows, err := driver.Use(r.conn, tx).Query(ctx,
		`SELECT `+locationColumns+` FROM locations ORDER BY is_warehouse, id`)
	if err != nil {
		r.logger.Error("failed to list locations", zap.Error(err))
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	snapshot := &models.InventorySnapshot{
		Locations: make([]models.StockLocation, 0),
		Warehouse: models.StockLocation{ID: models.WarehouseID, Name: models.WarehouseName},
	}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		if loc.ID.IsWarehouse() {
			snapshot.Warehouse = *loc
			continue
		}
		snapshot.Locations = append(snapshot.Locations, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}

	if cacheable {
		r.cache.Set(ctx, generation, snapshot)
	}
	return snapshot, nil
}

// GetLocation locks the row when called inside a transaction.
func (r *repository) GetLocation(ctx context.Context, tx pgx.Tx, id models.LocationID) (*models.StockLocation, error) {
	where, args, err := whereLocation(id, 1)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + locationColumns + ` FROM locations WHERE ` + where
	if tx != nil {
		query += ` FOR UPDATE`
	}

	loc, err := scanLocation(driver.Use(r.conn, tx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrLocationNotFound
	}
	if err != nil {
		r.logger.Error("failed to get location", zap.String("location_id", id.String()), zap.Error(err))
		return nil, err
	}
	return loc, nil
}

// DecrementStock 扣減分店庫存；數量不足時不做任何修改
func (r *repository) DecrementStock(ctx context.Context, tx pgx.Tx, id models.LocationID, quantity int) (*models.StockLocation, error) {
	if id.IsWarehouse() {
		return nil, models.ErrWarehouseNotSellable
	}
	dbID, err := branchID(id)
	if err != nil {
		return nil, err
	}

	loc, err := scanLocation(driver.Use(r.conn, tx).QueryRow(ctx,
		`UPDATE locations SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND NOT is_warehouse AND quantity >= $2
		RETURNING `+locationColumns, dbID, quantity))
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("failed to decrement stock", zap.String("location_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}

	current, err := r.GetLocation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return nil, &models.InsufficientStockError{Name: current.Name, Available: current.Quantity}
}

// SetAllQuantities sets every branch to branchQuantity and the warehouse to
// warehouseQuantity. Branches come back in id order with the warehouse last.
func (r *repository) SetAllQuantities(ctx context.Context, tx pgx.Tx, branchQuantity, warehouseQuantity int) ([]models.StockLocation, error) {
	rows, err := driver.Use(r.conn, tx).Query(ctx,
		`WITH updated AS (
			UPDATE locations
			SET quantity = CASE WHEN is_warehouse THEN $2 ELSE $1 END, updated_at = NOW()
			RETURNING `+locationColumns+`
		)
		SELECT * FROM updated ORDER BY is_warehouse, id`, branchQuantity, warehouseQuantity)
	if err != nil {
		r.logger.Error("failed to restock", zap.Error(err))
		return nil, fmt.Errorf("failed to restock: %w", err)
	}
	defer rows.Close()

	var updated []models.StockLocation
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		updated = append(updated, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read restocked locations: %w", err)
	}
	return updated, nil
}

func (r *repository) CreateStockMovements(ctx context.Context, tx pgx.Tx, params []CreateStockMovementParams) error {
	batch := &pgx.Batch{}
	for _, param := range params {
		target := `(SELECT id FROM locations WHERE is_warehouse)`
		args := []any{param.Quantity, string(param.Type), string(param.ReferenceType), param.ReferenceID}
		if !param.LocationID.IsWarehouse() {
			dbID, err := branchID(param.LocationID)
			if err != nil {
				return err
			}
			target = `$5`
			args = append(args, dbID)
		}
		batch.Queue(`INSERT INTO stock_movements (location_id, quantity, type, reference_type, reference_id)
			VALUES (`+target+`, $1, $2, $3, $4)`, args...)
	}

	batchResults := driver.Use(r.conn, tx).SendBatch(ctx, batch)
	defer func() {
		if err := batchResults.Close(); err != nil {
			r.logger.Error("failed to close batch", zap.Error(err))
		}
	}()

	for i := range params {
		if _, err := batchResults.Exec(); err != nil {
			r.logger.Error("failed to create stock movement",
				zap.String("location_id", params[i].LocationID.String()),
				zap.Error(err))
			return fmt.Errorf("failed to create stock movement: %w", err)
		}
	}
	return nil
}

func (r *repository) ListStockMovements(ctx context.Context, tx pgx.Tx, id models.LocationID, limit, offset uint64) ([]*models.StockMovement, error) {
	where, args, err := whereLocation(id, 3)
	if err != nil {
		return nil, err
	}
	args = append([]any{limit, offset}, args...)

	rows, err := driver.Use(r.conn, tx).Query(ctx,
		`SELECT m.id, m.quantity, m.type, m.reference_type, m.reference_id, m.created_at
		FROM stock_movements m
		WHERE m.location_id = (SELECT id FROM locations WHERE `+where+`)
		ORDER BY m.created_at DESC
		LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		r.logger.Error("failed to list stock movements", zap.Error(err))
		return nil, fmt.Errorf("failed to list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]*models.StockMovement, 0)
	for rows.Next() {
		m := &models.StockMovement{LocationID: id}
		if err := rows.Scan(&m.ID, &m.Quantity, &m.Type, &m.ReferenceType, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *repository) InvalidateSnapshot(ctx context.Context) {
	r.cache.Invalidate(ctx)
}

func scanLocation(row pgx.Row) (*models.StockLocation, error) {
	var (
		id          int64
		name        string
		quantity    int
		price       string
		isWarehouse bool
	)
	if err := row.Scan(&id, &name, &quantity, &price, &isWarehouse); err != nil {
		return nil, err
	}

	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid unit price %q: %w", price, err)
	}

	loc := &models.StockLocation{
		ID:        models.LocationID(strconv.FormatInt(id, 10)),
		Name:      name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
	if isWarehouse {
		loc.ID = models.WarehouseID
		loc.Name = models.WarehouseName
	}
	return loc, nil
}

// whereLocation 產生對應據點的 WHERE 條件，參數編號從 n 開始
func whereLocation(id models.LocationID, n int) (string, []any, error) {
	if id.IsWarehouse() {
		return `is_warehouse`, nil, nil
	}
	dbID, err := branchID(id)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf(`id = $%d AND NOT is_warehouse`, n), []any{dbID}, nil
}

func branchID(id models.LocationID) (int64, error) {
	n, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil || n <= 0 {
		return 0, models.ErrLocationNotFound
	}
	return n, nil
}
