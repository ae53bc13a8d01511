// Package inventory holds the client-side inventory snapshot.
package inventory

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

// Fetcher 由後端客戶端實作，取得完整庫存
type Fetcher interface {
	FetchInventory(ctx context.Context, cacheBust string) (*models.InventorySnapshot, error)
}

// Store owns the current snapshot. Readers get an immutable pointer; every
// change swaps in a new snapshot so nobody ever observes a half-applied update.
type Store struct {
	fetcher  Fetcher
	snapshot atomic.Pointer[models.InventorySnapshot]
	now      func() time.Time
	logger   *zap.Logger
}

func NewStore(fetcher Fetcher, logger *zap.Logger) *Store {
	return &Store{
		fetcher: fetcher,
		now:     time.Now,
		logger:  logger,
	}
}

// Snapshot 回傳目前的快照，首次載入前為 nil
func (s *Store) Snapshot() *models.InventorySnapshot {
	return s.snapshot.Load()
}

// Load 重新抓取完整庫存並整批替換快照；失敗時保留舊快照，不自動重試
func (s *Store) Load(ctx context.Context) (*models.InventorySnapshot, error) {
	cacheBust := strconv.FormatInt(s.now().UnixNano(), 10)

	snapshot, err := s.fetcher.FetchInventory(ctx, cacheBust)
	if err != nil {
		s.logger.Error("failed to load inventory", zap.Error(err))
		return nil, &models.FetchError{Err: err}
	}
	if err := snapshot.Validate(); err != nil {
		s.logger.Error("rejected invalid inventory snapshot", zap.Error(err))
		return nil, &models.FetchError{Err: err}
	}
	snapshot.Warehouse.ID = models.WarehouseID
	if snapshot.Warehouse.Name == "" {
		snapshot.Warehouse.Name = models.WarehouseName
	}

	s.snapshot.Store(snapshot)
	s.logger.Info("inventory loaded",
		zap.Int("locations", len(snapshot.Locations)),
		zap.Int("warehouse_quantity", snapshot.Warehouse.Quantity))

	return snapshot, nil
}

// Replace installs a snapshot obtained elsewhere.
func (s *Store) Replace(snapshot *models.InventorySnapshot) {
	s.snapshot.Store(snapshot)
}

// ApplyDelta 更新單一據點的數量並回傳更新後的據點；找不到 ID 時不做任何事
func (s *Store) ApplyDelta(delta models.StockDelta) (models.StockLocation, bool) {
	for {
		current := s.snapshot.Load()
		if current == nil {
			return models.StockLocation{}, false
		}

		next := current.Clone()
		var updated models.StockLocation
		found := false

		if delta.TargetID.IsWarehouse() {
			next.Warehouse.Quantity = delta.NewQuantity
			updated = next.Warehouse
			found = true
		} else {
			for i := range next.Locations {
				if next.Locations[i].ID == delta.TargetID {
					next.Locations[i].Quantity = delta.NewQuantity
					updated = next.Locations[i]
					found = true
					break
				}
			}
		}

		if !found {
			s.logger.Debug("stock delta for unknown location",
				zap.String("location_id", delta.TargetID.String()))
			return models.StockLocation{}, false
		}

		// a concurrent Load or delta won the race; retry against the newer snapshot
		if s.snapshot.CompareAndSwap(current, next) {
			return updated, true
		}
	}
}
