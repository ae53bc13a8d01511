// Package quote computes local totals and resolves their foreign-currency equivalent.
package quote

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

// Converter 由外部匯率協作方實作
type Converter interface {
	Convert(ctx context.Context, localTotal decimal.Decimal) (decimal.Decimal, error)
}

type Calculator struct {
	converter Converter
	seq       atomic.Uint64

	mu     sync.Mutex
	latest *models.Quote

	logger *zap.Logger
}

func NewCalculator(converter Converter, logger *zap.Logger) *Calculator {
	return &Calculator{
		converter: converter,
		logger:    logger,
	}
}

// ParseQuantity 只接受正整數
func ParseQuantity(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, &models.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	return n, nil
}

// ComputeLocal returns unit price x quantity. The warehouse sentinel resolves to
// the warehouse's own price.
func ComputeLocal(snapshot *models.InventorySnapshot, ref models.LocationID, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, &models.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	loc, ok := snapshot.Find(ref)
	if !ok {
		return decimal.Zero, &models.ValidationError{Field: "location", Reason: "unknown location " + ref.String()}
	}
	return loc.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// NewQuote 計算本地總額並配發遞增的 token，外幣部分維持 pending
func (c *Calculator) NewQuote(snapshot *models.InventorySnapshot, ref models.LocationID, quantity int) (models.Quote, error) {
	local, err := ComputeLocal(snapshot, ref, quantity)
	if err != nil {
		return models.Quote{}, err
	}

	c.mu.Lock()
	q := models.Quote{
		Token:       c.seq.Add(1),
		LocationRef: ref,
		Quantity:    quantity,
		LocalTotal:  local,
		Status:      enum.QuoteStatusPending,
	}
	c.latest = &q
	c.mu.Unlock()

	return q, nil
}

// ComputeForeign resolves the foreign total for q. Converter failures settle the
// quote as failed instead of returning an error. The bool is false when a newer
// quote was started meanwhile; such a result must not be displayed.
func (c *Calculator) ComputeForeign(ctx context.Context, q models.Quote) (models.Quote, bool) {
	foreign, err := c.converter.Convert(ctx, q.LocalTotal)
	if err != nil {
		c.logger.Warn("currency conversion failed",
			zap.Uint64("token", q.Token),
			zap.String("local_total", q.LocalTotal.String()),
			zap.Error(err))
		q.Status = enum.QuoteStatusFailed
		q.Err = &models.ConversionError{Err: err}
	} else {
		q.Status = enum.QuoteStatusSettled
		q.ForeignTotal = foreign
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if q.Token != c.seq.Load() {
		c.logger.Debug("discarding stale conversion", zap.Uint64("token", q.Token))
		return q, false
	}
	c.latest = &q
	return q, true
}

// Calculate 依序執行數量驗證、本地總額與外幣換算
func (c *Calculator) Calculate(ctx context.Context, snapshot *models.InventorySnapshot, ref models.LocationID, rawQuantity string) (models.Quote, bool, error) {
	quantity, err := ParseQuantity(rawQuantity)
	if err != nil {
		return models.Quote{}, false, err
	}
	q, err := c.NewQuote(snapshot, ref, quantity)
	if err != nil {
		return models.Quote{}, false, err
	}
	settled, current := c.ComputeForeign(ctx, q)
	return settled, current, nil
}

// Latest returns the most recently initiated quote in its newest trusted state.
func (c *Calculator) Latest() (models.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return models.Quote{}, false
	}
	return *c.latest, true
}
