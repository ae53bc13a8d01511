package models

import (
	"time"

	"github.com/shopspring/decimal"

	"goflare.io/storefront/models/enum"
)

// Order 代表一筆付款交易（buy order），由付款流程建立並在確認時扣減庫存
type Order struct {
	ID            uint64           `json:"id"`
	BuyOrder      string           `json:"buy_order"`
	Token         string           `json:"token"`
	Amount        decimal.Decimal  `json:"amount"`
	LocationID    LocationID       `json:"location_id"`
	Quantity      int              `json:"quantity"`
	Status        enum.OrderStatus `json:"status"`
	FailureReason string           `json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// AllowChangeStatus 只允許從 initiated 轉換到終態
func (o *Order) AllowChangeStatus(next enum.OrderStatus) bool {
	if o.Status != enum.OrderStatusInitiated {
		return false
	}
	return next == enum.OrderStatusAuthorized || next == enum.OrderStatusRejected
}
