package models

import (
	"github.com/shopspring/decimal"

	"goflare.io/storefront/models/enum"
)

// Quote 是一次試算結果：本地幣別總額與（可能仍在等待中的）外幣換算
type Quote struct {
	Token        uint64
	LocationRef  LocationID
	Quantity     int
	LocalTotal   decimal.Decimal
	ForeignTotal decimal.Decimal
	Status       enum.QuoteStatus
	Err          error
}

// Settled reports whether the foreign side has resolved, successfully or not.
func (q Quote) Settled() bool {
	return q.Status == enum.QuoteStatusSettled || q.Status == enum.QuoteStatusFailed
}

// PurchaseIntent 是送往付款協作方的購買意圖，建立後不可修改
type PurchaseIntent struct {
	LocationRef LocationID
	Quantity    int
	LocalTotal  decimal.Decimal
}
