package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 是透過商品匯入服務建立的商品主檔
type Product struct {
	ID           uint64          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	InitialStock int             `json:"initial_stock"`
	Photo        []byte          `json:"photo,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
