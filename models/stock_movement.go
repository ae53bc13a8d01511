package models

import (
	"goflare.io/storefront/models/enum"
	"time"
)

type StockMovement struct {
	ID            uint64                          `json:"id"`
	LocationID    LocationID                      `json:"location_id"`
	Quantity      int                             `json:"quantity"`
	Type          enum.StockMovementType          `json:"type"`
	ReferenceType enum.StockMovementReferenceType `json:"reference_type"`
	ReferenceID   string                          `json:"reference_id"`
	CreatedAt     time.Time                       `json:"created_at"`
}
