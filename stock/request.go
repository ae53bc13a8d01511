package stock

import (
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

type CreateStockMovementParams struct {
	LocationID    models.LocationID
	Quantity      int
	Type          enum.StockMovementType
	ReferenceType enum.StockMovementReferenceType
	ReferenceID   string
}
