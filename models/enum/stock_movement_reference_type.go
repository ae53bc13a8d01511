package enum

type StockMovementReferenceType string

const (
	StockMovementReferenceTypeOrder      StockMovementReferenceType = "order"
	StockMovementReferenceTypeSale       StockMovementReferenceType = "sale"
	StockMovementReferenceTypeAdjustment StockMovementReferenceType = "adjustment"
)
