package enum

type StockMovementType string

const (
	StockMovementTypeIn  StockMovementType = "in"
	StockMovementTypeOut StockMovementType = "out"
	StockMovementTypeSet StockMovementType = "set"
)
