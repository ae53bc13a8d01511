package models

const (
	// StockUpdatedSubject carries one JSON StockDelta per message.
	StockUpdatedSubject = "inventory.stock.updated"
	// PaymentEventSubject 是付款服務轉發 Stripe 事件的 subject 前綴
	PaymentEventSubject = "payment.service.event"
)

// ErrorResponse 是所有非 2xx 回應的本文
type ErrorResponse struct {
	Error string `json:"error"`
}

type ConvertRequest struct {
	LocalTotal Amount `json:"localTotal"`
}

// ConvertResponse carries either ForeignTotal or Error.
type ConvertResponse struct {
	ForeignTotal *Amount `json:"foreignTotal,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type PaymentStartRequest struct {
	LocalTotal  Amount     `json:"localTotal"`
	LocationRef LocationID `json:"locationRef"`
	Quantity    int        `json:"quantity"`
}

type PaymentStartResponse struct {
	RedirectURL string `json:"redirectUrl"`
	Token       string `json:"token,omitempty"`
}

type SellRequest struct {
	LocationRef LocationID `json:"locationRef"`
	Quantity    int        `json:"quantity"`
}

type SellResponse struct {
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

type RestockRequest struct {
	BranchQuantity    int `json:"branchQuantity"`
	WarehouseQuantity int `json:"warehouseQuantity"`
}

type ConfirmResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
