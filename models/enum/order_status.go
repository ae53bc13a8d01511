package enum

// OrderStatus 表示付款交易的狀態
type OrderStatus string

const (
	OrderStatusInitiated  OrderStatus = "initiated"  // 已建立付款工作階段，等待確認
	OrderStatusAuthorized OrderStatus = "authorized" // 付款確認且已扣減庫存
	OrderStatusRejected   OrderStatus = "rejected"   // 付款失敗或庫存不足
)
