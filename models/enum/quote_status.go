package enum

// QuoteStatus 表示外幣換算的進度
type QuoteStatus string

const (
	QuoteStatusPending QuoteStatus = "pending"
	QuoteStatusSettled QuoteStatus = "settled"
	QuoteStatusFailed  QuoteStatus = "failed"
)
