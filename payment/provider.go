// Package payment creates hosted payment sessions for buy orders.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type SessionParams struct {
	BuyOrder     string
	LocationName string
	Quantity     int
	UnitPrice    decimal.Decimal
	Amount       decimal.Decimal
}

// Session 的 Token 是之後確認付款時使用的識別碼
type Session struct {
	Token       string
	RedirectURL string
}

type Provider interface {
	CreateSession(ctx context.Context, params SessionParams) (*Session, error)
	// Verify reports whether the session behind token has been paid.
	Verify(ctx context.Context, token string) (bool, error)
}
