package payment

import (
	"context"
	"net/url"
	"strings"
)

var _ Provider = (*MockProvider)(nil)

const mockTokenPrefix = "mock_token_"

// MockProvider 模擬付款閘道：產生的連結直接回到本服務的確認端點
type MockProvider struct {
	baseURL string
}

func NewMockProvider(baseURL string) *MockProvider {
	return &MockProvider{baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *MockProvider) CreateSession(_ context.Context, params SessionParams) (*Session, error) {
	token := mockTokenPrefix + params.BuyOrder
	return &Session{
		Token:       token,
		RedirectURL: p.baseURL + "/payment/confirm?token=" + url.QueryEscape(token),
	}, nil
}

func (p *MockProvider) Verify(_ context.Context, token string) (bool, error) {
	return strings.HasPrefix(token, mockTokenPrefix), nil
}
