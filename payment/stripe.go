package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"go.uber.org/zap"
)

var _ Provider = (*StripeProvider)(nil)

// StripeProvider uses Stripe Checkout. The session id is the order token, and
// the success URL lands on the confirm endpoint with that id.
type StripeProvider struct {
	sessions *session.Client
	baseURL  string
	logger   *zap.Logger
}

func NewStripeProvider(secretKey, baseURL string, backend stripe.Backend, logger *zap.Logger) *StripeProvider {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeProvider{
		sessions: &session.Client{B: backend, Key: secretKey},
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

func (p *StripeProvider) CreateSession(ctx context.Context, params SessionParams) (*Session, error) {
	// CLP 沒有小數位，金額直接以整數披索傳送
	unitAmount := params.UnitPrice.Round(0).IntPart()

	sp := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(params.BuyOrder),
		SuccessURL:        stripe.String(p.baseURL + "/payment/confirm?token={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(p.baseURL + "/payment/cancel?token={CHECKOUT_SESSION_ID}"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyCLP)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Producto - %s", params.LocationName)),
					},
					UnitAmount: stripe.Int64(unitAmount),
				},
				Quantity: stripe.Int64(int64(params.Quantity)),
			},
		},
	}
	sp.Context = ctx
	sp.AddMetadata("buy_order", params.BuyOrder)

	s, err := p.sessions.New(sp)
	if err != nil {
		p.logger.Error("failed to create checkout session",
			zap.String("buy_order", params.BuyOrder),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.logger.Info("checkout session created",
		zap.String("buy_order", params.BuyOrder),
		zap.String("session_id", s.ID))

	return &Session{Token: s.ID, RedirectURL: s.URL}, nil
}

func (p *StripeProvider) Verify(ctx context.Context, token string) (bool, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.sessions.Get(token, params)
	if err != nil {
		return false, fmt.Errorf("failed to get checkout session: %w", err)
	}
	return s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}
