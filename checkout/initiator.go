// Package checkout turns a settled quote into a payment session and its redirect target.
package checkout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
)

// PaymentRequest 是送往付款協作方的內容
type PaymentRequest struct {
	LocalTotal  decimal.Decimal
	LocationRef models.LocationID
	Quantity    int
}

// PaymentStarter is the payment-session collaborator. A non-success response is
// reported as *models.PaymentSessionError.
type PaymentStarter interface {
	StartPayment(ctx context.Context, req PaymentRequest) (redirectURL string, err error)
}

type Initiator struct {
	payments PaymentStarter
	logger   *zap.Logger
}

func NewInitiator(payments PaymentStarter, logger *zap.Logger) *Initiator {
	return &Initiator{
		payments: payments,
		logger:   logger,
	}
}

// NewIntent 只能從已經結算的試算建立
func NewIntent(q models.Quote) (models.PurchaseIntent, error) {
	if q.Token == 0 || !q.Settled() {
		return models.PurchaseIntent{}, &models.ValidationError{Reason: "calculate the total first"}
	}
	return models.PurchaseIntent{
		LocationRef: q.LocationRef,
		Quantity:    q.Quantity,
		LocalTotal:  q.LocalTotal,
	}, nil
}

func validate(intent models.PurchaseIntent) error {
	if intent.LocationRef.IsWarehouse() {
		return &models.ValidationError{Field: "location", Reason: models.ErrWarehouseNotSellable.Error()}
	}
	if intent.LocationRef == "" {
		return &models.ValidationError{Field: "location", Reason: "no location selected"}
	}
	if intent.Quantity <= 0 {
		return &models.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if !intent.LocalTotal.IsPositive() {
		return &models.ValidationError{Field: "total", Reason: "must be positive"}
	}
	return nil
}

// Submit validates the intent locally and asks the collaborator for a payment
// session. The returned URL is where the caller must navigate next.
func (i *Initiator) Submit(ctx context.Context, intent models.PurchaseIntent) (string, error) {
	if err := validate(intent); err != nil {
		return "", err
	}

	redirectURL, err := i.payments.StartPayment(ctx, PaymentRequest{
		LocalTotal:  intent.LocalTotal,
		LocationRef: intent.LocationRef,
		Quantity:    intent.Quantity,
	})
	if err != nil {
		i.logger.Error("failed to start payment",
			zap.String("location_id", intent.LocationRef.String()),
			zap.Int("quantity", intent.Quantity),
			zap.Error(err))

		var sessionErr *models.PaymentSessionError
		if errors.As(err, &sessionErr) {
			return "", sessionErr
		}
		return "", &models.PaymentSessionError{Err: err}
	}

	if redirectURL == "" {
		return "", &models.PaymentSessionError{Message: models.ErrMissingRedirect.Error(), Err: models.ErrMissingRedirect}
	}

	i.logger.Info("payment session started",
		zap.String("location_id", intent.LocationRef.String()),
		zap.String("total", intent.LocalTotal.String()))

	return redirectURL, nil
}

// Level 對應錯誤類型到通知等級
func Level(err error) enum.NoticeLevel {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return enum.NoticeLevelWarn
	}
	return enum.NoticeLevelError
}
