package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/event"
	"goflare.io/storefront/models"
)

type EventHandler func(context.Context, *stripe.Event) error

type EventManager struct {
	handlers map[stripe.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(logger *zap.Logger) *EventManager {
	return &EventManager{
		handlers: make(map[stripe.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType stripe.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType stripe.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

// SubscribeToEvents 訂閱付款服務轉發的 Stripe 事件並交給 worker pool 處理
func (em *EventManager) SubscribeToEvents(ctx context.Context, conn *nats.Conn, wp *WorkerPool) (*nats.Subscription, error) {
	return conn.Subscribe(models.PaymentEventSubject+".>", func(msg *nats.Msg) {
		var e stripe.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		wp.Submit(ctx, &e)
	})
}

// ListenPaymentEvents starts a worker pool fed from NATS. The returned stop
// function unsubscribes and waits for in-flight events.
func (s *service) ListenPaymentEvents(ctx context.Context, conn *nats.Conn, workers int) (func(), error) {
	wp := NewWorkerPool(workers, s, s.logger)
	sub, err := s.eventManager.SubscribeToEvents(ctx, conn, wp)
	if err != nil {
		wp.Shutdown()
		return nil, fmt.Errorf("failed to subscribe to payment events: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe payment events", zap.Error(err))
		}
		wp.Shutdown()
	}, nil
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[stripe.EventType]EventHandler{
		stripe.EventTypeCheckoutSessionCompleted:             s.handleCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: s.handleCheckoutSessionPaid,
		stripe.EventTypeCheckoutSessionExpired:               s.handleCheckoutSessionRejected("checkout session expired"),
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:    s.handleCheckoutSessionRejected("payment failed"),
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

func decodeCheckoutSession(e *stripe.Event) (*stripe.CheckoutSession, error) {
	if e.Data == nil {
		return nil, errors.New("event has no data")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(e.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	return &session, nil
}

func (s *service) handleCheckoutSessionCompleted(ctx context.Context, e *stripe.Event) error {
	session, err := decodeCheckoutSession(e)
	if err != nil {
		return err
	}

	// 非同步付款方式會稍後送出 async_payment_succeeded
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		s.logger.Info("Checkout session completed without payment",
			zap.String("session_id", session.ID),
			zap.String("payment_status", string(session.PaymentStatus)))
		return nil
	}

	_, err = s.authorize(ctx, session.ID)
	return err
}

func (s *service) handleCheckoutSessionPaid(ctx context.Context, e *stripe.Event) error {
	session, err := decodeCheckoutSession(e)
	if err != nil {
		return err
	}
	_, err = s.authorize(ctx, session.ID)
	return err
}

func (s *service) handleCheckoutSessionRejected(reason string) EventHandler {
	return func(ctx context.Context, e *stripe.Event) error {
		session, err := decodeCheckoutSession(e)
		if err != nil {
			return err
		}
		return s.RejectPayment(ctx, session.ID, reason)
	}
}

// ProcessEvent runs the handler for e at most once per event id.
func (s *service) ProcessEvent(ctx context.Context, e *stripe.Event) error {
	existing, err := s.event.GetByID(ctx, e.ID)
	switch {
	case err == nil && existing.Processed:
		s.logger.Info("Event already processed", zap.String("event_id", e.ID))
		return nil
	case err != nil && !errors.Is(err, event.ErrEventNotFound):
		return err
	}

	handler, exists := s.eventManager.GetHandler(e.Type)
	if !exists {
		s.logger.Debug("No handler registered for event type", zap.String("event_type", string(e.Type)))
		return nil
	}

	if existing == nil {
		now := s.now()
		if _, err := s.event.Create(ctx, &models.Event{
			ID:        e.ID,
			Type:      e.Type,
			Processed: false,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}

	if err := handler(ctx, e); err != nil {
		s.logger.Error("處理事件時出錯",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)),
			zap.Error(err),
		)
		return err
	}

	if err := s.event.MarkAsProcessed(ctx, e.ID); err != nil {
		return err
	}

	s.logger.Info("Stripe event processed", zap.String("event_id", e.ID))
	return nil
}
