package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

var _ Publisher = (*NATSPublisher)(nil)

// NATSPublisher publishes deltas on the stock subject; a Bridge on every
// server instance feeds them back into that instance's Hub.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSPublisher(conn *nats.Conn, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		logger: logger,
	}
}

func (p *NATSPublisher) Publish(_ context.Context, delta models.StockDelta) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to encode stock delta: %w", err)
	}
	if err := p.conn.Publish(models.StockUpdatedSubject, payload); err != nil {
		p.logger.Error("failed to publish stock delta",
			zap.String("location_id", delta.TargetID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to publish stock delta: %w", err)
	}
	return nil
}

// Bridge 訂閱 NATS 上的庫存事件並轉發給本機的 SSE 客戶端
func Bridge(conn *nats.Conn, hub *Hub, logger *zap.Logger) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(models.StockUpdatedSubject, func(msg *nats.Msg) {
		hub.Broadcast(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", models.StockUpdatedSubject, err)
	}
	logger.Info("stock delta bridge subscribed", zap.String("subject", models.StockUpdatedSubject))
	return sub, nil
}
