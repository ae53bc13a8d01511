package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

var _ Source = (*NATSSource)(nil)

// NATSSource subscribes to stock deltas over NATS. Client-side reconnects are
// disabled so a dropped connection surfaces to the channel's retry policy.
type NATSSource struct {
	url     string
	subject string
	logger  *zap.Logger
}

func NewNATSSource(url, subject string, logger *zap.Logger) *NATSSource {
	if subject == "" {
		subject = models.StockUpdatedSubject
	}
	return &NATSSource{
		url:     url,
		subject: subject,
		logger:  logger,
	}
}

func (s *NATSSource) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &natsSubscription{
		messages: make(chan []byte),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}

	nc, err := nats.Connect(s.url,
		nats.Name("storefront-pos"),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			sub.fail(err)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Warn("nats async error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	raw := make(chan *nats.Msg, 64)
	natsSub, err := nc.ChanSubscribe(s.subject, raw)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	sub.conn = nc
	sub.sub = natsSub
	go sub.forward(raw)

	s.logger.Info("nats stream connected", zap.String("subject", s.subject))
	return sub, nil
}

type natsSubscription struct {
	conn      *nats.Conn
	sub       *nats.Subscription
	messages  chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *natsSubscription) Messages() <-chan []byte { return s.messages }

func (s *natsSubscription) Errors() <-chan error { return s.errs }

func (s *natsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.sub.Unsubscribe()
		s.conn.Close()
	})
	return err
}

func (s *natsSubscription) forward(raw <-chan *nats.Msg) {
	for {
		select {
		case <-s.closed:
			return
		case msg := <-raw:
			select {
			case s.messages <- msg.Data:
			case <-s.closed:
				return
			}
		}
	}
}

func (s *natsSubscription) fail(err error) {
	select {
	case <-s.closed:
	case s.errs <- err:
	default:
	}
}
