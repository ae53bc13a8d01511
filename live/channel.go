// Package live keeps a server-push subscription of stock deltas open and feeds
// them into the inventory store and the renderer.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/notify"
)

const DefaultRetryDelay = 5 * time.Second

var errStreamClosed = errors.New("push stream closed by server")

// Source opens one push subscription.
type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers raw messages until a transport error shows up on Errors.
// Close must release the underlying connection.
type Subscription interface {
	Messages() <-chan []byte
	Errors() <-chan error
	Close() error
}

type Applier interface {
	ApplyDelta(delta models.StockDelta) (models.StockLocation, bool)
}

type Highlighter interface {
	Highlight(id models.LocationID, quantity int) bool
}

type Option func(*Channel)

func WithRetryDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.retryDelay = d
	}
}

// WithStateHook is called on every state transition, outside any lock.
func WithStateHook(fn func(enum.ChannelState)) Option {
	return func(c *Channel) {
		c.onState = fn
	}
}

type Channel struct {
	source      Source
	store       Applier
	highlighter Highlighter
	notifier    notify.Notifier
	retryDelay  time.Duration
	onState     func(enum.ChannelState)

	// lifecycle 讓 Start/Stop 互斥，確保同時只有一個背景執行
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  enum.ChannelState
	cancel context.CancelFunc
	done   chan struct{}

	malformed atomic.Int64
	logger    *zap.Logger
}

func NewChannel(source Source, store Applier, highlighter Highlighter, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Channel {
	c := &Channel{
		source:      source,
		store:       store,
		highlighter: highlighter,
		notifier:    notifier,
		retryDelay:  DefaultRetryDelay,
		state:       enum.ChannelStateDisconnected,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() enum.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Malformed 回傳無法解碼而被略過的訊息數
func (c *Channel) Malformed() int64 {
	return c.malformed.Load()
}

// Start runs the channel in the background. Any previous run is stopped first so
// there is never more than one live subscription.
func (c *Channel) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("live update channel stopped", zap.Error(err))
		}
	}()
}

// Stop cancels the background run and waits until its subscription is closed.
func (c *Channel) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stop()
}

func (c *Channel) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Run 持續維持訂閱：傳輸錯誤後固定等待 retryDelay 再重連，沒有次數上限
func (c *Channel) Run(ctx context.Context) error {
	for {
		c.setState(enum.ChannelStateConnecting)
		err := c.session(ctx)
		c.setState(enum.ChannelStateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("live update subscription lost, retrying",
			zap.Duration("retry_delay", c.retryDelay),
			zap.Error(err))
		c.notifier.Notify(enum.NoticeLevelWarn,
			fmt.Sprintf("Conexión de actualizaciones perdida, reintentando en %s", c.retryDelay))

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Channel) session(ctx context.Context) error {
	sub, err := c.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			c.logger.Debug("failed to close subscription", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Errors():
			if !ok || err == nil {
				return errStreamClosed
			}
			return err
		case msg, ok := <-sub.Messages():
			if !ok {
				return errStreamClosed
			}
			c.setState(enum.ChannelStateSubscribed)
			c.handle(msg)
		}
	}
}

func (c *Channel) handle(payload []byte) {
	delta, err := Decode(payload)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Warn("skipping malformed stock delta", zap.ByteString("payload", payload), zap.Error(err))
		return
	}

	updated, ok := c.store.ApplyDelta(delta)
	if !ok {
		c.logger.Debug("stock delta for location not in snapshot", zap.String("location_id", delta.TargetID.String()))
		return
	}

	c.highlighter.Highlight(updated.ID, updated.Quantity)

	name := delta.Name
	if name == "" {
		name = updated.Name
	}
	c.notifier.Notify(enum.NoticeLevelInfo,
		fmt.Sprintf("Stock actualizado en %s: %d unidades", name, updated.Quantity))
}

func (c *Channel) setState(next enum.ChannelState) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("live update channel state",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	if c.onState != nil {
		c.onState(next)
	}
}

// Decode 將單筆推播訊息解碼為 StockDelta
func Decode(payload []byte) (models.StockDelta, error) {
	var delta models.StockDelta
	if err := json.Unmarshal(payload, &delta); err != nil {
		return models.StockDelta{}, &models.DecodeError{Payload: payload, Err: err}
	}
	if delta.TargetID == "" {
		return models.StockDelta{}, &models.DecodeError{Payload: payload, Err: errors.New("missing id")}
	}
	if delta.NewQuantity < 0 {
		return models.StockDelta{}, &models.DecodeError{Payload: payload, Err: errors.New("negative quantity")}
	}
	return delta, nil
}
