// Package pos wires the inventory store, renderer, quote calculator, live
// channel and checkout initiator into one point-of-sale terminal.
package pos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"goflare.io/storefront/checkout"
	"goflare.io/storefront/inventory"
	"goflare.io/storefront/live"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/notify"
	"goflare.io/storefront/quote"
	"goflare.io/storefront/render"
)

var ErrNoQuote = errors.New("no quote calculated yet")

// Seller is the legacy direct-sale endpoint.
type Seller interface {
	Sell(ctx context.Context, ref models.LocationID, quantity int) (models.SellResponse, error)
}

// Navigator leaves the terminal for the payment page.
type Navigator interface {
	Navigate(url string)
}

type NavigatorFunc func(url string)

func (f NavigatorFunc) Navigate(url string) { f(url) }

type Terminal struct {
	store     *inventory.Store
	renderer  *render.Renderer
	calc      *quote.Calculator
	channel   *live.Channel
	initiator *checkout.Initiator
	seller    Seller
	notifier  notify.Notifier
	navigator Navigator

	mu    sync.Mutex
	query string

	logger *zap.Logger
}

type Deps struct {
	Store     *inventory.Store
	Renderer  *render.Renderer
	Calc      *quote.Calculator
	Channel   *live.Channel
	Initiator *checkout.Initiator
	Seller    Seller
	Notifier  notify.Notifier
	Navigator Navigator
}

func NewTerminal(deps Deps, logger *zap.Logger) *Terminal {
	return &Terminal{
		store:     deps.Store,
		renderer:  deps.Renderer,
		calc:      deps.Calc,
		channel:   deps.Channel,
		initiator: deps.Initiator,
		seller:    deps.Seller,
		notifier:  deps.Notifier,
		navigator: deps.Navigator,
		logger:    logger,
	}
}

// Reload 重新取得完整庫存並重繪；若有搜尋條件則重新套用
func (t *Terminal) Reload(ctx context.Context) error {
	snapshot, err := t.store.Load(ctx)
	if err != nil {
		t.notifier.Notify(enum.NoticeLevelError, "No se pudo cargar el inventario")
		return err
	}

	t.mu.Lock()
	query := t.query
	t.mu.Unlock()

	t.renderer.RenderAllFiltered(snapshot, query)
	return nil
}

// Restore is called when the user comes back to the page from history; the
// cached view may be stale so it always reloads.
func (t *Terminal) Restore(ctx context.Context) error {
	t.logger.Debug("restoring terminal from history")
	return t.Reload(ctx)
}

func (t *Terminal) Search(query string) []render.Row {
	t.mu.Lock()
	t.query = query
	t.mu.Unlock()

	return t.renderer.RenderFiltered(t.store.Snapshot(), query)
}

// Quote computes the totals for ref and rawQuantity. A conversion failure is
// reported as a notice; the local total is still returned.
func (t *Terminal) Quote(ctx context.Context, ref models.LocationID, rawQuantity string) (models.Quote, error) {
	q, current, err := t.calc.Calculate(ctx, t.store.Snapshot(), ref, rawQuantity)
	if err != nil {
		t.notifier.Notify(enum.NoticeLevelWarn, err.Error())
		return models.Quote{}, err
	}
	if !current {
		latest, _ := t.calc.Latest()
		return latest, nil
	}
	if q.Status == enum.QuoteStatusFailed {
		t.notifier.Notify(enum.NoticeLevelWarn, "Conversión de moneda no disponible")
	}
	return q, nil
}

// Checkout starts payment for the latest quote and navigates to the redirect target.
func (t *Terminal) Checkout(ctx context.Context) (string, error) {
	q, ok := t.calc.Latest()
	if !ok {
		t.notifier.Notify(enum.NoticeLevelWarn, "Calcule el total primero")
		return "", ErrNoQuote
	}

	intent, err := checkout.NewIntent(q)
	if err != nil {
		t.notifier.Notify(checkout.Level(err), err.Error())
		return "", err
	}

	redirectURL, err := t.initiator.Submit(ctx, intent)
	if err != nil {
		t.notifier.Notify(checkout.Level(err), err.Error())
		return "", err
	}

	t.navigator.Navigate(redirectURL)
	return redirectURL, nil
}

// Sell 直接扣庫存（不經過付款），完成後重新載入
func (t *Terminal) Sell(ctx context.Context, ref models.LocationID, rawQuantity string) (models.SellResponse, error) {
	quantity, err := quote.ParseQuantity(rawQuantity)
	if err != nil {
		t.notifier.Notify(enum.NoticeLevelWarn, err.Error())
		return models.SellResponse{}, err
	}
	if ref.IsWarehouse() {
		err := &models.ValidationError{Field: "location", Reason: models.ErrWarehouseNotSellable.Error()}
		t.notifier.Notify(enum.NoticeLevelWarn, err.Error())
		return models.SellResponse{}, err
	}

	resp, err := t.seller.Sell(ctx, ref, quantity)
	if err != nil {
		t.notifier.Notify(enum.NoticeLevelError, err.Error())
		return models.SellResponse{}, fmt.Errorf("failed to sell: %w", err)
	}
	t.notifier.Notify(enum.NoticeLevelInfo, resp.Message)

	if err := t.Reload(ctx); err != nil {
		return resp, err
	}
	return resp, nil
}

func (t *Terminal) StartLive(ctx context.Context) {
	t.channel.Start(ctx)
}

func (t *Terminal) LiveState() enum.ChannelState {
	return t.channel.State()
}

func (t *Terminal) View() render.View {
	return t.renderer.View()
}

func (t *Terminal) Stop() {
	t.channel.Stop()
	t.renderer.Close()
}
