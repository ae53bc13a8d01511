package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"goflare.io/storefront/backend"
	"goflare.io/storefront/checkout"
	"goflare.io/storefront/config"
	"goflare.io/storefront/inventory"
	"goflare.io/storefront/live"
	"goflare.io/storefront/models"
	"goflare.io/storefront/models/enum"
	"goflare.io/storefront/notify"
	"goflare.io/storefront/pos"
	"goflare.io/storefront/quote"
	"goflare.io/storefront/render"
)

const help = `commands:
  list                 show stock
  search <text>        filter branches by name (empty clears)
  quote <id> <qty>     compute local and foreign totals
  buy                  pay for the last quote
  sell <id> <qty>      direct sale without payment
  reload               reload the full inventory
  quit`

func main() {
	cfg := config.LoadTerminal()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(cfg.BackendURL, nil, logger)
	queue := notify.NewQueue(64, logger)
	go queue.Drain(ctx, os.Stdout)

	store := inventory.NewStore(client, logger)
	renderer := render.New(logger, render.WithHighlightDuration(cfg.HighlightDuration))

	var source live.Source
	switch cfg.LiveTransport {
	case "nats":
		source = live.NewNATSSource(cfg.NATSURL, models.StockUpdatedSubject, logger)
	default:
		source = live.NewSSESource(client.EventsURL(), nil, logger)
	}

	terminal := pos.NewTerminal(pos.Deps{
		Store:     store,
		Renderer:  renderer,
		Calc:      quote.NewCalculator(client, logger),
		Channel:   live.NewChannel(source, store, renderer, queue, logger, live.WithRetryDelay(cfg.RetryDelay)),
		Initiator: checkout.NewInitiator(client, logger),
		Seller:    client,
		Notifier:  queue,
		Navigator: pos.NavigatorFunc(func(url string) {
			fmt.Printf("-> continue the payment at %s\n", url)
		}),
	}, logger)
	defer terminal.Stop()

	if err := terminal.Reload(ctx); err != nil {
		logger.Error("initial inventory load failed", zap.Error(err))
	}
	terminal.StartLive(ctx)

	fmt.Println(help)
	renderer.WriteTo(os.Stdout)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(ctx, terminal, renderer, strings.Fields(line)) {
				return
			}
		}
	}
}

func run(ctx context.Context, t *pos.Terminal, r *render.Renderer, args []string) bool {
	if len(args) == 0 {
		return true
	}

	switch args[0] {
	case "quit", "exit":
		return false
	case "list":
		r.WriteTo(os.Stdout)
	case "search":
		t.Search(strings.Join(args[1:], " "))
		r.WriteTo(os.Stdout)
	case "reload":
		if err := t.Reload(ctx); err == nil {
			r.WriteTo(os.Stdout)
		}
	case "quote":
		if len(args) != 3 {
			fmt.Println("usage: quote <id> <qty>")
			return true
		}
		q, err := t.Quote(ctx, models.LocationID(args[1]), args[2])
		if err != nil {
			return true
		}
		fmt.Print(formatQuote(q))
	case "buy":
		t.Checkout(ctx)
	case "sell":
		if len(args) != 3 {
			fmt.Println("usage: sell <id> <qty>")
			return true
		}
		if _, err := t.Sell(ctx, models.LocationID(args[1]), args[2]); err == nil {
			r.WriteTo(os.Stdout)
		}
	default:
		fmt.Println(help)
	}
	return true
}

// formatQuote 換算失敗時外幣總額顯示為 "-"
func formatQuote(q models.Quote) string {
	foreign := "-"
	if q.Status == enum.QuoteStatusSettled && q.Err == nil {
		foreign = "$" + q.ForeignTotal.StringFixed(2)
	}
	return fmt.Sprintf("total local: $%s CLP\ntotal USD:   %s\n", q.LocalTotal.StringFixed(0), foreign)
}
