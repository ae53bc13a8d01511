package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	storefront "goflare.io/storefront"
	"goflare.io/storefront/config"
	"goflare.io/storefront/driver"
	"goflare.io/storefront/event"
	"goflare.io/storefront/grpcapi"
	"goflare.io/storefront/httpapi"
	"goflare.io/storefront/order"
	"goflare.io/storefront/payment"
	"goflare.io/storefront/product"
	"goflare.io/storefront/stock"
	"goflare.io/storefront/stream"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.LoadServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := driver.ConnectSQL(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	// 快取失效時直接讀資料庫，Redis 不可用不影響啟動
	var cache *stock.SnapshotCache
	if rdb, err := driver.ConnectRedis(ctx, cfg.RedisURL); err != nil {
		logger.Warn("redis unavailable, snapshot cache disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		cache = stock.NewSnapshotCache(rdb, logger)
	}

	nc, err := driver.ConnectNATS(cfg.NATSURL, "storefront", logger)
	if err != nil {
		return err
	}
	defer nc.Drain()

	hub := stream.NewHub(0, logger)
	bridge, err := stream.Bridge(nc, hub, logger)
	if err != nil {
		return err
	}
	defer bridge.Unsubscribe()

	var provider payment.Provider
	switch cfg.PaymentProvider {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return errors.New("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		provider = payment.NewStripeProvider(cfg.StripeSecretKey, cfg.PublicBaseURL, nil, logger)
	default:
		provider = payment.NewMockProvider(cfg.PublicBaseURL)
	}

	svc := storefront.NewService(storefront.Deps{
		Stock:     stock.NewRepository(db.Pool, cache, logger),
		Order:     order.NewRepository(db.Pool, logger),
		Event:     event.NewRepository(db.Pool, logger),
		Product:   product.NewRepository(db.Pool, logger),
		Tx:        driver.NewTransactionManager(db.Pool, logger),
		Payments:  provider,
		Publisher: stream.NewNATSPublisher(nc, logger),
		Rate:      cfg.USDRate,
	}, logger)

	// 關閉時仍需處理完已排入的事件
	stopEvents, err := svc.ListenPaymentEvents(context.WithoutCancel(ctx), nc, cfg.WorkerCount)
	if err != nil {
		return err
	}
	defer stopEvents()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.New(svc, hub, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// 收到訊號時取消所有請求的 context，讓 SSE 連線結束
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen for grpc: %w", err)
	}
	grpcServer := grpcapi.NewServer(svc, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("payment_provider", cfg.PaymentProvider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc server starting", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server stopped: %w", err)
		}
	}()
	defer grpcServer.GracefulStop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
		return server.Close()
	}
	return nil
}
