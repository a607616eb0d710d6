package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gmartell/paycore/api/routes"
	"github.com/gmartell/paycore/internal/acquirer/square"
	"github.com/gmartell/paycore/internal/gateway"
	"github.com/gmartell/paycore/internal/idempotency"
	"github.com/gmartell/paycore/internal/ledger"
	"github.com/gmartell/paycore/internal/payments"
	"github.com/gmartell/paycore/internal/refunds"
	"github.com/gmartell/paycore/pkg/config"
	"github.com/gmartell/paycore/pkg/db"
	"github.com/gmartell/paycore/pkg/instance"
	"github.com/gmartell/paycore/pkg/logger"
	"github.com/gmartell/paycore/pkg/metrics"
	"github.com/gmartell/paycore/pkg/migrate"
	"github.com/gmartell/paycore/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "gateway"})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "gateway",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to access sql handle", err)
		os.Exit(1)
	}
	if err := migrate.Up(ctx, sqlDB, cfg.DB.Driver); err != nil {
		logg.Error(ctx, "failed to run migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	acquirerClient, err := square.NewClient(ctx, cfg.Acquirer, logg)
	if err != nil {
		logg.Error(ctx, "failed to create acquirer client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatewayMetrics := metrics.NewGatewayMetrics(registry)

	ledgerService, err := ledger.NewService(dbClient, ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create ledger", err)
		os.Exit(1)
	}

	// lease owners are tagged with the instance so a stuck lease can be
	// traced back to its holder
	instanceID := instance.GetID()
	newOwner := func() string {
		return instanceID + "-" + uuid.NewString()
	}
	store, err := idempotency.NewRedisStore(redisClient, cfg.Engine.LeaseTTL, cfg.Engine.ResultTTL, newOwner)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency store", err)
		os.Exit(1)
	}

	paymentMachine, err := payments.NewMachine(ledgerService, acquirerClient, logg, gatewayMetrics, cfg.Engine)
	if err != nil {
		logg.Error(ctx, "failed to create payment machine", err)
		os.Exit(1)
	}
	refundMachine, err := refunds.NewMachine(ledgerService, acquirerClient, logg, gatewayMetrics, cfg.Engine)
	if err != nil {
		logg.Error(ctx, "failed to create refund machine", err)
		os.Exit(1)
	}

	gw, err := gateway.New(gateway.Deps{
		Ledger:   ledgerService,
		Payments: paymentMachine,
		Refunds:  refundMachine,
		Store:    store,
		Logger:   logg,
		Metrics:  gatewayMetrics,
		Engine:   cfg.Engine,
	})
	if err != nil {
		logg.Error(ctx, "failed to create gateway", err)
		os.Exit(1)
	}

	addr := ":" + cfg.App.Port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instanceID,
	})
	logg.Info(ctx, "starting gateway")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, gw, dbClient, redisClient, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		logg.Error(ctx, "gateway stopped unexpectedly", err)
		os.Exit(1)
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "error shutting down server", err)
	}
}
