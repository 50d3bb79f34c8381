package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	httpadp "spv-ledger/internal/adapter/http"
	idemp "spv-ledger/internal/adapter/middleware"
	"spv-ledger/internal/app"
	"spv-ledger/internal/config"
	"spv-ledger/internal/infrastructure/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", nil, err)
	}
	if err := logger.Setup(cfg.LogLevel, cfg.Environment, cfg.SentryDSN); err != nil {
		logger.Fatalf("logger: %v", nil, err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", nil, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("bootstrap: %v", nil, err)
	}
	defer a.Close()

	if err := a.Migrate(); err != nil {
		logger.Fatalf("migrate: %v", nil, err)
	}

	if cfg.ReconcileInterval > 0 {
		sched, err := app.StartReconcileJob(a.Reconcile, cfg.SyncStream, cfg.ReconcileInterval, cfg.LockTTL)
		if err != nil {
			logger.Fatalf("scheduler: %v", nil, err)
		}
		defer sched.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger(), middleware.Recover())
	e.Validator = httpadp.NewValidator()

	var guard echo.MiddlewareFunc
	if a.Redis != nil {
		guard = idemp.Idempotency(a.Redis, idemp.Options{
			TTL:       time.Duration(cfg.IdempTTLSecs) * time.Second,
			Operators: cfg.AdminAddresses,
			Metrics:   a.Metrics,
		})
	}

	// routes
	httpadp.Register(e, httpadp.Handlers{
		Health: httpadp.NewHandler(
			httpadp.HealthCheck{Name: "mysql", Fn: a.PingDB},
			httpadp.HealthCheck{Name: "redis", Fn: a.PingRedis},
			httpadp.HealthCheck{Name: "rpc", Fn: a.PingRPC},
		),
		Loans:     httpadp.NewLoanHandler(a.Loans),
		Investors: httpadp.NewInvestorHandler(a.Investors, a.Positions),
		Sync:      httpadp.NewSyncHandler(a.Distribution, a.Reconcile),
		Metrics:   a.Metrics.Handler(),
	}, guard)

	addr := ":" + cfg.AppPort
	go func() {
		logger.Infof("listening on %s", nil, addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", nil, err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", nil, err)
	}
}
