package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-pos-ledger/internal/ai"
	"go-pos-ledger/internal/alerts"
	"go-pos-ledger/internal/analytics"
	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/cache"
	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/handlers"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/purchasing"
	"go-pos-ledger/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "pos-ledger"})

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "pos-ledger",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "server stopped with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	if cfg.App.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	loc, err := cfg.App.Location()
	if err != nil {
		return err
	}

	// 1. Storage
	db, err := database.Open(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if cfg.DB.Driver == config.DriverSQLite && !cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, db, "up"); err != nil {
			return err
		}
	}

	// 2. Optional idempotency cache
	pingers := map[string]handlers.Pinger{"database": db}
	var idempotency cache.IdempotencyStore
	if cfg.Redis.Enabled() {
		var redisClient *cache.Client
		redisClient, err = cache.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
		idempotency = redisClient
		pingers["redis"] = redisClient
	} else {
		logg.Warn(ctx, "redis not configured, Idempotency-Key headers are ignored", nil)
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	// 4. Domain services
	store := ledger.NewStore(db, ledger.WithMetrics(ledgerMetrics))
	engine := settlement.NewEngine(store, cfg.Settlement, settlement.WithLogger(logg), settlement.WithMetrics(ledgerMetrics))
	agg := analytics.New(db, store, cfg.Analytics, analytics.WithLocation(loc))
	tokens, err := auth.NewTokenIssuer(cfg.JWT)
	if err != nil {
		return err
	}

	h := &handlers.Handlers{
		DB:         db,
		Store:      store,
		Engine:     engine,
		Analytics:  agg,
		Alerts:     alerts.NewService(db, agg),
		Purchasing: purchasing.NewService(db, store, purchasing.WithMetrics(ledgerMetrics)),
		Auth:       auth.NewService(db, tokens),
		Log:        logg,
		Pingers:    pingers,
	}
	if summarizer, err := ai.NewGeminiSummarizer(cfg.Gemini); err == nil {
		h.Summarizer = summarizer
	}
	if advisor, err := ai.NewAdvisor(cfg.Gemini, agg, logg); err == nil {
		h.Advisor = advisor
	} else {
		logg.Info(ctx, "gemini not configured, advisor routes disabled")
	}

	// 5. HTTP
	if cfg.App.AllowRegistration {
		logg.Warn(ctx, "registration route is open, disable it in production", nil)
	}
	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: handlers.NewRouter(h, handlers.RouterOptions{
			Tokens:            tokens,
			Idempotency:       idempotency,
			IdempotencyTTL:    cfg.Redis.IdempotencyTTL,
			AllowRegistration: cfg.App.AllowRegistration,
			AllowedOrigins:    cfg.App.AllowedOrigins,
			Gatherer:          reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
