package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/fsm"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/identity"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/notify"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/otel"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/partner"
	riveradapter "github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/river"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/sqlite"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/app"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"

	handler "github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "conventions.db")
	partnerURL := envOrDefault("PARTNER_URL", "http://localhost:9081")
	notifyURL := envOrDefault("NOTIFICATION_URL", "http://localhost:9082")
	identityURL := envOrDefault("IDENTITY_URL", "http://localhost:9083")
	outboundTimeout := envDuration("OUTBOUND_TIMEOUT", 10*time.Second)
	windowDays := envInt("DUPLICATE_WINDOW_DAYS", 7)
	queueCfg := riveradapter.ConfigFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Storage ---
	db, err := otel.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	sqliteRepo, err := sqlite.NewFromDB(db, nil)
	if err != nil {
		return err
	}
	outbox := sqlite.NewOutboxStore(db)

	// --- Subscribers ---
	partnerGateway, err := partner.New(partnerURL, outboundTimeout, logger)
	if err != nil {
		return err
	}
	notifier := notify.New(notify.NewHTTPSender(notifyURL, outboundTimeout), logger)
	associator := identity.New(identityURL, outboundTimeout, logger)

	registry := riveradapter.NewRegistry(
		otel.NewTracingSubscriber(partnerGateway),
		otel.NewTracingSubscriber(notifier),
		otel.NewTracingSubscriber(associator),
	)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return err
	}

	// --- Dispatch queue ---
	dispatcher := riveradapter.NewDispatcher(outbox, registry, metrics, logger, queueCfg.MaxAttempts)
	queue, err := riveradapter.Setup(ctx, db, dispatcher, outbox, logger, queueCfg)
	if err != nil {
		return err
	}
	sqliteRepo.SetEnqueuer(riveradapter.NewEnqueuer(queue))

	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			logger.Error("queue shutdown", "error", err)
		}
	}()

	// --- Application ---
	similarity := domain.SimilarityPolicy{
		Window:     time.Duration(windowDays) * 24 * time.Hour,
		MaxResults: domain.DefaultSimilarityPolicy().MaxResults,
	}
	svc := app.NewConventionService(
		otel.NewTracingRepository(sqliteRepo),
		fsm.New(),
		outbox,
		metrics,
		logger,
		similarity,
	)

	// --- HTTP ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware("conventiond", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("conventiond", "0.1.0"))
	handler.Register(api, svc)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	logger.Info("stopped")
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
