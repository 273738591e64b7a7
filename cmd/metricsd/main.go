package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/ecommerce-metrics/internal/auth"
	"github.com/jcmexdev/ecommerce-metrics/internal/httpx"
	"github.com/jcmexdev/ecommerce-metrics/internal/hub"
	"github.com/jcmexdev/ecommerce-metrics/internal/ledger/sqlite"
	"github.com/jcmexdev/ecommerce-metrics/internal/notify"
	"github.com/jcmexdev/ecommerce-metrics/internal/pkg/cache"
	"github.com/jcmexdev/ecommerce-metrics/internal/pkg/telemetry"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "metrics-service"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	store, err := sqlite.Open(getEnv("DB_PATH", "./data/metrics.db"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var snapshotCache cache.SnapshotCache
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		snapshotCache = cache.NewRedis(redisAddr, "metrics")
	}

	var notifier notify.Notifier = notify.Nop{}
	if webhookURL := os.Getenv("NOTIFY_WEBHOOK_URL"); webhookURL != "" {
		notifier = notify.NewWebhook(webhookURL)
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		slog.Warn("ADMIN_TOKEN not set; admin endpoints will reject all callers")
	}

	broadcast := hub.New()
	handler := httpx.NewHandler(store, broadcast, notifier, snapshotCache)
	router := httpx.NewRouter(handler, auth.NewStaticVerifier(adminToken))

	addr := ":" + getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(router, "metrics-service"),
	}

	go func() {
		slog.Info("metrics service running", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
