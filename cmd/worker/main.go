package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/bootstrap"
	"github.com/kirillkom/sumulas-assistant/internal/config"
	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/observability/logging"
	"github.com/kirillkom/sumulas-assistant/internal/observability/metrics"
)

const fileTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("sumulas-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ingestionMetrics := metrics.NewIngestionMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:       logger,
		Observer:     ingestionMetrics,
		RequireQueue: true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           ingestionMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIngestion(ctx, func(handlerCtx context.Context, req domain.IngestionRequest) error {
		fileCtx, cancel := context.WithTimeout(handlerCtx, fileTimeout)
		defer cancel()
		_, err := app.Ingestion.IngestFile(fileCtx, req.Collection, req.Path)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
