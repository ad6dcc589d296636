package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/sumulas-assistant/internal/adapters/cli"
	"github.com/kirillkom/sumulas-assistant/internal/bootstrap"
	"github.com/kirillkom/sumulas-assistant/internal/config"
	"github.com/kirillkom/sumulas-assistant/internal/observability/logging"
	"github.com/kirillkom/sumulas-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "sumulas-cli", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cfg, func(ctx context.Context, needQueue bool) (*cli.Services, error) {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
			Logger:       logger,
			Observer:     metrics.NewIngestionMetrics("cli"),
			RequireQueue: needQueue,
		})
		if err != nil {
			return nil, err
		}
		return &cli.Services{
			Ingestor: app.Ingestion,
			Workflow: app.Workflow,
			Close:    app.Close,
		}, nil
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "erro:", err)
		stop()
		os.Exit(1)
	}
}
