package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"support-inbox-ai/handler"
	"support-inbox-ai/internal/app"
	"support-inbox-ai/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateShared(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	invalidator, err := a.NewInvalidator(cfg.Analysis.PrewarmInbox)
	if err != nil {
		slog.Error("failed to create invalidator", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewStreamHandler(invalidator.HandleMessageCreated, logger)
	if err != nil {
		slog.Error("failed to create stream handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
