package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/docvisionai/backend/internal/config"
	"github.com/docvisionai/backend/internal/handler"
	"github.com/docvisionai/backend/internal/server"
	"github.com/docvisionai/backend/internal/service/inference"
	"github.com/docvisionai/backend/pkg/logger"
)

const defaultPort = "5000"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	lg, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("pneumonia service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	// 模型在启动时加载一次，之后只读共享
	classifier, err := inference.NewONNXClassifier(cfg.Model, lg)
	if err != nil {
		return fmt.Errorf("load classifier: %w", err)
	}
	defer classifier.Close()

	svc := inference.NewService(classifier,
		inference.WithGrayscaleGate(cfg.Model.RequireGrayscale),
		inference.WithLogger(lg),
	)
	router := handler.NewPredictRouter(lg, svc, cfg.Model.MaxUploadBytes)

	srv := server.New(cfg.Server.Addr(defaultPort), router)
	return server.Start(ctx, lg, "pneumonia service", srv)
}
