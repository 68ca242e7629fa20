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
	"github.com/docvisionai/backend/internal/service/ai"
	"github.com/docvisionai/backend/internal/service/chat"
	"github.com/docvisionai/backend/internal/service/qa"
	"github.com/docvisionai/backend/internal/store"
	"github.com/docvisionai/backend/internal/store/firestore"
	"github.com/docvisionai/backend/internal/store/memory"
	"github.com/docvisionai/backend/internal/store/postgres"
	"github.com/docvisionai/backend/pkg/logger"
)

const defaultPort = "4000"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
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
		lg.Error("report Q&A service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	backend, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()
	lg.Info("store opened", "driver", cfg.Store.Driver)

	// 问答服务必须有模型，缺少凭证时直接失败
	aiService, err := ai.NewService(ctx, cfg.LLM, lg)
	if err != nil {
		return fmt.Errorf("initialize AI service: %w", err)
	}
	lg.Info("AI service initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	sessions := chat.NewService(backend, backend, chat.WithLogger(lg))
	router := handler.NewQARouter(handler.QADeps{
		Logger:        lg,
		QA:            qa.NewService(sessions, aiService, lg),
		Conversations: sessions,
		Store:         backend,
	})

	srv := server.New(cfg.Server.Addr(defaultPort), router)
	return server.Start(ctx, lg, "report Q&A service", srv)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverFirestore:
		fs, err := firestore.Open(ctx, firestore.Config{
			ProjectID:       cfg.ProjectID,
			CredentialsPath: cfg.CredentialsPath,
		})
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		return fs, nil
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
