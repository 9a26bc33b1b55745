package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"receiptpocket/internal/analyze"
	"receiptpocket/internal/config"
	"receiptpocket/internal/server"
	"receiptpocket/internal/server/repository"
	"receiptpocket/internal/server/storage"
	"receiptpocket/pkg/database"
	"receiptpocket/pkg/utils"
)

func main() {
	gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting receipt record store",
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	blobs, err := storage.NewLocalBlobStore(cfg.Storage.BlobDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	analyzer, err := buildAnalyzer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize analyzer", zap.Error(err))
	}
	if analyzer == nil {
		logger.Warn("No analyzer configured, /analyze will be unavailable")
	}

	receiptRepo := repository.NewReceiptRepository(db.DB, logger)
	configRepo := repository.NewConfigRepository(db.DB, logger)

	srv := server.NewServer(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, receiptRepo, configRepo, blobs, analyzer, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// buildAnalyzer selects the vision backend from configuration. Returns nil
// when no provider is configured.
func buildAnalyzer(cfg *config.Config, logger *zap.Logger) (analyze.Analyzer, error) {
	switch cfg.Analyzer.Provider {
	case "gemini":
		if cfg.Analyzer.GeminiKey == "" {
			return nil, nil
		}
		return analyze.NewGeminiAnalyzer(context.Background(), cfg.Analyzer.GeminiKey, cfg.Analyzer.GeminiModel, logger)
	case "openai":
		if cfg.Analyzer.OpenAIKey == "" {
			return nil, nil
		}
		return analyze.NewOpenAIAnalyzer(cfg.Analyzer.OpenAIKey, cfg.Analyzer.OpenAIModel, logger)
	default:
		return nil, nil
	}
}
