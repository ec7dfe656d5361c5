package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/classifier"
	"github.com/xaenox/teams-extractor/internal/forwarder"
	"github.com/xaenox/teams-extractor/internal/processor"
	"github.com/xaenox/teams-extractor/internal/storage"
	"github.com/xaenox/teams-extractor/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Fatal("OPENAI_API_KEY is required")
	}

	// Initialize storage
	var store storage.Store
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStore()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStore(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize pipeline dependencies
	clf := classifier.NewOpenAIClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
	fwd := forwarder.NewWebhookForwarder(cfg.N8N.WebhookURL, cfg.N8N.APIKey, logger)
	if !fwd.Configured() {
		logger.Warn("n8n webhook URL not configured, processed messages will not be forwarded")
	}
	pipeline := processor.NewPipeline(store, clf, fwd, logger)
	server := processor.NewServer(pipeline, store, clf, fwd, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("processor listening",
			zap.String("addr", addr),
			zap.String("model", clf.Model()),
			zap.Bool("n8n_connected", fwd.Configured()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down processor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Let in-flight processing tasks settle their record status
	pipeline.Wait()
	logger.Info("Processor shutdown complete")
}
