package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"svnlite/internal/api"
	"svnlite/internal/config"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/logging"
	"svnlite/internal/middleware"
	"svnlite/internal/ra"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "configuration file (JSON or YAML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ra.NewClient(cfg, logger.Logger)
	if err := client.Init(ctx); err != nil {
		logger.Fatal("failed to initialize client", zap.Error(err))
	}
	defer client.Close()

	if err := ensureRepository(ctx, client, cfg.Repository.URL); err != nil {
		logger.Fatal("failed to open repository", zap.String("url", cfg.Repository.URL), zap.Error(err))
	}

	mux := http.NewServeMux()
	api.NewHandler(client, cfg.Repository.URL, logger).Register(mux)

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recover(logger),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("address", addr),
		zap.String("repository", cfg.Repository.URL))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// ensureRepository creates the served repository when it does not exist
// yet. In-memory repositories always start empty.
func ensureRepository(ctx context.Context, client *ra.Client, url string) error {
	s, err := client.Open(ctx, url)
	if err == nil {
		return s.Close()
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return client.Create(ctx, url)
}
