package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firechair/knowledge-console/db"
	"github.com/firechair/knowledge-console/internal/api"
	"github.com/firechair/knowledge-console/internal/chat"
	"github.com/firechair/knowledge-console/internal/config"
	"github.com/firechair/knowledge-console/internal/conversation"
	"github.com/firechair/knowledge-console/internal/observability"
	"github.com/firechair/knowledge-console/internal/provider"
	"github.com/firechair/knowledge-console/internal/retrieval"
	"github.com/firechair/knowledge-console/internal/tools"
)

var flagListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListenAddr, "listen", ":8000", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger.Info("configuration loaded", "config", cfg)

	shutdownTracing, err := observability.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("shutting down tracing", "error", err)
		}
	}()

	if err := db.Migrate(cfg.ConnURL()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	pool, err := db.Connect(ctx, cfg.ConnURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	settings := config.NewSettingsStore(cfg.SettingsPath)

	embedder := retrieval.NewHTTPEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel,
		retrieval.DefaultEmbeddingDim, nil)
	docEngine := retrieval.NewEngine(
		retrieval.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		retrieval.NewPGStore(pool),
		logger)

	registry := tools.NewRegistry()
	for _, c := range []tools.Connector{
		tools.NewHackerNews(nil),
		tools.NewCrypto(nil),
		tools.NewWeather(cfg.OpenWeatherKey, nil),
		tools.NewGitHub(cfg.GitHubToken, nil),
	} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("registering connector: %w", err)
		}
	}

	convStore := conversation.NewStore(pool)
	engine := chat.NewEngine(
		provider.NewRouter(nil, logger),
		docEngine,
		tools.NewInvoker(registry, logger),
		convStore,
		logger)

	srv := &http.Server{
		Addr:              flagListenAddr,
		Handler:           api.NewServer(cfg, settings, engine, convStore, docEngine, registry, pool, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", flagListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
	}
	return nil
}
