package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/partsflow/partsflow/internal/api"
	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/config"
	"github.com/partsflow/partsflow/internal/conversation"
	"github.com/partsflow/partsflow/internal/drilldown"
	"github.com/partsflow/partsflow/internal/engine"
	"github.com/partsflow/partsflow/internal/intent"
	"github.com/partsflow/partsflow/internal/inventory"
	"github.com/partsflow/partsflow/internal/language"
	"github.com/partsflow/partsflow/internal/log"
	"github.com/partsflow/partsflow/internal/metrics"
	"github.com/partsflow/partsflow/internal/ratelimit"
	"github.com/partsflow/partsflow/internal/retrieval"
	"github.com/partsflow/partsflow/internal/search"
	"github.com/partsflow/partsflow/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("close redis client", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := session.NewStore(session.NewRedisKV(redisClient), cfg.Session.TTL, cfg.Session.MaxHistoryMessages, logger)

	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisCounterStore(redisClient),
		ratelimit.Quotas{
			PerMinute: cfg.RateLimit.PerMinute,
			PerDay:    cfg.RateLimit.PerDay,
			PerWeek:   cfg.RateLimit.PerWeek,
		},
		logger,
	)

	catalogClient := catalog.NewClient(
		cfg.Catalog.BaseURL, cfg.Catalog.APIKey, cfg.Catalog.Timeout, logger,
		catalog.WithPacing(cfg.Catalog.RequestsPerSecond),
	)
	merger := inventory.NewMerger(inventory.NewPostgresRepository(pool, logger), cfg.Drilldown.StepTimeout, logger)
	coordinator := drilldown.NewCoordinator(
		catalogClient, merger,
		cfg.Drilldown.CategoryDepth, cfg.Drilldown.MaxArticlesPerPage,
		m, logger,
	)

	hybrid := search.NewHybrid(
		search.NewHTTPEmbedder(cfg.Embedder.BaseURL, cfg.Embedder.APIKey, cfg.Embedder.Model, cfg.Embedder.Timeout),
		search.NewPostgresVectorIndex(pool),
		search.NewPostgresKeywordIndex(pool, ""),
		cfg.Retrieval.KeywordWeight, cfg.Retrieval.TopK,
		logger,
	)
	orchestrator := retrieval.NewOrchestrator(
		hybrid,
		retrieval.NewHTTPCompletion(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.Timeout),
		retrieval.NewHTTPValidator(cfg.Validator.BaseURL, cfg.Validator.APIKey, cfg.Validator.Timeout),
		cfg.Retrieval.MaxContextChars,
		m, logger,
	)

	eng := engine.New(
		limiter, store,
		intent.NewRuleClassifier(),
		conversation.NewMachine(logger),
		coordinator, orchestrator,
		language.NewCoordinator(store, logger),
		m, logger,
	)

	server := api.NewServer(eng, logger,
		api.Pinger{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		api.Pinger{Name: "postgres", Ping: pool.Ping},
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
