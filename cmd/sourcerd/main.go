package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/hirelens/sourcing-engine/internal/common"
	"github.com/hirelens/sourcing-engine/internal/durable"
	"github.com/hirelens/sourcing-engine/internal/export"
	"github.com/hirelens/sourcing-engine/internal/ingest"
	"github.com/hirelens/sourcing-engine/internal/janitor"
	"github.com/hirelens/sourcing-engine/internal/orchestrator"
	"github.com/hirelens/sourcing-engine/internal/provider"
	"github.com/hirelens/sourcing-engine/internal/queue"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
	"github.com/hirelens/sourcing-engine/internal/scoring"
	"github.com/hirelens/sourcing-engine/internal/server"
)

func main() {
	// Logger
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(slogger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// DB pool
	pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, slogger)
	if err != nil {
		log.Fatalf("opening DB pool: %v", err)
	}
	defer repository.Close(pool, slogger)

	if err := repository.HealthCheck(ctx, pool, 3*time.Second, slogger); err != nil {
		log.Fatalf("DB health failed: %v", err)
	}
	log.Infow("DB health OK")

	// Redis: queue + realtime share one client
	rdb, err := repository.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatalf("connecting to redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	// Durable checkpoint store
	store, err := durable.OpenStore(cfg.Durable.Path, slogger)
	if err != nil {
		log.Fatalf("opening durable store: %v", err)
	}
	defer func() { _ = store.Close() }()
	retry := durable.RetryPolicy{
		MaxAttempts: cfg.Durable.Retry.MaxAttempts,
		BaseDelay:   cfg.Durable.Retry.BaseDelay,
		MaxDelay:    cfg.Durable.Retry.MaxDelay,
	}

	// Repositories
	searches := repository.NewSearchRepository(pool, slogger)
	strategies := repository.NewStrategyRepository(pool, slogger)
	candidates := repository.NewCandidateRepository(pool, slogger)
	links := repository.NewSearchCandidateRepository(pool, slogger)

	// Wiring
	notifier := realtime.NewRedisNotifier(rdb, slogger)
	scoringQueue := queue.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.DelayKey, slogger)
	defer scoringQueue.Shutdown(context.Background())

	providerClient := provider.NewClient(provider.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RatePerSecond,
		RateBurst:     cfg.Provider.RateBurst,
	}, slogger)

	ingestSvc := ingest.NewService(candidates, links, slogger)
	dispatcher := scoring.NewDispatcher(links, scoringQueue, notifier, cfg.Orchestrator.StaggerSeconds, slogger)
	orch := orchestrator.New(searches, strategies, ingestSvc, providerClient, notifier, dispatcher, orchestrator.Config{
		MaxPollIterations:  cfg.Orchestrator.MaxPollIterations,
		PollInterval:       cfg.Orchestrator.PollInterval,
		ExecutionLimit:     cfg.Orchestrator.ExecutionLimit,
		ScoringParallelism: cfg.Orchestrator.ScoringParallelism,
	}, slogger)

	exportSvc := export.NewService(searches, links, slogger)

	hub := realtime.NewHub(rdb, slogger)
	hub.Start(ctx)
	defer hub.Stop()

	sweeper := janitor.NewSweeper(searches, notifier, cfg.Janitor.StaleTTL, slogger)
	if err := sweeper.Start(cfg.Janitor.Schedule); err != nil {
		log.Fatalf("starting janitor: %v", err)
	}
	defer sweeper.Stop()

	// HTTP server
	svc := server.NewSourcingService(searches, orch, store, retry, exportSvc, hub, logger)
	mux := http.NewServeMux()
	svc.Routes(mux)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server.WithRequestContext(mux),
	}
	go func() {
		log.Infof("HTTP serving on %s", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	fmt.Println("stopped.")
}
