package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/internal/common"
	"github.com/hirelens/sourcing-engine/internal/durable"
	"github.com/hirelens/sourcing-engine/internal/ingest"
	"github.com/hirelens/sourcing-engine/internal/orchestrator"
	"github.com/hirelens/sourcing-engine/internal/provider"
	"github.com/hirelens/sourcing-engine/internal/queue"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
	"github.com/hirelens/sourcing-engine/internal/scoring"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runsearch <search-id-uuid>")
		os.Exit(2)
	}
	searchID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid search id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := repository.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	store, err := durable.OpenStore(cfg.Durable.Path, logger)
	if err != nil {
		logger.Error("open durable store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	searches := repository.NewSearchRepository(pool, logger)
	strategies := repository.NewStrategyRepository(pool, logger)
	candidates := repository.NewCandidateRepository(pool, logger)
	links := repository.NewSearchCandidateRepository(pool, logger)

	notifier := realtime.NewRedisNotifier(rdb, logger)
	scoringQueue := queue.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.DelayKey, logger)
	defer scoringQueue.Shutdown(context.Background())

	client := provider.NewClient(provider.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RatePerSecond,
		RateBurst:     cfg.Provider.RateBurst,
	}, logger)

	ingestSvc := ingest.NewService(candidates, links, logger)
	dispatcher := scoring.NewDispatcher(links, scoringQueue, notifier, cfg.Orchestrator.StaggerSeconds, logger)
	orch := orchestrator.New(searches, strategies, ingestSvc, client, notifier, dispatcher, orchestrator.Config{
		MaxPollIterations:  cfg.Orchestrator.MaxPollIterations,
		PollInterval:       cfg.Orchestrator.PollInterval,
		ExecutionLimit:     cfg.Orchestrator.ExecutionLimit,
		ScoringParallelism: cfg.Orchestrator.ScoringParallelism,
	}, logger)

	search, err := searches.GetByID(ctx, searchID)
	if err != nil {
		logger.Error("load search", "search_id", searchID, "error", err)
		os.Exit(1)
	}

	// Keying the run on the search id lets a crashed invocation resume from
	// its checkpoints instead of restarting from scratch.
	engine := store.Engine(searchID, durable.RetryPolicy{
		MaxAttempts: cfg.Durable.Retry.MaxAttempts,
		BaseDelay:   cfg.Durable.Retry.BaseDelay,
		MaxDelay:    cfg.Durable.Retry.MaxDelay,
	})

	start := time.Now()
	res, err := orch.RunWithRecovery(ctx, engine, orchestrator.RunRequest{
		SearchID: search.ID,
		Query:    search.Query,
		Criteria: search.Criteria,
	})
	dur := time.Since(start)

	if err != nil {
		logger.Error("sourcing run failed",
			"search_id", searchID, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	logger.Info("sourcing run finished",
		"search_id", searchID,
		"status", string(res.Status),
		"candidates", res.CandidatesFound,
		"duration_ms", dur.Milliseconds(),
	)
}
