// Package janitor sweeps searches whose runs died between checkpoints. The
// orchestrator's iteration cap bounds live runs; this covers runs whose host
// process never came back.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
)

type Sweeper struct {
	searches repository.SearchRepository
	notifier realtime.Notifier
	staleTTL time.Duration
	log      *slog.Logger

	cron *cron.Cron
}

func NewSweeper(searches repository.SearchRepository, notifier realtime.Notifier, staleTTL time.Duration, logger *slog.Logger) *Sweeper {
	if notifier == nil {
		notifier = realtime.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		searches: searches,
		notifier: notifier,
		staleTTL: staleTTL,
		log:      logger,
	}
}

// Start schedules the sweep with a standard 5-field cron expression.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.log.Error("janitor.sweep_failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("janitor.started", "schedule", schedule, "stale_ttl", s.staleTTL)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep marks searches stuck in a transient status beyond the TTL as failed.
// Candidates already ingested by the dead run stay persisted.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.staleTTL)
	stale, err := s.searches.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, search := range stale {
		msg := "search timed out: no progress since " + search.UpdatedAt.UTC().Format(time.RFC3339)
		if err := s.searches.MarkError(ctx, search.ID, msg); err != nil {
			s.log.Error("janitor.mark_error_failed", "search_id", search.ID, "error", err)
			continue
		}
		s.notifier.Publish(ctx, search.ID, realtime.EventSearchFailed, map[string]any{"error": msg})
		s.log.Warn("janitor.search_expired", "search_id", search.ID, "status", search.Status, "stale_since", search.UpdatedAt)
	}
	if len(stale) > 0 {
		s.log.Info("janitor.sweep_done", "expired", len(stale))
	}
	return nil
}
