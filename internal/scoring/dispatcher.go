// Package scoring fans a completed search's unscored candidates out as queued
// jobs. Staggered delays are the throttling mechanism: roughly parallelism
// jobs land in each stagger window, with no worker pool on this side. The
// queue's delivery timing is approximate, so the cap is approximate too.
package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/internal/queue"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
)

const (
	DefaultParallelism    = 5
	DefaultStaggerSeconds = 30
)

type Dispatcher struct {
	links    repository.SearchCandidateRepository
	queue    queue.Queue
	notifier realtime.Notifier
	stagger  time.Duration
	log      *slog.Logger
}

func NewDispatcher(links repository.SearchCandidateRepository, q queue.Queue, notifier realtime.Notifier, staggerSeconds int, logger *slog.Logger) *Dispatcher {
	if staggerSeconds <= 0 {
		staggerSeconds = DefaultStaggerSeconds
	}
	if notifier == nil {
		notifier = realtime.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		links:    links,
		queue:    q,
		notifier: notifier,
		stagger:  time.Duration(staggerSeconds) * time.Second,
		log:      logger,
	}
}

// Dispatch publishes one scoring job per unscored candidate of the search.
// An empty unscored set is a no-op, not an error. Returns the number of jobs
// published.
func (d *Dispatcher) Dispatch(ctx context.Context, searchID uuid.UUID, parallelism int) (int, error) {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	unscored, err := d.links.ListUnscored(ctx, searchID)
	if err != nil {
		return 0, err
	}
	if len(unscored) == 0 {
		d.log.Info("scoring.dispatch.nothing_to_score", "search_id", searchID)
		return 0, nil
	}

	total := len(unscored)
	for i, res := range unscored {
		delay := time.Duration(i/parallelism) * d.stagger
		job := queue.Job{
			SearchID:          searchID,
			SearchCandidateID: res.Link.ID,
			CandidateID:       res.Candidate.ID,
			Candidate: queue.CandidateProjection{
				ProfileURL:     res.Candidate.ProfileURL,
				FullName:       res.Candidate.FullName,
				Headline:       res.Candidate.Headline,
				Location:       res.Candidate.Location,
				CurrentTitle:   res.Candidate.CurrentTitle,
				CurrentCompany: res.Candidate.CurrentCompany,
				Skills:         res.Candidate.Skills,
				Experience:     res.Candidate.Experience,
			},
			Total: total,
		}
		if err := d.queue.Publish(ctx, job, delay); err != nil {
			d.log.Error("scoring.dispatch.publish_failed",
				"search_id", searchID, "search_candidate_id", res.Link.ID, "error", err)
			return i, err
		}
	}

	d.log.Info("scoring.dispatch.done", "search_id", searchID, "jobs", total, "parallelism", parallelism)
	d.notifier.Publish(ctx, searchID, realtime.EventScoringStarted, map[string]any{"total": total})
	return total, nil
}
