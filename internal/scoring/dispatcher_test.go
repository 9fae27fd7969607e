package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/sourcing-engine/internal/entity"
	"github.com/hirelens/sourcing-engine/internal/queue"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
)

type fakeLinks struct {
	unscored []repository.SearchResult
	err      error
}

func (f *fakeLinks) Link(context.Context, uuid.UUID, uuid.UUID, string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeLinks) CountBySearch(context.Context, uuid.UUID) (int, error) {
	return len(f.unscored), nil
}

func (f *fakeLinks) ListUnscored(context.Context, uuid.UUID) ([]repository.SearchResult, error) {
	return f.unscored, f.err
}

func (f *fakeLinks) ListResults(ctx context.Context, searchID uuid.UUID) ([]repository.SearchResult, error) {
	return f.ListUnscored(ctx, searchID)
}

func (f *fakeLinks) SetScore(context.Context, uuid.UUID, float64, string) error {
	return nil
}

func unscoredSet(searchID uuid.UUID, n int) []repository.SearchResult {
	out := make([]repository.SearchResult, n)
	for i := range out {
		candidateID := uuid.New()
		out[i] = repository.SearchResult{
			Link: entity.SearchCandidate{
				ID:          uuid.New(),
				SearchID:    searchID,
				CandidateID: candidateID,
			},
			Candidate: entity.Candidate{
				ID:         candidateID,
				ProfileURL: fmt.Sprintf("https://example.com/in/p%02d", i),
				FullName:   fmt.Sprintf("Person %02d", i),
			},
		}
	}
	return out
}

func TestDispatchStaggersByParallelism(t *testing.T) {
	searchID := uuid.New()
	links := &fakeLinks{unscored: unscoredSet(searchID, 12)}
	mem := queue.NewMemory()
	rec := &realtime.Recorder{}
	d := NewDispatcher(links, mem, rec, 60, slog.New(slog.DiscardHandler))

	n, err := d.Dispatch(context.Background(), searchID, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	jobs := mem.Jobs()
	require.Len(t, jobs, 12)
	// 5 per window: [0,5) now, [5,10) after one stagger, [10,12) after two.
	assert.Equal(t, time.Duration(0), jobs[0].Delay)
	assert.Equal(t, time.Duration(0), jobs[4].Delay)
	assert.Equal(t, time.Minute, jobs[5].Delay)
	assert.Equal(t, time.Minute, jobs[9].Delay)
	assert.Equal(t, 2*time.Minute, jobs[10].Delay)
	assert.Equal(t, 2*time.Minute, jobs[11].Delay)

	started := rec.ByName(realtime.EventScoringStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 12, started[0].Payload.(map[string]any)["total"])
}

func TestDispatchJobPayload(t *testing.T) {
	searchID := uuid.New()
	set := unscoredSet(searchID, 1)
	set[0].Candidate.Headline = "Staff Engineer"
	links := &fakeLinks{unscored: set}
	mem := queue.NewMemory()
	d := NewDispatcher(links, mem, nil, 30, slog.New(slog.DiscardHandler))

	_, err := d.Dispatch(context.Background(), searchID, 5)
	require.NoError(t, err)

	jobs := mem.Jobs()
	require.Len(t, jobs, 1)
	job := jobs[0].Job
	assert.Equal(t, searchID, job.SearchID)
	assert.Equal(t, set[0].Link.ID, job.SearchCandidateID)
	assert.Equal(t, set[0].Candidate.ID, job.CandidateID)
	assert.Equal(t, set[0].Candidate.ProfileURL, job.Candidate.ProfileURL)
	assert.Equal(t, "Staff Engineer", job.Candidate.Headline)
	assert.Equal(t, 1, job.Total)
}

func TestDispatchNothingToScore(t *testing.T) {
	links := &fakeLinks{}
	mem := queue.NewMemory()
	rec := &realtime.Recorder{}
	d := NewDispatcher(links, mem, rec, 30, slog.New(slog.DiscardHandler))

	n, err := d.Dispatch(context.Background(), uuid.New(), 5)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, mem.Jobs())
	assert.Empty(t, rec.Events(), "an empty set must not announce scoring")
}

func TestDispatchDefaultsParallelism(t *testing.T) {
	searchID := uuid.New()
	links := &fakeLinks{unscored: unscoredSet(searchID, 6)}
	mem := queue.NewMemory()
	d := NewDispatcher(links, mem, nil, 30, slog.New(slog.DiscardHandler))

	// Non-positive parallelism falls back to the default of 5.
	_, err := d.Dispatch(context.Background(), searchID, 0)
	require.NoError(t, err)
	jobs := mem.Jobs()
	require.Len(t, jobs, 6)
	assert.Equal(t, time.Duration(0), jobs[4].Delay)
	assert.Equal(t, 30*time.Second, jobs[5].Delay)
}

func TestDispatchListFailure(t *testing.T) {
	links := &fakeLinks{err: errors.New("connection reset")}
	d := NewDispatcher(links, queue.NewMemory(), nil, 30, slog.New(slog.DiscardHandler))

	_, err := d.Dispatch(context.Background(), uuid.New(), 5)
	require.Error(t, err)
}
