package janitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/internal/entity"
	"github.com/hirelens/sourcing-engine/internal/realtime"
)

type fakeSearches struct {
	stale      []*entity.Search
	listErr    error
	cutoff     time.Time
	erroredIDs []uuid.UUID
}

func (f *fakeSearches) GetByID(context.Context, uuid.UUID) (*entity.Search, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSearches) Create(context.Context, *entity.Search) error {
	return errors.New("not implemented")
}

func (f *fakeSearches) UpdateStatus(context.Context, uuid.UUID, constants.SearchStatus, int) error {
	return errors.New("not implemented")
}

func (f *fakeSearches) SetTaskID(context.Context, uuid.UUID, string) error {
	return errors.New("not implemented")
}

func (f *fakeSearches) MarkError(_ context.Context, id uuid.UUID, _ string) error {
	f.erroredIDs = append(f.erroredIDs, id)
	return nil
}

func (f *fakeSearches) MarkCompleted(context.Context, uuid.UUID) error {
	return errors.New("not implemented")
}

func (f *fakeSearches) ListStale(_ context.Context, olderThan time.Time) ([]*entity.Search, error) {
	f.cutoff = olderThan
	return f.stale, f.listErr
}

func TestSweepExpiresStaleSearches(t *testing.T) {
	s1 := &entity.Search{ID: uuid.New(), Status: constants.SearchStatusPolling, UpdatedAt: time.Now().Add(-time.Hour)}
	s2 := &entity.Search{ID: uuid.New(), Status: constants.SearchStatusExecuting, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	searches := &fakeSearches{stale: []*entity.Search{s1, s2}}
	rec := &realtime.Recorder{}
	sw := NewSweeper(searches, rec, 30*time.Minute, slog.New(slog.DiscardHandler))

	require.NoError(t, sw.Sweep(context.Background()))

	assert.Equal(t, []uuid.UUID{s1.ID, s2.ID}, searches.erroredIDs)
	failed := rec.ByName(realtime.EventSearchFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, s1.ID, failed[0].SearchID)

	// Cutoff is TTL back from now.
	assert.WithinDuration(t, time.Now().Add(-30*time.Minute), searches.cutoff, time.Minute)
}

func TestSweepNothingStale(t *testing.T) {
	searches := &fakeSearches{}
	rec := &realtime.Recorder{}
	sw := NewSweeper(searches, rec, 30*time.Minute, slog.New(slog.DiscardHandler))

	require.NoError(t, sw.Sweep(context.Background()))
	assert.Empty(t, searches.erroredIDs)
	assert.Empty(t, rec.Events())
}

func TestSweepListFailure(t *testing.T) {
	searches := &fakeSearches{listErr: errors.New("connection refused")}
	sw := NewSweeper(searches, nil, 30*time.Minute, slog.New(slog.DiscardHandler))
	require.Error(t, sw.Sweep(context.Background()))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sw := NewSweeper(&fakeSearches{}, nil, time.Minute, slog.New(slog.DiscardHandler))
	require.Error(t, sw.Start("not a schedule"))
}
