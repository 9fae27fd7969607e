package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/internal/common"
	"github.com/hirelens/sourcing-engine/internal/entity"
)

type SearchRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Search, error)
	Create(ctx context.Context, s *entity.Search) error
	// UpdateStatus advances status and progress. Progress is clamped
	// non-decreasing in SQL so a replayed step can never move it backwards.
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.SearchStatus, progress int) error
	SetTaskID(ctx context.Context, id uuid.UUID, taskID string) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	ListStale(ctx context.Context, olderThan time.Time) ([]*entity.Search, error)
}

type searchRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewSearchRepository(pool *pgxpool.Pool, log *slog.Logger) SearchRepository {
	return &searchRepo{pool: pool, log: log}
}

const searchColumns = `id, org_id, user_id, query, criteria, status, progress, task_id, error_message, created_at, updated_at`

func scanSearch(row pgx.Row) (*entity.Search, error) {
	var s entity.Search
	var status string
	err := row.Scan(&s.ID, &s.OrgID, &s.UserID, &s.Query, &s.Criteria, &status,
		&s.Progress, &s.TaskID, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = constants.SearchStatus(status)
	return &s, nil
}

func (r *searchRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Search, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+searchColumns+` FROM search WHERE id = $1`, id)
	s, err := scanSearch(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, common.ErrNotFound
		}
		r.log.Error("failed to get search", "search_id", id, "error", err)
		return nil, err
	}
	return s, nil
}

func (r *searchRepo) Create(ctx context.Context, s *entity.Search) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = constants.SearchStatusCreated
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO search (id, org_id, user_id, query, criteria, status, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.OrgID, s.UserID, s.Query, s.Criteria, string(s.Status), s.Progress)
	if err != nil {
		r.log.Error("failed to create search", "search_id", s.ID, "error", err)
		return err
	}
	r.log.Info("search created", "search_id", s.ID, "org_id", s.OrgID)
	return nil
}

func (r *searchRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.SearchStatus, progress int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE search
		SET status = $2, progress = GREATEST(progress, $3), updated_at = now()
		WHERE id = $1`,
		id, string(status), progress)
	if err != nil {
		r.log.Error("failed to update search status", "search_id", id, "status", status, "error", err)
		return err
	}
	return nil
}

func (r *searchRepo) SetTaskID(ctx context.Context, id uuid.UUID, taskID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE search SET task_id = $2, updated_at = now() WHERE id = $1`,
		id, taskID)
	if err != nil {
		r.log.Error("failed to set search task id", "search_id", id, "error", err)
		return err
	}
	return nil
}

func (r *searchRepo) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE search
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`,
		id, string(constants.SearchStatusError), message)
	if err != nil {
		r.log.Error("failed to mark search error", "search_id", id, "error", err)
		return err
	}
	r.log.Warn("search marked error", "search_id", id, "message", message)
	return nil
}

func (r *searchRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE search
		SET status = $2, progress = 100, updated_at = now()
		WHERE id = $1`,
		id, string(constants.SearchStatusCompleted))
	if err != nil {
		r.log.Error("failed to mark search completed", "search_id", id, "error", err)
		return err
	}
	r.log.Info("search completed", "search_id", id)
	return nil
}

func (r *searchRepo) ListStale(ctx context.Context, olderThan time.Time) ([]*entity.Search, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+searchColumns+` FROM search
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at`,
		[]string{
			string(constants.SearchStatusProcessing),
			string(constants.SearchStatusGenerating),
			string(constants.SearchStatusExecuting),
			string(constants.SearchStatusPolling),
		}, olderThan)
	if err != nil {
		r.log.Error("failed to list stale searches", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Search
	for rows.Next() {
		s, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
