package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/internal/entity"
)

type StrategyRepository interface {
	InsertBatch(ctx context.Context, strategies []*entity.SourcingStrategy) error
	ListBySearch(ctx context.Context, searchID uuid.UUID) ([]*entity.SourcingStrategy, error)
	ListByIDs(ctx context.Context, searchID uuid.UUID, ids []uuid.UUID) ([]*entity.SourcingStrategy, error)
	UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
	// ResetForRerun puts continuation strategies back to pending and clears
	// prior task/error fields from the previous run.
	ResetForRerun(ctx context.Context, ids []uuid.UUID) error
	MarkExecuting(ctx context.Context, ids []uuid.UUID, taskID string) error
	// MarkPolling advances executing strategies to polling. Strategies in any
	// other status are left alone, so replays cannot resurrect terminal rows.
	MarkPolling(ctx context.Context, ids []uuid.UUID) error
	MarkError(ctx context.Context, ids []uuid.UUID, message string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, candidatesFound int) error
}

type strategyRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewStrategyRepository(pool *pgxpool.Pool, log *slog.Logger) StrategyRepository {
	return &strategyRepo{pool: pool, log: log}
}

const strategyColumns = `id, search_id, name, payload, status, task_id, candidates_found, error_message, created_at, updated_at`

func scanStrategy(row pgx.Row) (*entity.SourcingStrategy, error) {
	var s entity.SourcingStrategy
	var status string
	err := row.Scan(&s.ID, &s.SearchID, &s.Name, &s.Payload, &status,
		&s.TaskID, &s.CandidatesFound, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = constants.StrategyStatus(status)
	return &s, nil
}

func (r *strategyRepo) InsertBatch(ctx context.Context, strategies []*entity.SourcingStrategy) error {
	if len(strategies) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range strategies {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.Status == "" {
			s.Status = constants.StrategyStatusPending
		}
		batch.Queue(`
			INSERT INTO sourcing_strategy (id, search_id, name, payload, status)
			VALUES ($1, $2, $3, $4, $5)`,
			s.ID, s.SearchID, s.Name, s.Payload, string(s.Status))
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range strategies {
		if _, err := br.Exec(); err != nil {
			r.log.Error("failed to insert strategies", "count", len(strategies), "error", err)
			return err
		}
	}
	r.log.Info("strategies persisted", "search_id", strategies[0].SearchID, "count", len(strategies))
	return nil
}

func (r *strategyRepo) ListBySearch(ctx context.Context, searchID uuid.UUID) ([]*entity.SourcingStrategy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+strategyColumns+` FROM sourcing_strategy
		WHERE search_id = $1 ORDER BY created_at`, searchID)
	if err != nil {
		r.log.Error("failed to list strategies", "search_id", searchID, "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectStrategies(rows)
}

func (r *strategyRepo) ListByIDs(ctx context.Context, searchID uuid.UUID, ids []uuid.UUID) ([]*entity.SourcingStrategy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+strategyColumns+` FROM sourcing_strategy
		WHERE search_id = $1 AND id = ANY($2) ORDER BY created_at`, searchID, ids)
	if err != nil {
		r.log.Error("failed to list strategies by ids", "search_id", searchID, "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectStrategies(rows)
}

func collectStrategies(rows pgx.Rows) ([]*entity.SourcingStrategy, error) {
	var out []*entity.SourcingStrategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *strategyRepo) UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sourcing_strategy SET payload = $2, updated_at = now() WHERE id = $1`,
		id, payload)
	if err != nil {
		r.log.Error("failed to update strategy payload", "strategy_id", id, "error", err)
		return err
	}
	return nil
}

func (r *strategyRepo) ResetForRerun(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE sourcing_strategy
		SET status = $2, task_id = NULL, error_message = NULL, updated_at = now()
		WHERE id = ANY($1)`,
		ids, string(constants.StrategyStatusPending))
	if err != nil {
		r.log.Error("failed to reset strategies for rerun", "count", len(ids), "error", err)
		return err
	}
	return nil
}

func (r *strategyRepo) MarkExecuting(ctx context.Context, ids []uuid.UUID, taskID string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE sourcing_strategy
		SET status = $2, task_id = $3, updated_at = now()
		WHERE id = ANY($1)`,
		ids, string(constants.StrategyStatusExecuting), taskID)
	if err != nil {
		r.log.Error("failed to mark strategies executing", "task_id", taskID, "error", err)
		return err
	}
	return nil
}

func (r *strategyRepo) MarkPolling(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE sourcing_strategy
		SET status = $2, updated_at = now()
		WHERE id = ANY($1) AND status = $3`,
		ids, string(constants.StrategyStatusPolling), string(constants.StrategyStatusExecuting))
	if err != nil {
		r.log.Error("failed to mark strategies polling", "error", err)
		return err
	}
	return nil
}

func (r *strategyRepo) MarkError(ctx context.Context, ids []uuid.UUID, message string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE sourcing_strategy
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = ANY($1)`,
		ids, string(constants.StrategyStatusError), message)
	if err != nil {
		r.log.Error("failed to mark strategies error", "count", len(ids), "error", err)
		return err
	}
	return nil
}

func (r *strategyRepo) MarkCompleted(ctx context.Context, id uuid.UUID, candidatesFound int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sourcing_strategy
		SET status = $2, candidates_found = $3, updated_at = now()
		WHERE id = $1`,
		id, string(constants.StrategyStatusCompleted), candidatesFound)
	if err != nil {
		r.log.Error("failed to mark strategy completed", "strategy_id", id, "error", err)
		return err
	}
	return nil
}
