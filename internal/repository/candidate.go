package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirelens/sourcing-engine/internal/entity"
)

type CandidateRepository interface {
	// UpsertByProfileURL converges repeated ingests of the same external key
	// onto one row. Profile fields are last-writer-wins; the unique constraint
	// on profile_url is what prevents duplication under concurrent writers.
	UpsertByProfileURL(ctx context.Context, c *entity.Candidate) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Candidate, error)
}

type candidateRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewCandidateRepository(pool *pgxpool.Pool, log *slog.Logger) CandidateRepository {
	return &candidateRepo{pool: pool, log: log}
}

func (r *candidateRepo) UpsertByProfileURL(ctx context.Context, c *entity.Candidate) (uuid.UUID, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO candidate (id, profile_url, full_name, headline, location, current_title, current_company, skills, experience, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (profile_url) DO UPDATE SET
			full_name       = EXCLUDED.full_name,
			headline        = EXCLUDED.headline,
			location        = EXCLUDED.location,
			current_title   = EXCLUDED.current_title,
			current_company = EXCLUDED.current_company,
			skills          = EXCLUDED.skills,
			experience      = EXCLUDED.experience,
			raw             = EXCLUDED.raw,
			updated_at      = now()
		RETURNING id`,
		c.ID, c.ProfileURL, c.FullName, c.Headline, c.Location,
		c.CurrentTitle, c.CurrentCompany, c.Skills, c.Experience, c.Raw).Scan(&id)
	if err != nil {
		r.log.Error("failed to upsert candidate", "profile_url", c.ProfileURL, "error", err)
		return uuid.Nil, err
	}
	return id, nil
}

func (r *candidateRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Candidate, error) {
	var c entity.Candidate
	err := r.pool.QueryRow(ctx, `
		SELECT id, profile_url, full_name, headline, location, current_title, current_company,
		       skills, experience, raw, created_at, updated_at
		FROM candidate WHERE id = $1`, id).
		Scan(&c.ID, &c.ProfileURL, &c.FullName, &c.Headline, &c.Location,
			&c.CurrentTitle, &c.CurrentCompany, &c.Skills, &c.Experience, &c.Raw,
			&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		r.log.Error("failed to get candidate", "candidate_id", id, "error", err)
		return nil, err
	}
	return &c, nil
}
