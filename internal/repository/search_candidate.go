package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirelens/sourcing-engine/internal/entity"
)

// SearchResult pairs a link row with its candidate, for export and scoring fan-out.
type SearchResult struct {
	Link      entity.SearchCandidate
	Candidate entity.Candidate
}

type SearchCandidateRepository interface {
	// Link creates the (search, candidate) pair exactly once. A repeated call
	// is a no-op and reports created=false.
	Link(ctx context.Context, searchID, candidateID uuid.UUID, source string) (bool, error)
	CountBySearch(ctx context.Context, searchID uuid.UUID) (int, error)
	ListUnscored(ctx context.Context, searchID uuid.UUID) ([]SearchResult, error)
	ListResults(ctx context.Context, searchID uuid.UUID) ([]SearchResult, error)
	SetScore(ctx context.Context, id uuid.UUID, score float64, status string) error
}

type searchCandidateRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewSearchCandidateRepository(pool *pgxpool.Pool, log *slog.Logger) SearchCandidateRepository {
	return &searchCandidateRepo{pool: pool, log: log}
}

func (r *searchCandidateRepo) Link(ctx context.Context, searchID, candidateID uuid.UUID, source string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO search_candidate (id, search_id, candidate_id, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (search_id, candidate_id) DO NOTHING`,
		uuid.New(), searchID, candidateID, source)
	if err != nil {
		r.log.Error("failed to link candidate", "search_id", searchID, "candidate_id", candidateID, "error", err)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *searchCandidateRepo) CountBySearch(ctx context.Context, searchID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM search_candidate WHERE search_id = $1`, searchID).Scan(&n)
	if err != nil {
		r.log.Error("failed to count search candidates", "search_id", searchID, "error", err)
		return 0, err
	}
	return n, nil
}

const resultColumns = `
	sc.id, sc.search_id, sc.candidate_id, sc.match_score, sc.status, sc.source, sc.created_at, sc.updated_at,
	c.id, c.profile_url, c.full_name, c.headline, c.location, c.current_title, c.current_company,
	c.skills, c.experience, c.raw, c.created_at, c.updated_at`

func scanResult(rows pgx.Rows) (SearchResult, error) {
	var res SearchResult
	err := rows.Scan(
		&res.Link.ID, &res.Link.SearchID, &res.Link.CandidateID, &res.Link.MatchScore,
		&res.Link.Status, &res.Link.Source, &res.Link.CreatedAt, &res.Link.UpdatedAt,
		&res.Candidate.ID, &res.Candidate.ProfileURL, &res.Candidate.FullName,
		&res.Candidate.Headline, &res.Candidate.Location, &res.Candidate.CurrentTitle,
		&res.Candidate.CurrentCompany, &res.Candidate.Skills, &res.Candidate.Experience,
		&res.Candidate.Raw, &res.Candidate.CreatedAt, &res.Candidate.UpdatedAt)
	return res, err
}

func (r *searchCandidateRepo) ListUnscored(ctx context.Context, searchID uuid.UUID) ([]SearchResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+resultColumns+`
		FROM search_candidate sc
		JOIN candidate c ON c.id = sc.candidate_id
		WHERE sc.search_id = $1 AND sc.match_score IS NULL
		ORDER BY sc.created_at`, searchID)
	if err != nil {
		r.log.Error("failed to list unscored candidates", "search_id", searchID, "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectResults(rows)
}

func (r *searchCandidateRepo) ListResults(ctx context.Context, searchID uuid.UUID) ([]SearchResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+resultColumns+`
		FROM search_candidate sc
		JOIN candidate c ON c.id = sc.candidate_id
		WHERE sc.search_id = $1
		ORDER BY sc.match_score DESC NULLS LAST, sc.created_at`, searchID)
	if err != nil {
		r.log.Error("failed to list search results", "search_id", searchID, "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectResults(rows)
}

func collectResults(rows pgx.Rows) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *searchCandidateRepo) SetScore(ctx context.Context, id uuid.UUID, score float64, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE search_candidate
		SET match_score = $2, status = $3, updated_at = now()
		WHERE id = $1`,
		id, score, status)
	if err != nil {
		r.log.Error("failed to set match score", "search_candidate_id", id, "error", err)
		return err
	}
	return nil
}
