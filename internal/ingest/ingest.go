// Package ingest turns raw provider profiles into Candidate rows and
// search_candidate links. Both writes are idempotent, so re-ingesting the same
// batch in the same or a later run converges to identical state.
package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/internal/entity"
	"github.com/hirelens/sourcing-engine/internal/provider"
	"github.com/hirelens/sourcing-engine/internal/repository"
)

// Result summarizes one ingest batch.
type Result struct {
	// NewLinks counts links created by this batch; already-linked candidates
	// do not count even though their profile fields were refreshed.
	NewLinks int `json:"new_links"`
	// Total is the search's link count after the batch.
	Total int `json:"total"`
}

type Service struct {
	candidates repository.CandidateRepository
	links      repository.SearchCandidateRepository
	log        *slog.Logger
}

func NewService(candidates repository.CandidateRepository, links repository.SearchCandidateRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{candidates: candidates, links: links, log: logger}
}

// IngestBatch upserts each profile by its external key and links it to the
// search. Source is recorded on newly-created links for attribution.
func (s *Service) IngestBatch(ctx context.Context, searchID uuid.UUID, source string, profiles []provider.Profile) (Result, error) {
	newLinks := 0
	for _, p := range profiles {
		if p.ProfileURL == "" {
			s.log.Warn("ingest.profile_missing_key", "search_id", searchID, "full_name", p.FullName)
			continue
		}
		candidateID, err := s.candidates.UpsertByProfileURL(ctx, toCandidate(p))
		if err != nil {
			return Result{}, err
		}
		created, err := s.links.Link(ctx, searchID, candidateID, source)
		if err != nil {
			return Result{}, err
		}
		if created {
			newLinks++
		}
	}

	total, err := s.links.CountBySearch(ctx, searchID)
	if err != nil {
		return Result{}, err
	}
	s.log.Info("ingest.batch_done", "search_id", searchID, "profiles", len(profiles), "new_links", newLinks, "total", total)
	return Result{NewLinks: newLinks, Total: total}, nil
}

// Total returns the search's current link count.
func (s *Service) Total(ctx context.Context, searchID uuid.UUID) (int, error) {
	return s.links.CountBySearch(ctx, searchID)
}

func toCandidate(p provider.Profile) *entity.Candidate {
	return &entity.Candidate{
		ProfileURL:     p.ProfileURL,
		FullName:       p.FullName,
		Headline:       p.Headline,
		Location:       p.Location,
		CurrentTitle:   p.CurrentTitle,
		CurrentCompany: p.CurrentCompany,
		Skills:         p.Skills,
		Experience:     p.Experience,
		Raw:            p.Raw,
	}
}
