package entity

import (
	"time"

	"github.com/google/uuid"
)

// SearchCandidate links one Candidate to one Search, unique per pair.
// MatchScore stays nil until the scoring handler writes it back.
type SearchCandidate struct {
	ID          uuid.UUID `json:"id"`
	SearchID    uuid.UUID `json:"search_id"`
	CandidateID uuid.UUID `json:"candidate_id"`
	MatchScore  *float64  `json:"match_score,omitempty"`
	Status      string    `json:"status,omitempty"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
