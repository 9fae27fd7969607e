package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CandidateProjection is the slice of candidate fields the scoring handler
// needs; the full row stays in the store.
type CandidateProjection struct {
	ProfileURL     string          `json:"profile_url"`
	FullName       string          `json:"full_name"`
	Headline       string          `json:"headline,omitempty"`
	Location       string          `json:"location,omitempty"`
	CurrentTitle   string          `json:"current_title,omitempty"`
	CurrentCompany string          `json:"current_company,omitempty"`
	Skills         json.RawMessage `json:"skills,omitempty"`
	Experience     json.RawMessage `json:"experience,omitempty"`
}

// Job is one queued scoring request, delivered at-least-once to the scoring
// handler endpoint.
type Job struct {
	SearchID          uuid.UUID           `json:"search_id"`
	SearchCandidateID uuid.UUID           `json:"search_candidate_id"`
	CandidateID       uuid.UUID           `json:"candidate_id"`
	Candidate         CandidateProjection `json:"candidate_projection"`
	Total             int                 `json:"total"`
}

type Queue interface {
	// Publish enqueues job for delivery after delay (0 = as soon as possible).
	Publish(ctx context.Context, job Job, delay time.Duration) error
	Shutdown(ctx context.Context)
}
