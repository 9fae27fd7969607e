package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Candidate is a deduplicated profile shared across searches and organizations.
// ProfileURL is the stable external key; two ingests of the same URL converge
// to the same row.
type Candidate struct {
	ID             uuid.UUID       `json:"id"`
	ProfileURL     string          `json:"profile_url"`
	FullName       string          `json:"full_name"`
	Headline       string          `json:"headline,omitempty"`
	Location       string          `json:"location,omitempty"`
	CurrentTitle   string          `json:"current_title,omitempty"`
	CurrentCompany string          `json:"current_company,omitempty"`
	Skills         json.RawMessage `json:"skills,omitempty"`
	Experience     json.RawMessage `json:"experience,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
