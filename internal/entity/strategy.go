package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/constants"
)

// SourcingStrategy is one concrete query plan sent to the provider.
// Payload carries the provider-ready body, including the page cursor,
// so a single strategy can be re-run ("fetch more") later on its own.
type SourcingStrategy struct {
	ID              uuid.UUID                `json:"id"`
	SearchID        uuid.UUID                `json:"search_id"`
	Name            string                   `json:"name"`
	Payload         json.RawMessage          `json:"payload"`
	Status          constants.StrategyStatus `json:"status"`
	TaskID          *string                  `json:"task_id,omitempty"`
	CandidatesFound int                      `json:"candidates_found"`
	ErrorMessage    *string                  `json:"error_message,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}
