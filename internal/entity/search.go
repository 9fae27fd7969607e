package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/constants"
)

// Search represents one user-initiated sourcing run for data transfer between layers.
type Search struct {
	ID           uuid.UUID               `json:"id"`
	OrgID        uuid.UUID               `json:"org_id"`
	UserID       uuid.UUID               `json:"user_id"`
	Query        string                  `json:"query"`
	Criteria     json.RawMessage         `json:"criteria,omitempty"`
	Status       constants.SearchStatus  `json:"status"`
	Progress     int                     `json:"progress"`
	TaskID       *string                 `json:"task_id,omitempty"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}
