package provider

import (
	"context"
	"encoding/json"
)

// Strategy is one provider-ready query plan. Payload is opaque to us except
// for the page cursor, which continuation runs bump.
type Strategy struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Profile is one raw candidate profile as the provider reports it.
// ProfileURL is the stable dedup key downstream.
type Profile struct {
	ProfileURL     string          `json:"profile_url"`
	FullName       string          `json:"full_name"`
	Headline       string          `json:"headline,omitempty"`
	Location       string          `json:"location,omitempty"`
	CurrentTitle   string          `json:"current_title,omitempty"`
	CurrentCompany string          `json:"current_company,omitempty"`
	Skills         json.RawMessage `json:"skills,omitempty"`
	Experience     json.RawMessage `json:"experience,omitempty"`
	// Raw is the profile as received, set by the decoder rather than the
	// provider. Serialized so it survives step checkpoints.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// GenerateResult is the response of the strategy-generation endpoint.
type GenerateResult struct {
	Strategies []Strategy `json:"strategies"`
}

// ExecuteResult is the response of the strategy-execution endpoint.
type ExecuteResult struct {
	TaskID             string `json:"task_id"`
	StrategiesLaunched int    `json:"strategies_launched"`
}

// Poll statuses the provider reports. Anything else means "still running".
const (
	PollStatusCompleted = "completed"
	PollStatusFailed    = "failed"
)

// PollResult is the response of the results endpoint for one task.
type PollResult struct {
	Status              string    `json:"status"`
	Candidates          []Profile `json:"candidates"`
	StrategiesCompleted int       `json:"strategies_completed"`
	StrategiesTotal     int       `json:"strategies_total"`
	Error               string    `json:"error,omitempty"`
}

// Client is the typed surface of the candidate-discovery provider. No retries
// here: retry policy belongs to the step that invokes the call.
type Client interface {
	GenerateStrategies(ctx context.Context, rawText string, criteria json.RawMessage, requestID string) (*GenerateResult, error)
	ExecuteStrategies(ctx context.Context, searchID string, strategies []Strategy) (*ExecuteResult, error)
	PollResults(ctx context.Context, taskID string) (*PollResult, error)
}
