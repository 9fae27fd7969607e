// Package realtime pushes best-effort progress events to clients watching a
// search. Nothing here is required for correctness: the Search row is the
// durable fallback for polling clients.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Event names, one channel per search (`search:{id}`).
const (
	EventStatusUpdated   = "status.updated"
	EventProgressUpdated = "progress.updated"
	EventCandidatesAdded = "candidates.added"
	EventSearchCompleted = "search.completed"
	EventSearchFailed    = "search.failed"
	EventScoringStarted  = "scoring.started"
	EventScoringFailed   = "scoring.failed"
)

// Channel returns the per-search channel name.
func Channel(searchID uuid.UUID) string {
	return "search:" + searchID.String()
}

// Notifier emits a named event on a search's channel. Implementations are
// fire-and-forget: they log failures and never surface them to the caller.
type Notifier interface {
	Publish(ctx context.Context, searchID uuid.UUID, event string, payload any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, uuid.UUID, string, any) {}

// Recorded is one captured event.
type Recorded struct {
	SearchID uuid.UUID
	Event    string
	Payload  any
}

// Recorder captures events in order for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Publish(_ context.Context, searchID uuid.UUID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{SearchID: searchID, Event: event, Payload: payload})
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// ByName filters captured events by name.
func (r *Recorder) ByName(event string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
