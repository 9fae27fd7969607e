// Package durable supplies the checkpointed step primitives the sourcing run
// executes under. A completed step is never re-run for the same run id, which
// is what makes every orchestration step idempotent with respect to re-entry.
package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepFunc is the body of one checkpointed step. Its output is persisted so a
// resumed run replays the stored bytes instead of the function.
type StepFunc func(ctx context.Context) ([]byte, error)

// Engine runs named steps for a single run.
type Engine interface {
	RunID() uuid.UUID
	// Step executes fn once per run. Errors are retried per the engine's
	// policy unless wrapped with Abort.
	Step(ctx context.Context, name string, fn StepFunc) ([]byte, error)
	// Sleep suspends the run. A resumed run that already completed this
	// sleep returns immediately.
	Sleep(ctx context.Context, name string, d time.Duration) error
}

// RetryPolicy bounds engine-managed retries for a failing step.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before the given attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort marks err as non-retryable: the engine fails the step immediately
// instead of consuming its retry budget.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// IsAbort reports whether err was marked with Abort.
func IsAbort(err error) bool {
	var ae *abortError
	return errors.As(err, &ae)
}

// RunStep runs fn as a checkpointed step with a JSON-encoded result.
func RunStep[T any](ctx context.Context, e Engine, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	out, err := e.Step(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(out, &v); err != nil {
		return zero, fmt.Errorf("decode step %q output: %w", name, err)
	}
	return v, nil
}
