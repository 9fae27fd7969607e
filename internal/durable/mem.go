package durable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemEngine executes steps immediately and completes sleeps without waiting.
// It records step and sleep names so tests can assert on the executed sequence,
// and it keeps checkpoints so a second pass over the same run replays them.
type MemEngine struct {
	runID  uuid.UUID
	policy RetryPolicy

	mu          sync.Mutex
	checkpoints map[string][]byte
	StepNames   []string
	SleepNames  []string
}

func NewMemEngine(runID uuid.UUID) *MemEngine {
	return &MemEngine{
		runID:       runID,
		policy:      RetryPolicy{MaxAttempts: 1},
		checkpoints: map[string][]byte{},
	}
}

// WithRetry sets the retry policy (backoff delays are skipped entirely).
func (e *MemEngine) WithRetry(policy RetryPolicy) *MemEngine {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	e.policy = policy
	return e
}

func (e *MemEngine) RunID() uuid.UUID { return e.runID }

func (e *MemEngine) Step(ctx context.Context, name string, fn StepFunc) ([]byte, error) {
	e.mu.Lock()
	if out, ok := e.checkpoints[name]; ok {
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			e.mu.Lock()
			e.checkpoints[name] = out
			e.StepNames = append(e.StepNames, name)
			e.mu.Unlock()
			return out, nil
		}
		if IsAbort(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("step %q exhausted %d attempts: %w", name, e.policy.MaxAttempts, lastErr)
}

func (e *MemEngine) Sleep(ctx context.Context, name string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := "sleep:" + name
	if _, ok := e.checkpoints[key]; ok {
		return nil
	}
	e.checkpoints[key] = nil
	e.SleepNames = append(e.SleepNames, name)
	return nil
}

// Checkpointed reports whether the named step has completed.
func (e *MemEngine) Checkpointed(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.checkpoints[name]
	return ok
}
