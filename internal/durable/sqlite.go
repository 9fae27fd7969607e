package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is a local sqlite checkpoint store shared by all runs in the process.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

const createStepTable = `
CREATE TABLE IF NOT EXISTS durable_step (
	run_id       TEXT NOT NULL,
	name         TEXT NOT NULL,
	output       BLOB,
	completed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, name)
)`

// OpenStore opens (creating if needed) the checkpoint database at path.
// Use ":memory:" for an ephemeral store.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	// Serialized access; checkpoint writes are tiny and rare.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createStepTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}
	logger.Info("durable.store.open", "path", path)
	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Engine returns the engine for one run. The same run id across process
// restarts resumes after the last completed step.
func (s *Store) Engine(runID uuid.UUID, policy RetryPolicy) Engine {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &sqliteEngine{store: s, runID: runID, policy: policy, log: s.log}
}

type sqliteEngine struct {
	store  *Store
	runID  uuid.UUID
	policy RetryPolicy
	log    *slog.Logger
}

func (e *sqliteEngine) RunID() uuid.UUID { return e.runID }

func (e *sqliteEngine) lookup(ctx context.Context, name string) ([]byte, bool, error) {
	var out []byte
	err := e.store.db.QueryRowContext(ctx,
		`SELECT output FROM durable_step WHERE run_id = ? AND name = ?`,
		e.runID.String(), name).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup checkpoint %q: %w", name, err)
	}
	return out, true, nil
}

func (e *sqliteEngine) record(ctx context.Context, name string, out []byte) error {
	_, err := e.store.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO durable_step (run_id, name, output, completed_at) VALUES (?, ?, ?, ?)`,
		e.runID.String(), name, out, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record checkpoint %q: %w", name, err)
	}
	return nil
}

func (e *sqliteEngine) Step(ctx context.Context, name string, fn StepFunc) ([]byte, error) {
	if out, ok, err := e.lookup(ctx, name); err != nil {
		return nil, err
	} else if ok {
		e.log.Debug("durable.step.replay", "run_id", e.runID, "step", name)
		return out, nil
	}

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			if rerr := e.record(ctx, name, out); rerr != nil {
				return nil, rerr
			}
			e.log.Info("durable.step.ok", "run_id", e.runID, "step", name, "attempt", attempt)
			return out, nil
		}
		if IsAbort(err) {
			e.log.Warn("durable.step.abort", "run_id", e.runID, "step", name, "attempt", attempt, "error", err)
			return nil, err
		}
		lastErr = err
		e.log.Warn("durable.step.retry", "run_id", e.runID, "step", name, "attempt", attempt, "error", err)
		if attempt < e.policy.MaxAttempts {
			if werr := wait(ctx, e.policy.Backoff(attempt)); werr != nil {
				return nil, werr
			}
		}
	}
	return nil, fmt.Errorf("step %q exhausted %d attempts: %w", name, e.policy.MaxAttempts, lastErr)
}

func (e *sqliteEngine) Sleep(ctx context.Context, name string, d time.Duration) error {
	key := "sleep:" + name
	if _, ok, err := e.lookup(ctx, key); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := wait(ctx, d); err != nil {
		return err
	}
	// Checkpoint after waking so a resumed run does not wait again.
	return e.record(ctx, key, nil)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
