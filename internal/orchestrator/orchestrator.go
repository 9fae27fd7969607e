// Package orchestrator drives one candidate search from "criteria accepted" to
// "candidates scored": strategy generation, provider execution, bounded polling
// with incremental ingest, finalization and the scoring hand-off. Every
// externally-visible effect runs inside a named durable step, so a crashed and
// resumed run continues after the last completed step without repeating side
// effects.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/internal/durable"
	"github.com/hirelens/sourcing-engine/internal/entity"
	"github.com/hirelens/sourcing-engine/internal/ingest"
	"github.com/hirelens/sourcing-engine/internal/provider"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
	"github.com/hirelens/sourcing-engine/internal/scoring"
)

type Config struct {
	MaxPollIterations int
	PollInterval      time.Duration
	// ExecutionLimit restricts execution to the first N strategies while still
	// persisting all of them; 0 executes everything. Per-run requests may
	// override it.
	ExecutionLimit     int
	ScoringParallelism int
}

func (c Config) withDefaults() Config {
	if c.MaxPollIterations <= 0 {
		c.MaxPollIterations = 60
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ScoringParallelism <= 0 {
		c.ScoringParallelism = scoring.DefaultParallelism
	}
	return c
}

// RunRequest triggers one sourcing run. StrategyIDs selects existing
// strategies to re-run (the "fetch more candidates" flow); when empty the run
// generates a fresh strategy set from the query.
//
// ExecutionLimit overrides the configured cap for this run: 0 inherits the
// configuration, a positive value caps execution at that many strategies, and
// a negative value executes everything even when the configuration is capped.
type RunRequest struct {
	SearchID       uuid.UUID       `json:"search_id"`
	Query          string          `json:"query"`
	Criteria       json.RawMessage `json:"criteria"`
	StrategyIDs    []uuid.UUID     `json:"strategy_ids,omitempty"`
	ExecutionLimit int             `json:"execution_limit,omitempty"`
}

// RunResult is the terminal outcome of one run. A failed run with a nil error
// is deliberate: the durable host must not retry a terminal failure.
type RunResult struct {
	Status          constants.SearchStatus `json:"status"`
	CandidatesFound int                    `json:"candidates_found"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

type Orchestrator struct {
	searches   repository.SearchRepository
	strategies repository.StrategyRepository
	ingest     *ingest.Service
	provider   provider.Client
	notifier   realtime.Notifier
	scoring    *scoring.Dispatcher
	cfg        Config
	log        *slog.Logger
}

func New(
	searches repository.SearchRepository,
	strategies repository.StrategyRepository,
	ing *ingest.Service,
	client provider.Client,
	notifier realtime.Notifier,
	dispatcher *scoring.Dispatcher,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if notifier == nil {
		notifier = realtime.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		searches:   searches,
		strategies: strategies,
		ingest:     ing,
		provider:   client,
		notifier:   notifier,
		scoring:    dispatcher,
		cfg:        cfg.withDefaults(),
		log:        logger,
	}
}

// strategyDraft is the checkpointed form of one strategy selected for this run.
type strategyDraft struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// prepareOutcome is the checkpointed result of strategy preparation. Fatal
// outcomes are stored rather than returned as errors so the host never retries
// them.
type prepareOutcome struct {
	Fatal   bool            `json:"fatal,omitempty"`
	Message string          `json:"message,omitempty"`
	Drafts  []strategyDraft `json:"drafts,omitempty"`
}

type executeOutcome struct {
	Fatal    bool        `json:"fatal,omitempty"`
	Message  string      `json:"message,omitempty"`
	TaskID   string      `json:"task_id,omitempty"`
	Launched int         `json:"launched,omitempty"`
	Executed []uuid.UUID `json:"executed,omitempty"`
}

type pollOutcome struct {
	Done     bool               `json:"done,omitempty"`
	Failed   bool               `json:"failed,omitempty"`
	Message  string             `json:"message,omitempty"`
	Seen     int                `json:"seen"`
	Total    int                `json:"total"`
	Progress int                `json:"progress,omitempty"`
	Final    []provider.Profile `json:"final,omitempty"`
}

// Run executes the full step sequence for one search. The returned error is
// non-nil only for retryable conditions; terminal failures come back as a
// RunResult with Status error and a nil error.
func (o *Orchestrator) Run(ctx context.Context, engine durable.Engine, req RunRequest) (RunResult, error) {
	// Step 1: validate. Malformed triggers stop here, before any provider
	// call or state change.
	if req.SearchID == uuid.Nil || req.Query == "" || len(req.Criteria) == 0 {
		o.log.Error("orchestrator.invalid_request",
			"search_id", req.SearchID, "has_query", req.Query != "", "has_criteria", len(req.Criteria) > 0)
		return RunResult{Status: constants.SearchStatusError, ErrorMessage: "search id, query and criteria are required"}, nil
	}
	log := o.log.With("search_id", req.SearchID, "run_id", engine.RunID())

	// Step 2: mark processing so clients see movement before the first
	// provider call returns.
	_, err := durable.RunStep(ctx, engine, "mark-processing", func(ctx context.Context) (struct{}, error) {
		if err := o.searches.UpdateStatus(ctx, req.SearchID, constants.SearchStatusProcessing, 10); err != nil {
			return struct{}{}, err
		}
		o.notifier.Publish(ctx, req.SearchID, realtime.EventStatusUpdated, map[string]any{
			"status":   string(constants.SearchStatusProcessing),
			"message":  "analyzing search criteria",
			"progress": 10,
		})
		return struct{}{}, nil
	})
	if err != nil {
		return RunResult{}, err
	}

	// Step 3: generate strategies, or bump the page cursors of the
	// continuation set.
	prep, err := durable.RunStep(ctx, engine, "prepare-strategies", func(ctx context.Context) (prepareOutcome, error) {
		if len(req.StrategyIDs) > 0 {
			return o.prepareContinuation(ctx, req)
		}
		return o.generateFresh(ctx, req)
	})
	if err != nil {
		return RunResult{}, err
	}
	if prep.Fatal {
		return o.failRun(ctx, req.SearchID, nil, prep.Message)
	}

	// Step 4: persist the run's strategy set and advance the search.
	drafts, err := durable.RunStep(ctx, engine, "persist-strategies", func(ctx context.Context) ([]strategyDraft, error) {
		out, err := o.persistStrategies(ctx, req, prep.Drafts)
		if err != nil {
			return nil, err
		}
		o.notifier.Publish(ctx, req.SearchID, realtime.EventStatusUpdated, map[string]any{
			"status":   string(constants.SearchStatusGenerating),
			"message":  fmt.Sprintf("prepared %d search strategies", len(out)),
			"progress": 20,
		})
		return out, nil
	})
	if err != nil {
		return RunResult{}, err
	}

	// Step 5: launch the provider task.
	limit := req.ExecutionLimit
	if limit == 0 {
		limit = o.cfg.ExecutionLimit
	}
	if limit < 0 {
		// Explicit "run everything" override; a capped configuration does not
		// apply to this run.
		limit = 0
	}
	exec, err := durable.RunStep(ctx, engine, "execute-strategies", func(ctx context.Context) (executeOutcome, error) {
		return o.executeStrategies(ctx, req, drafts, limit)
	})
	if err != nil {
		return RunResult{}, err
	}
	if exec.Fatal {
		return o.failRun(ctx, req.SearchID, nil, exec.Message)
	}
	log.Info("orchestrator.task_launched", "task_id", exec.TaskID, "strategies", exec.Launched)

	// Step 6: poll with a hard iteration ceiling, persisting each newly
	// appended suffix as it appears.
	seen := 0
	var final *pollOutcome
	for i := 0; i < o.cfg.MaxPollIterations; i++ {
		if err := engine.Sleep(ctx, fmt.Sprintf("poll-wait-%02d", i), o.cfg.PollInterval); err != nil {
			return RunResult{}, err
		}
		out, err := durable.RunStep(ctx, engine, fmt.Sprintf("poll-%02d", i), func(ctx context.Context) (pollOutcome, error) {
			return o.pollOnce(ctx, req.SearchID, exec.TaskID, exec.Executed, seen)
		})
		if err != nil {
			return RunResult{}, err
		}
		seen = out.Seen
		if out.Failed {
			return o.failRun(ctx, req.SearchID, exec.Executed, out.Message)
		}
		if out.Done {
			final = &out
			break
		}
	}
	if final == nil {
		return o.failRun(ctx, req.SearchID, exec.Executed,
			fmt.Sprintf("timed out after %d poll attempts", o.cfg.MaxPollIterations))
	}

	// Step 7: persist candidates that only arrived in the terminal response.
	total, err := durable.RunStep(ctx, engine, "persist-remainder", func(ctx context.Context) (int, error) {
		return o.persistRemainder(ctx, req.SearchID, final, seen)
	})
	if err != nil {
		return RunResult{}, err
	}

	// Step 8: finalize. The three updates are independent; the candidates are
	// already captured, so nothing here may fail the run.
	_, err = durable.RunStep(ctx, engine, "finalize", func(ctx context.Context) (struct{}, error) {
		o.finalize(ctx, req.SearchID, exec.Executed, total)
		return struct{}{}, nil
	})
	if err != nil {
		return RunResult{}, err
	}

	// Step 9: hand off to scoring. Sourcing already succeeded; a dispatch
	// failure is surfaced but never changes the search's status.
	if total > 0 {
		_, err = durable.RunStep(ctx, engine, "dispatch-scoring", func(ctx context.Context) (struct{}, error) {
			if _, derr := o.scoring.Dispatch(ctx, req.SearchID, o.cfg.ScoringParallelism); derr != nil {
				log.Error("orchestrator.scoring_dispatch_failed", "error", derr)
				o.notifier.Publish(ctx, req.SearchID, realtime.EventScoringFailed, map[string]any{
					"error": derr.Error(),
				})
			}
			return struct{}{}, nil
		})
		if err != nil {
			return RunResult{}, err
		}
	}

	log.Info("orchestrator.run_completed", "candidates", total)
	return RunResult{Status: constants.SearchStatusCompleted, CandidatesFound: total}, nil
}

// generateFresh asks the provider for a strategy set. 4xx and schema failures
// are terminal; anything else bubbles up for the engine's retry policy.
func (o *Orchestrator) generateFresh(ctx context.Context, req RunRequest) (prepareOutcome, error) {
	requestID := uuid.New().String()
	res, err := o.provider.GenerateStrategies(ctx, req.Query, req.Criteria, requestID)
	if err != nil {
		if provider.IsClientError(err) || errors.Is(err, provider.ErrInvalidResponse) {
			return prepareOutcome{Fatal: true, Message: "strategy generation rejected: " + err.Error()}, nil
		}
		return prepareOutcome{}, err
	}
	if len(res.Strategies) == 0 {
		return prepareOutcome{Fatal: true, Message: "provider returned no strategies for this search"}, nil
	}
	drafts := make([]strategyDraft, len(res.Strategies))
	for i, s := range res.Strategies {
		drafts[i] = strategyDraft{Name: s.Name, Payload: s.Payload}
	}
	return prepareOutcome{Drafts: drafts}, nil
}

// prepareContinuation reloads the selected strategies and advances each one's
// page cursor exactly once, even when an id repeats in the request.
func (o *Orchestrator) prepareContinuation(ctx context.Context, req RunRequest) (prepareOutcome, error) {
	rows, err := o.strategies.ListByIDs(ctx, req.SearchID, req.StrategyIDs)
	if err != nil {
		return prepareOutcome{}, err
	}
	if len(rows) == 0 {
		return prepareOutcome{Fatal: true, Message: "no matching strategies to re-run"}, nil
	}
	bumped := map[uuid.UUID]bool{}
	drafts := make([]strategyDraft, 0, len(rows))
	for _, row := range rows {
		payload := row.Payload
		if !bumped[row.ID] {
			payload, err = bumpPage(row.Payload)
			if err != nil {
				return prepareOutcome{Fatal: true, Message: fmt.Sprintf("strategy %s has malformed payload: %v", row.ID, err)}, nil
			}
			if err := o.strategies.UpdatePayload(ctx, row.ID, payload); err != nil {
				return prepareOutcome{}, err
			}
			bumped[row.ID] = true
		}
		drafts = append(drafts, strategyDraft{ID: row.ID, Name: row.Name, Payload: payload})
	}
	return prepareOutcome{Drafts: drafts}, nil
}

// bumpPage increments the page cursor inside a strategy payload. A payload
// without a cursor starts at page 1, so its first continuation asks for page 2.
func bumpPage(payload json.RawMessage) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	page := 1.0
	if v, ok := m["page"].(float64); ok {
		page = v
	}
	m["page"] = int(page) + 1
	return json.Marshal(m)
}

func (o *Orchestrator) persistStrategies(ctx context.Context, req RunRequest, drafts []strategyDraft) ([]strategyDraft, error) {
	if len(req.StrategyIDs) > 0 {
		// Continuation: payloads were already bumped; reset run state only.
		ids := make([]uuid.UUID, len(drafts))
		for i, d := range drafts {
			ids[i] = d.ID
		}
		if err := o.strategies.ResetForRerun(ctx, ids); err != nil {
			return nil, err
		}
	} else {
		rows := make([]*entity.SourcingStrategy, len(drafts))
		for i := range drafts {
			drafts[i].ID = uuid.New()
			rows[i] = &entity.SourcingStrategy{
				ID:       drafts[i].ID,
				SearchID: req.SearchID,
				Name:     drafts[i].Name,
				Payload:  drafts[i].Payload,
				Status:   constants.StrategyStatusPending,
			}
		}
		if err := o.strategies.InsertBatch(ctx, rows); err != nil {
			return nil, err
		}
	}
	if err := o.searches.UpdateStatus(ctx, req.SearchID, constants.SearchStatusGenerating, 20); err != nil {
		return nil, err
	}
	return drafts, nil
}

func (o *Orchestrator) executeStrategies(ctx context.Context, req RunRequest, drafts []strategyDraft, limit int) (executeOutcome, error) {
	run := drafts
	if limit > 0 && limit < len(run) {
		o.log.Warn("orchestrator.execution_limited", "search_id", req.SearchID, "limit", limit, "persisted", len(drafts))
		run = run[:limit]
	}
	payloads := make([]provider.Strategy, len(run))
	ids := make([]uuid.UUID, len(run))
	for i, d := range run {
		payloads[i] = provider.Strategy{Name: d.Name, Payload: d.Payload}
		ids[i] = d.ID
	}

	res, err := o.provider.ExecuteStrategies(ctx, req.SearchID.String(), payloads)
	if err != nil {
		if provider.IsClientError(err) || errors.Is(err, provider.ErrInvalidResponse) {
			return executeOutcome{Fatal: true, Message: "strategy execution rejected: " + err.Error()}, nil
		}
		return executeOutcome{}, err
	}

	if err := o.searches.SetTaskID(ctx, req.SearchID, res.TaskID); err != nil {
		return executeOutcome{}, err
	}
	if err := o.strategies.MarkExecuting(ctx, ids, res.TaskID); err != nil {
		return executeOutcome{}, err
	}
	if err := o.searches.UpdateStatus(ctx, req.SearchID, constants.SearchStatusExecuting, 30); err != nil {
		return executeOutcome{}, err
	}
	o.notifier.Publish(ctx, req.SearchID, realtime.EventStatusUpdated, map[string]any{
		"status":   string(constants.SearchStatusExecuting),
		"message":  fmt.Sprintf("executing %d search strategies", len(ids)),
		"progress": 30,
	})
	return executeOutcome{TaskID: res.TaskID, Launched: res.StrategiesLaunched, Executed: ids}, nil
}

// pollOnce performs one poll iteration: fetch, ingest the newly appended
// suffix, update progress. seen is the high-water mark of candidates already
// persisted in earlier iterations.
func (o *Orchestrator) pollOnce(ctx context.Context, searchID uuid.UUID, taskID string, executed []uuid.UUID, seen int) (pollOutcome, error) {
	res, err := o.provider.PollResults(ctx, taskID)
	if err != nil {
		if provider.IsClientError(err) || errors.Is(err, provider.ErrInvalidResponse) {
			// The provider does not recognize the task; retrying cannot help.
			return pollOutcome{Failed: true, Seen: seen, Message: "provider rejected poll: " + err.Error()}, nil
		}
		// Transient; the next iteration tries again.
		o.log.Warn("orchestrator.poll_transient_error", "search_id", searchID, "task_id", taskID, "error", err)
		return pollOutcome{Seen: seen}, nil
	}

	if res.Status == provider.PollStatusFailed {
		msg := res.Error
		if msg == "" {
			msg = "provider reported task failure"
		}
		return pollOutcome{Failed: true, Seen: seen, Message: msg}, nil
	}

	out := pollOutcome{Seen: seen}

	if res.Status == provider.PollStatusCompleted {
		// The terminal suffix is persisted by the persist-remainder step.
		out.Done = true
		out.Final = res.Candidates
		return out, nil
	}

	// The task is still in flight: the executed strategies are polling now.
	// The repository only advances rows that are still executing, so later
	// iterations and replays cannot touch rows that have since moved on.
	if err := o.strategies.MarkPolling(ctx, executed); err != nil {
		return pollOutcome{}, err
	}

	if n := len(res.Candidates); n > seen {
		ing, err := o.ingest.IngestBatch(ctx, searchID, "sourcing", res.Candidates[seen:])
		if err != nil {
			return pollOutcome{}, err
		}
		out.Seen = n
		out.Total = ing.Total
		o.notifier.Publish(ctx, searchID, realtime.EventCandidatesAdded, map[string]any{
			"count": ing.NewLinks,
			"total": ing.Total,
		})
	} else if n < seen {
		// The provider shrank its reported list. Tolerated: the mark stands
		// and nothing is re-ingested.
		o.log.Warn("orchestrator.poll_list_shrank", "search_id", searchID, "reported", n, "seen", seen)
	}

	if res.StrategiesTotal > 0 {
		progress := 30 + (60*res.StrategiesCompleted)/res.StrategiesTotal
		if progress > 90 {
			progress = 90
		}
		out.Progress = progress
		if err := o.searches.UpdateStatus(ctx, searchID, constants.SearchStatusPolling, progress); err != nil {
			return pollOutcome{}, err
		}
		o.notifier.Publish(ctx, searchID, realtime.EventProgressUpdated, map[string]any{
			"progress": progress,
			"message":  fmt.Sprintf("%d of %d strategies completed", res.StrategiesCompleted, res.StrategiesTotal),
		})
	}

	return out, nil
}

func (o *Orchestrator) persistRemainder(ctx context.Context, searchID uuid.UUID, final *pollOutcome, seen int) (int, error) {
	if len(final.Final) > seen {
		ing, err := o.ingest.IngestBatch(ctx, searchID, "sourcing", final.Final[seen:])
		if err != nil {
			return 0, err
		}
		if ing.NewLinks > 0 {
			o.notifier.Publish(ctx, searchID, realtime.EventCandidatesAdded, map[string]any{
				"count": ing.NewLinks,
				"total": ing.Total,
			})
		}
		return ing.Total, nil
	}
	return o.ingest.Total(ctx, searchID)
}

// finalize closes out the run. Each update is attempted regardless of the
// others; the candidates are captured, so failures are logged and dropped.
func (o *Orchestrator) finalize(ctx context.Context, searchID uuid.UUID, executed []uuid.UUID, total int) {
	if err := o.searches.MarkCompleted(ctx, searchID); err != nil {
		o.log.Error("orchestrator.finalize.search_update_failed", "search_id", searchID, "error", err)
	}
	for _, id := range executed {
		// The provider reports aggregate counts only, so each executed
		// strategy records the run total.
		if err := o.strategies.MarkCompleted(ctx, id, total); err != nil {
			o.log.Error("orchestrator.finalize.strategy_update_failed", "strategy_id", id, "error", err)
		}
	}
	o.notifier.Publish(ctx, searchID, realtime.EventSearchCompleted, map[string]any{
		"candidatesCount": total,
		"status":          string(constants.SearchStatusCompleted),
	})
}

// failRun is the shared terminal-failure branch: mark the search (and any
// in-flight strategies), tell the client, and return a non-retryable result.
func (o *Orchestrator) failRun(ctx context.Context, searchID uuid.UUID, strategyIDs []uuid.UUID, msg string) (RunResult, error) {
	if err := o.searches.MarkError(ctx, searchID, msg); err != nil {
		o.log.Error("orchestrator.fail.search_update_failed", "search_id", searchID, "error", err)
	}
	if len(strategyIDs) > 0 {
		if err := o.strategies.MarkError(ctx, strategyIDs, msg); err != nil {
			o.log.Error("orchestrator.fail.strategy_update_failed", "search_id", searchID, "error", err)
		}
	}
	o.notifier.Publish(ctx, searchID, realtime.EventSearchFailed, map[string]any{"error": msg})
	return RunResult{Status: constants.SearchStatusError, ErrorMessage: msg}, nil
}

// MarkFailed is the global failure hook: when the engine exhausts its retry
// budget mid-step, the step code is no longer executing, so this performs the
// same error marking from outside the run.
func (o *Orchestrator) MarkFailed(ctx context.Context, req RunRequest, cause error) {
	msg := "sourcing run failed"
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := o.failRun(ctx, req.SearchID, nil, msg); err != nil {
		o.log.Error("orchestrator.mark_failed", "search_id", req.SearchID, "error", err)
	}
}

// RunWithRecovery runs the orchestration and applies the failure hook if the
// run surfaces a retryable error whose budget the engine has already spent.
func (o *Orchestrator) RunWithRecovery(ctx context.Context, engine durable.Engine, req RunRequest) (RunResult, error) {
	res, err := o.Run(ctx, engine, req)
	if err != nil {
		o.MarkFailed(ctx, req, err)
		return RunResult{Status: constants.SearchStatusError, ErrorMessage: err.Error()}, err
	}
	return res, nil
}
