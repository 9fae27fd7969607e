package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/internal/durable"
	"github.com/hirelens/sourcing-engine/internal/entity"
	"github.com/hirelens/sourcing-engine/internal/ingest"
	"github.com/hirelens/sourcing-engine/internal/provider"
	"github.com/hirelens/sourcing-engine/internal/queue"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
	"github.com/hirelens/sourcing-engine/internal/scoring"
)

// ---- fakes ----------------------------------------------------------------

type fakeSearches struct {
	mu        sync.Mutex
	statuses  []constants.SearchStatus
	progress  int
	taskID    string
	errMsg    string
	completed bool

	updateErr error // when set, UpdateStatus fails with it
}

func (f *fakeSearches) GetByID(context.Context, uuid.UUID) (*entity.Search, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSearches) Create(context.Context, *entity.Search) error {
	return errors.New("not implemented")
}

func (f *fakeSearches) UpdateStatus(_ context.Context, _ uuid.UUID, status constants.SearchStatus, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.statuses = append(f.statuses, status)
	if progress > f.progress {
		f.progress = progress
	}
	return nil
}

func (f *fakeSearches) SetTaskID(_ context.Context, _ uuid.UUID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskID = taskID
	return nil
}

func (f *fakeSearches) MarkError(_ context.Context, _ uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, constants.SearchStatusError)
	f.errMsg = message
	return nil
}

func (f *fakeSearches) MarkCompleted(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, constants.SearchStatusCompleted)
	f.progress = 100
	f.completed = true
	return nil
}

func (f *fakeSearches) ListStale(context.Context, time.Time) ([]*entity.Search, error) {
	return nil, nil
}

func (f *fakeSearches) lastStatus() constants.SearchStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeStrategies struct {
	mu             sync.Mutex
	rows           map[uuid.UUID]*entity.SourcingStrategy
	inserted       []*entity.SourcingStrategy
	payloadUpdates map[uuid.UUID]int
	resetIDs       []uuid.UUID
	executingIDs   []uuid.UUID
	pollingIDs     []uuid.UUID
	errored        []uuid.UUID
	completed      map[uuid.UUID]int
}

func newFakeStrategies() *fakeStrategies {
	return &fakeStrategies{
		rows:           map[uuid.UUID]*entity.SourcingStrategy{},
		payloadUpdates: map[uuid.UUID]int{},
		completed:      map[uuid.UUID]int{},
	}
}

func (f *fakeStrategies) InsertBatch(_ context.Context, strategies []*entity.SourcingStrategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range strategies {
		f.inserted = append(f.inserted, s)
		f.rows[s.ID] = s
	}
	return nil
}

func (f *fakeStrategies) ListBySearch(context.Context, uuid.UUID) ([]*entity.SourcingStrategy, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStrategies) ListByIDs(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]*entity.SourcingStrategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []*entity.SourcingStrategy
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStrategies) UpdatePayload(_ context.Context, id uuid.UUID, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloadUpdates[id]++
	if row, ok := f.rows[id]; ok {
		row.Payload = payload
	}
	return nil
}

func (f *fakeStrategies) ResetForRerun(_ context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetIDs = append(f.resetIDs, ids...)
	return nil
}

func (f *fakeStrategies) MarkExecuting(_ context.Context, ids []uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executingIDs = append(f.executingIDs, ids...)
	return nil
}

func (f *fakeStrategies) MarkPolling(_ context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollingIDs = append(f.pollingIDs, ids...)
	return nil
}

func (f *fakeStrategies) MarkError(_ context.Context, ids []uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored = append(f.errored, ids...)
	return nil
}

func (f *fakeStrategies) MarkCompleted(_ context.Context, id uuid.UUID, candidatesFound int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = candidatesFound
	return nil
}

// memStore backs both the candidate and the link repository with maps, so the
// real ingest service runs against it unchanged.
type memStore struct {
	mu    sync.Mutex
	byURL map[string]*entity.Candidate
	links map[uuid.UUID]map[uuid.UUID]*entity.SearchCandidate
}

func newMemStore() *memStore {
	return &memStore{
		byURL: map[string]*entity.Candidate{},
		links: map[uuid.UUID]map[uuid.UUID]*entity.SearchCandidate{},
	}
}

func (m *memStore) UpsertByProfileURL(_ context.Context, c *entity.Candidate) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byURL[c.ProfileURL]; ok {
		id := existing.ID
		*existing = *c
		existing.ID = id
		return id, nil
	}
	c.ID = uuid.New()
	m.byURL[c.ProfileURL] = c
	return c.ID, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*entity.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byURL {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.New("candidate not found")
}

func (m *memStore) Link(_ context.Context, searchID, candidateID uuid.UUID, source string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[searchID] == nil {
		m.links[searchID] = map[uuid.UUID]*entity.SearchCandidate{}
	}
	if _, ok := m.links[searchID][candidateID]; ok {
		return false, nil
	}
	m.links[searchID][candidateID] = &entity.SearchCandidate{
		ID:          uuid.New(),
		SearchID:    searchID,
		CandidateID: candidateID,
		Source:      source,
	}
	return true, nil
}

func (m *memStore) CountBySearch(_ context.Context, searchID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links[searchID]), nil
}

func (m *memStore) ListUnscored(_ context.Context, searchID uuid.UUID) ([]repository.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.SearchResult
	for candidateID, link := range m.links[searchID] {
		if link.MatchScore != nil {
			continue
		}
		for _, c := range m.byURL {
			if c.ID == candidateID {
				out = append(out, repository.SearchResult{Link: *link, Candidate: *c})
			}
		}
	}
	return out, nil
}

func (m *memStore) ListResults(ctx context.Context, searchID uuid.UUID) ([]repository.SearchResult, error) {
	return m.ListUnscored(ctx, searchID)
}

func (m *memStore) SetScore(_ context.Context, id uuid.UUID, score float64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byCandidate := range m.links {
		for _, link := range byCandidate {
			if link.ID == id {
				link.MatchScore = &score
				link.Status = status
				return nil
			}
		}
	}
	return errors.New("link not found")
}

// pollScript is one scripted poll response; Err wins when both are set.
type pollScript struct {
	Res *provider.PollResult
	Err error
}

type fakeProvider struct {
	mu sync.Mutex

	generateRes *provider.GenerateResult
	generateErr error
	executeRes  *provider.ExecuteResult
	executeErr  error
	polls       []pollScript

	generateCalls int
	executeCalls  int
	pollCalls     int
	executed      [][]provider.Strategy
}

func (f *fakeProvider) GenerateStrategies(context.Context, string, json.RawMessage, string) (*provider.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.generateRes, nil
}

func (f *fakeProvider) ExecuteStrategies(_ context.Context, _ string, strategies []provider.Strategy) (*provider.ExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeCalls++
	f.executed = append(f.executed, strategies)
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.executeRes, nil
}

func (f *fakeProvider) PollResults(context.Context, string) (*provider.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollCalls
	f.pollCalls++
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	s := f.polls[i]
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Res, nil
}

type failQueue struct{}

func (failQueue) Publish(context.Context, queue.Job, time.Duration) error {
	return errors.New("queue unavailable")
}

func (failQueue) Shutdown(context.Context) {}

// ---- harness --------------------------------------------------------------

type testEnv struct {
	searches   *fakeSearches
	strategies *fakeStrategies
	store      *memStore
	prov       *fakeProvider
	rec        *realtime.Recorder
	jobs       *queue.Memory
	orch       *Orchestrator
	engine     *durable.MemEngine
}

func newTestEnv(prov *fakeProvider, cfg Config, q queue.Queue) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		searches:   &fakeSearches{},
		strategies: newFakeStrategies(),
		store:      newMemStore(),
		prov:       prov,
		rec:        &realtime.Recorder{},
		engine:     durable.NewMemEngine(uuid.New()),
	}
	if q == nil {
		env.jobs = queue.NewMemory()
		q = env.jobs
	}
	ingestSvc := ingest.NewService(env.store, env.store, logger)
	dispatcher := scoring.NewDispatcher(env.store, q, env.rec, 30, logger)
	env.orch = New(env.searches, env.strategies, ingestSvc, prov, env.rec, dispatcher, cfg, logger)
	return env
}

func profiles(n int) []provider.Profile {
	out := make([]provider.Profile, n)
	for i := range out {
		out[i] = provider.Profile{
			ProfileURL: fmt.Sprintf("https://example.com/in/p%02d", i),
			FullName:   fmt.Sprintf("Person %02d", i),
		}
	}
	return out
}

func freshProvider() *fakeProvider {
	return &fakeProvider{
		generateRes: &provider.GenerateResult{Strategies: []provider.Strategy{
			{Name: "golang backend", Payload: json.RawMessage(`{"keywords":["go","backend"]}`)},
			{Name: "golang platform", Payload: json.RawMessage(`{"keywords":["go","platform"]}`)},
		}},
		executeRes: &provider.ExecuteResult{TaskID: "task-123", StrategiesLaunched: 2},
	}
}

func freshRequest() RunRequest {
	return RunRequest{
		SearchID: uuid.New(),
		Query:    "senior golang engineer, remote",
		Criteria: json.RawMessage(`{"titles":["backend engineer"],"skills":["go"]}`),
	}
}

// ---- tests ----------------------------------------------------------------

func TestRunHappyPath(t *testing.T) {
	all := profiles(7)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: "running", Candidates: all[:3], StrategiesCompleted: 1, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: "running", Candidates: all[:7], StrategiesCompleted: 2, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all[:7], StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 10, PollInterval: time.Millisecond}, nil)
	req := freshRequest()

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)
	assert.Equal(t, 7, res.CandidatesFound)

	// Every profile linked exactly once despite the cumulative poll lists.
	n, _ := env.store.CountBySearch(context.Background(), req.SearchID)
	assert.Equal(t, 7, n)

	// Incremental ingest events carry suffix sizes, not cumulative ones.
	added := env.rec.ByName(realtime.EventCandidatesAdded)
	require.Len(t, added, 2)
	assert.Equal(t, 3, added[0].Payload.(map[string]any)["count"])
	assert.Equal(t, 4, added[1].Payload.(map[string]any)["count"])

	assert.True(t, env.searches.completed)
	assert.Equal(t, "task-123", env.searches.taskID)
	assert.Len(t, env.rec.ByName(realtime.EventSearchCompleted), 1)
	assert.Len(t, env.rec.ByName(realtime.EventScoringStarted), 1)

	// Both executed strategies recorded the run total.
	require.Len(t, env.strategies.completed, 2)
	for _, found := range env.strategies.completed {
		assert.Equal(t, 7, found)
	}

	// Scoring fan-out: 7 jobs, first 5 immediate, the rest one stagger later.
	jobs := env.jobs.Jobs()
	require.Len(t, jobs, 7)
	assert.Equal(t, time.Duration(0), jobs[0].Delay)
	assert.Equal(t, time.Duration(0), jobs[4].Delay)
	assert.Equal(t, 30*time.Second, jobs[5].Delay)
	assert.Equal(t, 30*time.Second, jobs[6].Delay)
	for _, j := range jobs {
		assert.Equal(t, req.SearchID, j.Job.SearchID)
		assert.Equal(t, 7, j.Job.Total)
		assert.NotEmpty(t, j.Job.Candidate.ProfileURL)
	}
}

func TestRunRejectsMalformedRequest(t *testing.T) {
	tests := []struct {
		name string
		req  RunRequest
	}{
		{"missing search id", RunRequest{Query: "q", Criteria: json.RawMessage(`{}`)}},
		{"missing query", RunRequest{SearchID: uuid.New(), Criteria: json.RawMessage(`{}`)}},
		{"missing criteria", RunRequest{SearchID: uuid.New(), Query: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := freshProvider()
			env := newTestEnv(prov, Config{}, nil)
			res, err := env.orch.Run(context.Background(), env.engine, tt.req)
			require.NoError(t, err)
			assert.Equal(t, constants.SearchStatusError, res.Status)
			assert.NotEmpty(t, res.ErrorMessage)
			assert.Zero(t, prov.generateCalls)
			assert.Empty(t, env.searches.statuses)
		})
	}
}

func TestRunGenerationRejected(t *testing.T) {
	prov := freshProvider()
	prov.generateErr = &provider.APIError{StatusCode: 422, Body: `{"error":"criteria unparseable"}`}
	env := newTestEnv(prov, Config{}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err, "terminal failures must not look retryable to the host")
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Contains(t, res.ErrorMessage, "rejected")
	assert.Equal(t, 1, prov.generateCalls)
	assert.Zero(t, prov.executeCalls)
	assert.Equal(t, constants.SearchStatusError, env.searches.lastStatus())
	assert.Len(t, env.rec.ByName(realtime.EventSearchFailed), 1)
}

func TestRunEmptyStrategySet(t *testing.T) {
	prov := freshProvider()
	prov.generateRes = &provider.GenerateResult{}
	env := newTestEnv(prov, Config{}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Contains(t, res.ErrorMessage, "no strategies")
	assert.Zero(t, prov.executeCalls)
	assert.Empty(t, env.strategies.inserted)
}

func TestRunExecutionRejected(t *testing.T) {
	prov := freshProvider()
	prov.executeErr = &provider.APIError{StatusCode: 400, Body: `{"error":"bad strategy payload"}`}
	env := newTestEnv(prov, Config{}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Zero(t, prov.pollCalls)
	// Persisted but never launched.
	assert.Len(t, env.strategies.inserted, 2)
	assert.Empty(t, env.strategies.executingIDs)
}

func TestRunSchemaViolationIsTerminal(t *testing.T) {
	prov := freshProvider()
	prov.executeErr = fmt.Errorf("%w: task_id missing", provider.ErrInvalidResponse)
	env := newTestEnv(prov, Config{}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Zero(t, prov.pollCalls)
}

func TestRunProviderTaskFailure(t *testing.T) {
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusFailed, Error: "upstream source unavailable"}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Equal(t, "upstream source unavailable", res.ErrorMessage)
	// The in-flight strategies are failed with the run.
	assert.Len(t, env.strategies.errored, 2)
}

func TestRunPollTimeoutKeepsIngested(t *testing.T) {
	all := profiles(2)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: "running", Candidates: all, StrategiesCompleted: 1, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: "running", Candidates: all, StrategiesCompleted: 1, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 3, PollInterval: time.Millisecond}, nil)
	req := freshRequest()

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Contains(t, res.ErrorMessage, "timed out after 3 poll attempts")
	assert.Equal(t, 3, prov.pollCalls)

	// Candidates ingested before the ceiling stay linked.
	n, _ := env.store.CountBySearch(context.Background(), req.SearchID)
	assert.Equal(t, 2, n)
}

func TestRunShrunkPollListKeepsHighWaterMark(t *testing.T) {
	all := profiles(3)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: "running", Candidates: all, StrategiesCompleted: 1, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: "running", Candidates: all[:1], StrategiesCompleted: 1, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 10, PollInterval: time.Millisecond}, nil)
	req := freshRequest()

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)
	assert.Equal(t, 3, res.CandidatesFound)
	assert.Equal(t, 3, prov.pollCalls)

	// The shrunken iteration neither re-ingests nor unwinds earlier links, and
	// the terminal list adds nothing the mark has already covered.
	n, _ := env.store.CountBySearch(context.Background(), req.SearchID)
	assert.Equal(t, 3, n)
	added := env.rec.ByName(realtime.EventCandidatesAdded)
	require.Len(t, added, 1)
	assert.Equal(t, 3, added[0].Payload.(map[string]any)["count"])
}

func TestRunMarksStrategiesPollingWhileTaskRuns(t *testing.T) {
	all := profiles(2)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: "running", Candidates: all, StrategiesCompleted: 1, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)

	// Both launched strategies passed through polling before completing.
	assert.ElementsMatch(t, env.strategies.executingIDs, env.strategies.pollingIDs)
	assert.Len(t, env.strategies.completed, 2)
}

func TestRunImmediateCompletionSkipsPolling(t *testing.T) {
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: profiles(1), StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)

	_, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Empty(t, env.strategies.pollingIDs)
}

func TestRunTransientPollErrorRecovers(t *testing.T) {
	all := profiles(3)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Err: &provider.APIError{StatusCode: 503, Body: "overloaded"}},
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)
	assert.Equal(t, 3, res.CandidatesFound)
	assert.Equal(t, 2, prov.pollCalls)
}

func TestRunUnknownTaskOnPollIsTerminal(t *testing.T) {
	prov := freshProvider()
	prov.polls = []pollScript{
		{Err: &provider.APIError{StatusCode: 404, Body: "no such task"}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Equal(t, 1, prov.pollCalls)
}

func TestRunCompletedWithZeroCandidates(t *testing.T) {
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)
	assert.Zero(t, res.CandidatesFound)
	assert.True(t, env.searches.completed)
	// Nothing to score, so the hand-off never happens.
	assert.Empty(t, env.jobs.Jobs())
	assert.Empty(t, env.rec.ByName(realtime.EventScoringStarted))
}

func TestRunRemainderArrivesWithCompletion(t *testing.T) {
	all := profiles(5)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: "running", Candidates: all[:2], StrategiesCompleted: 1, StrategiesTotal: 2}},
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)
	req := freshRequest()

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, 5, res.CandidatesFound)

	added := env.rec.ByName(realtime.EventCandidatesAdded)
	require.Len(t, added, 2)
	assert.Equal(t, 2, added[0].Payload.(map[string]any)["count"])
	assert.Equal(t, 3, added[1].Payload.(map[string]any)["count"])
}

func TestRunResumeSkipsCompletedSteps(t *testing.T) {
	all := profiles(4)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)
	req := freshRequest()

	first, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)

	generateCalls, executeCalls, pollCalls := prov.generateCalls, prov.executeCalls, prov.pollCalls

	// Same engine, same run: every step replays from its checkpoint.
	second, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, generateCalls, prov.generateCalls)
	assert.Equal(t, executeCalls, prov.executeCalls)
	assert.Equal(t, pollCalls, prov.pollCalls)

	// No candidate got linked twice.
	n, _ := env.store.CountBySearch(context.Background(), req.SearchID)
	assert.Equal(t, 4, n)
}

func TestRunExecutionLimit(t *testing.T) {
	prov := freshProvider()
	prov.generateRes = &provider.GenerateResult{Strategies: []provider.Strategy{
		{Name: "a", Payload: json.RawMessage(`{"p":1}`)},
		{Name: "b", Payload: json.RawMessage(`{"p":2}`)},
		{Name: "c", Payload: json.RawMessage(`{"p":3}`)},
	}}
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, StrategiesCompleted: 1, StrategiesTotal: 1}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)
	req := freshRequest()
	req.ExecutionLimit = 1

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)

	// All three persisted; only the first launched.
	assert.Len(t, env.strategies.inserted, 3)
	require.Len(t, prov.executed, 1)
	require.Len(t, prov.executed[0], 1)
	assert.Equal(t, "a", prov.executed[0][0].Name)
	assert.Len(t, env.strategies.executingIDs, 1)
	assert.Len(t, env.strategies.completed, 1)
}

func TestRunNegativeLimitOverridesConfiguredCap(t *testing.T) {
	prov := freshProvider()
	prov.generateRes = &provider.GenerateResult{Strategies: []provider.Strategy{
		{Name: "a", Payload: json.RawMessage(`{"p":1}`)},
		{Name: "b", Payload: json.RawMessage(`{"p":2}`)},
		{Name: "c", Payload: json.RawMessage(`{"p":3}`)},
	}}
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, StrategiesCompleted: 3, StrategiesTotal: 3}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond, ExecutionLimit: 1}, nil)
	req := freshRequest()
	req.ExecutionLimit = -1

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)

	// The negative override launches every strategy despite the configured cap.
	require.Len(t, prov.executed, 1)
	assert.Len(t, prov.executed[0], 3)
	assert.Len(t, env.strategies.executingIDs, 3)
	assert.Len(t, env.strategies.completed, 3)
}

func TestRunContinuationBumpsPageOnce(t *testing.T) {
	req := freshRequest()
	s1 := &entity.SourcingStrategy{
		ID:       uuid.New(),
		SearchID: req.SearchID,
		Name:     "golang backend",
		Payload:  json.RawMessage(`{"keywords":["go"]}`),
		Status:   constants.StrategyStatusCompleted,
	}
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: profiles(1), StrategiesCompleted: 1, StrategiesTotal: 1}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, nil)
	env.strategies.rows[s1.ID] = s1

	// The same id twice must advance the cursor a single page.
	req.StrategyIDs = []uuid.UUID{s1.ID, s1.ID}

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)

	assert.Equal(t, 1, env.strategies.payloadUpdates[s1.ID])
	var payload map[string]any
	require.NoError(t, json.Unmarshal(s1.Payload, &payload))
	assert.Equal(t, float64(2), payload["page"])

	// Continuation reuses the stored rows instead of inserting new ones.
	assert.Empty(t, env.strategies.inserted)
	assert.Equal(t, []uuid.UUID{s1.ID}, env.strategies.resetIDs)
	assert.Zero(t, prov.generateCalls)
}

func TestRunContinuationUnknownIDs(t *testing.T) {
	prov := freshProvider()
	env := newTestEnv(prov, Config{}, nil)
	req := freshRequest()
	req.StrategyIDs = []uuid.UUID{uuid.New()}

	res, err := env.orch.Run(context.Background(), env.engine, req)
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusError, res.Status)
	assert.Contains(t, res.ErrorMessage, "no matching strategies")
}

func TestRunScoringDispatchFailureDoesNotFailRun(t *testing.T) {
	all := profiles(2)
	prov := freshProvider()
	prov.polls = []pollScript{
		{Res: &provider.PollResult{Status: provider.PollStatusCompleted, Candidates: all, StrategiesCompleted: 2, StrategiesTotal: 2}},
	}
	env := newTestEnv(prov, Config{MaxPollIterations: 5, PollInterval: time.Millisecond}, failQueue{})

	res, err := env.orch.Run(context.Background(), env.engine, freshRequest())
	require.NoError(t, err)
	assert.Equal(t, constants.SearchStatusCompleted, res.Status)
	assert.Equal(t, 2, res.CandidatesFound)
	assert.Len(t, env.rec.ByName(realtime.EventScoringFailed), 1)
	assert.Len(t, env.rec.ByName(realtime.EventSearchCompleted), 1)
}

func TestRunWithRecoveryMarksFailed(t *testing.T) {
	prov := freshProvider()
	env := newTestEnv(prov, Config{}, nil)
	env.searches.updateErr = errors.New("connection refused")

	_, err := env.orch.RunWithRecovery(context.Background(), env.engine, freshRequest())
	require.Error(t, err)
	assert.Equal(t, constants.SearchStatusError, env.searches.lastStatus())
	assert.Len(t, env.rec.ByName(realtime.EventSearchFailed), 1)
}

func TestBumpPage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    float64
		wantErr bool
	}{
		{"no cursor starts at one", `{"keywords":["go"]}`, 2, false},
		{"existing cursor advances", `{"keywords":["go"],"page":3}`, 4, false},
		{"malformed payload", `not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := bumpPage(json.RawMessage(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var m map[string]any
			require.NoError(t, json.Unmarshal(out, &m))
			assert.Equal(t, tt.want, m["page"])
		})
	}
}
