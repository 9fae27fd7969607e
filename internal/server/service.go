package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hirelens/sourcing-engine/constants"
	"github.com/hirelens/sourcing-engine/internal/common"
	"github.com/hirelens/sourcing-engine/internal/durable"
	"github.com/hirelens/sourcing-engine/internal/entity"
	"github.com/hirelens/sourcing-engine/internal/export"
	"github.com/hirelens/sourcing-engine/internal/orchestrator"
	"github.com/hirelens/sourcing-engine/internal/realtime"
	"github.com/hirelens/sourcing-engine/internal/repository"
)

// SourcingService is the HTTP surface: search creation, run triggers, the
// durable status fallback for polling clients, exports, and the websocket
// event relay.
type SourcingService struct {
	searches     repository.SearchRepository
	orchestrator *orchestrator.Orchestrator
	store        *durable.Store
	retry        durable.RetryPolicy
	export       *export.Service
	hub          *realtime.Hub
	logger       *zap.Logger
}

func NewSourcingService(
	searches repository.SearchRepository,
	orch *orchestrator.Orchestrator,
	store *durable.Store,
	retry durable.RetryPolicy,
	exp *export.Service,
	hub *realtime.Hub,
	logger *zap.Logger,
) *SourcingService {
	return &SourcingService{
		searches:     searches,
		orchestrator: orch,
		store:        store,
		retry:        retry,
		export:       exp,
		hub:          hub,
		logger:       logger,
	}
}

// WithRequestContext tags every request with an id, echoed back in the
// response header and attached to the context for log correlation.
func WithRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), reqID)))
	})
}

// Routes registers all handlers on mux.
func (s *SourcingService) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /searches", s.handleCreateSearch)
	mux.HandleFunc("POST /searches/{id}/run", s.handleRunSearch)
	mux.HandleFunc("GET /searches/{id}", s.handleGetSearch)
	mux.HandleFunc("GET /searches/{id}/export", s.handleExportSearch)
	mux.HandleFunc("GET /ws/searches/{id}", s.handleSearchEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type createSearchRequest struct {
	OrgID    uuid.UUID       `json:"org_id"`
	UserID   uuid.UUID       `json:"user_id"`
	Query    string          `json:"query"`
	Criteria json.RawMessage `json:"criteria"`
}

func (s *SourcingService) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req createSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" || len(req.Criteria) == 0 {
		httpError(w, http.StatusBadRequest, "query and criteria are required")
		return
	}

	search := &entity.Search{
		OrgID:    req.OrgID,
		UserID:   req.UserID,
		Query:    req.Query,
		Criteria: req.Criteria,
		Status:   constants.SearchStatusCreated,
	}
	if err := s.searches.Create(r.Context(), search); err != nil {
		s.logger.Warn("create search failed",
			zap.String("request_id", common.RequestIDFromContext(r.Context())),
			zap.Error(err))
		httpError(w, http.StatusInternalServerError, "create search failed")
		return
	}
	s.logger.Info("search created",
		zap.Stringer("search_id", search.ID),
		zap.String("request_id", common.RequestIDFromContext(r.Context())))

	s.startRun(orchestrator.RunRequest{
		SearchID: search.ID,
		Query:    search.Query,
		Criteria: search.Criteria,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     search.ID,
		"status": string(search.Status),
	})
}

type runSearchRequest struct {
	StrategyIDs    []uuid.UUID `json:"strategy_ids,omitempty"`
	ExecutionLimit int         `json:"execution_limit,omitempty"`
}

func (s *SourcingService) handleRunSearch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	var req runSearchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	search, err := s.searches.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			httpError(w, http.StatusNotFound, "search not found")
			return
		}
		s.logger.Warn("load search failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "load search failed")
		return
	}

	s.startRun(orchestrator.RunRequest{
		SearchID:       search.ID,
		Query:          search.Query,
		Criteria:       search.Criteria,
		StrategyIDs:    req.StrategyIDs,
		ExecutionLimit: req.ExecutionLimit,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"id": search.ID})
}

// startRun launches the orchestration in the background under a fresh run id.
// The HTTP request returns immediately; progress flows over the realtime
// channel and the Search row.
func (s *SourcingService) startRun(req orchestrator.RunRequest) {
	runID := uuid.New()
	engine := s.store.Engine(runID, s.retry)
	go func() {
		ctx := context.Background()
		if _, err := s.orchestrator.RunWithRecovery(ctx, engine, req); err != nil {
			s.logger.Warn("sourcing run failed",
				zap.Stringer("search_id", req.SearchID),
				zap.Stringer("run_id", runID),
				zap.Error(err))
		}
	}()
	s.logger.Info("sourcing run started",
		zap.Stringer("search_id", req.SearchID),
		zap.Stringer("run_id", runID))
}

func (s *SourcingService) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	search, err := s.searches.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			httpError(w, http.StatusNotFound, "search not found")
			return
		}
		s.logger.Warn("get search failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "get search failed")
		return
	}
	writeJSON(w, http.StatusOK, search)
}

func (s *SourcingService) handleExportSearch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	data, err := s.export.ExportCandidatesXLSX(r.Context(), id)
	if err != nil {
		s.logger.Warn("export failed", zap.Stringer("search_id", id), zap.Error(err))
		httpError(w, http.StatusInternalServerError, "export failed")
		return
	}
	filename := "candidates-" + id.String() + "-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

func (s *SourcingService) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	s.hub.ServeSearch(w, r, id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
