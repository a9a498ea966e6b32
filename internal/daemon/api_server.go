package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"specforge/internal/api"
	"specforge/internal/config"
	"specforge/internal/gate"
	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/workflow"
)

const maxBodyBytes = 4 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	svc    *api.Service
	daemon *Daemon
	router chi.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, svc *api.Service, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logger,
		svc:    svc,
		daemon: d,
	}
	s.router = s.routes(cfg.Paths.APIToken)
	return s
}

func (s *apiServer) routes(token string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestContext)
	r.Use(authMiddleware(token))

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/preflight", s.handlePreflight)

	r.Get("/api/candidates", s.handleListCandidates)
	r.Post("/api/candidates", s.handleAddCandidate)
	r.Post("/api/candidates/import", s.handleImportCandidates)
	r.Post("/api/candidates/purge", s.handlePurgeRejected)
	r.Get("/api/candidates/{id}", s.handleGetCandidate)
	r.Post("/api/candidates/{id}/verify", s.handleVerify)
	r.Post("/api/verify", s.handleVerifyBatch)

	r.Get("/api/gaps", s.handleListGaps)
	r.Get("/api/gaps/stats", s.handleGapStats)
	r.Get("/api/gaps/{id}", s.handleGetGap)
	r.Post("/api/gaps/{id}/status", s.handleSetGapStatus)

	r.Post("/api/rounds", s.handleSample)
	r.Get("/api/rounds/{id}", s.handleGetRound)
	r.Post("/api/rounds/{id}/decide", s.handleDecide)

	r.Get("/api/ideas", s.handleListIdeas)
	r.Get("/api/ideas/{id}", s.handleGetIdea)
	r.Post("/api/ideas/{id}/compile", s.handleCompile)
	r.Post("/api/ideas/{id}/handoff", s.handleHandoff)

	r.Get("/api/runs", s.handleListRuns)
	r.Post("/api/runs", s.handleEnqueue)
	r.Post("/api/runs/cleanup", s.handleCleanup)
	r.Get("/api/runs/{id}", s.handleShowRun)
	r.Post("/api/runs/{id}/cancel", s.handleCancel)
	r.Post("/api/runs/{id}/stages/{stage}", s.handleRunStage)

	r.Get("/api/specs", s.handleListSpecs)
	r.Get("/api/specs/{version}", s.handleShowSpec)
	r.Post("/api/specs/{version}/activate", s.handleActivateSpec)

	r.Get("/api/audit", s.handleAudit)
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error services.Details `json:"error"`
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			append([]any{logging.String("path", r.URL.Path)}, logging.Args(logging.ErrorDetails(err)...)...)...)
	}
	s.writeJSON(w, status, errorBody{Error: services.ErrorDetails(err)})
}

func badRequest(op, message string, err error) error {
	return services.Fail(services.ErrValidation, services.CodeInvalidArgument, op, message, err)
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("parse path", fmt.Sprintf("invalid %s %q", key, raw), err)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("parse query", fmt.Sprintf("invalid %s %q", key, raw), err)
	}
	return n, nil
}

func decodeBody(r *http.Request, dest any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("decode body", "invalid JSON body", err)
	}
	return nil
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handlePreflight(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Preflight(r.Context()))
}

func (s *apiServer) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := store.CandidateFilter{Limit: limit}
	for _, v := range r.URL.Query()["capability"] {
		filter.Capability = append(filter.Capability, store.CapabilityStatus(strings.TrimSpace(v)))
	}
	for _, v := range r.URL.Query()["decision"] {
		filter.Decision = append(filter.Decision, store.DecisionStatus(strings.TrimSpace(v)))
	}
	out, err := s.svc.ListCandidates(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

func (s *apiServer) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var in api.CandidateInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.AddCandidate(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *apiServer) handleImportCandidates(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.ImportCandidates(r.Context(), io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handlePurgeRejected(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.PurgeRejected(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"purged": ids})
}

func (s *apiServer) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.svc.GetCandidate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.svc.Verify(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.svc.VerifyBatch(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleListGaps(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := store.GapFilter{SpecVersion: q.Get("spec_version"), Impact: q.Get("impact"), Limit: limit}
	for _, v := range q["status"] {
		filter.Status = append(filter.Status, store.GapStatus(strings.TrimSpace(v)))
	}
	out, err := s.svc.ListGaps(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"gaps": out})
}

func (s *apiServer) handleGapStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GapStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleGetGap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.svc.GetGap(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

type gapStatusRequest struct {
	Status        store.GapStatus `json:"status"`
	ImplementedIn string          `json:"implemented_in_version"`
}

func (s *apiServer) handleSetGapStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req gapStatusRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.svc.SetGapStatus(r.Context(), id, req.Status, req.ImplementedIn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

type sampleRequest struct {
	N int `json:"n"`
}

func (s *apiServer) handleSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	round, err := s.svc.SampleCandidates(r.Context(), req.N)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, round)
}

func (s *apiServer) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	round, err := s.svc.GetRound(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, round)
}

type decideRequest struct {
	Decisions []gate.Decision `json:"decisions"`
}

func (s *apiServer) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req decideRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	idea, err := s.svc.Decide(r.Context(), id, req.Decisions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idea)
}

func (s *apiServer) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.ListIdeas(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ideas": out})
}

func (s *apiServer) handleGetIdea(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.svc.GetIdea(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleCompile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.CompileRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Compile(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res.Compilation)
}

type handoffRequest struct {
	Render *bool `json:"render"`
}

func (s *apiServer) handleHandoff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req handoffRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	renderEnabled := true
	if req.Render != nil {
		renderEnabled = *req.Render
	}
	out, err := s.svc.Handoff(r.Context(), id, renderEnabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := store.RunFilter{Limit: limit}
	for _, v := range r.URL.Query()["status"] {
		filter.Status = append(filter.Status, store.RunStatus(strings.TrimSpace(v)))
	}
	runs, err := s.svc.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type enqueueRequest struct {
	WindowKey string           `json:"window_key"`
	Params    *store.RunParams `json:"params"`
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	run, created, err := s.svc.Enqueue(r.Context(), workflow.EnqueueRequest{WindowKey: req.WindowKey, Params: req.Params})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{"run": run, "created": created})
}

type cleanupRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

func (s *apiServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.svc.CleanupStaleStages(r.Context(), time.Duration(req.OlderThanSeconds)*time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleShowRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.svc.ShowRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.svc.CancelRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleRunStage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sr, err := s.svc.RunStage(r.Context(), id, store.StageName(chi.URLParam(r, "stage")))
	if err != nil {
		if sr != nil {
			s.writeJSON(w, api.HTTPStatus(err), map[string]any{"stage": sr, "error": services.ErrorDetails(err)})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sr)
}

func (s *apiServer) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"specs": s.svc.ListSpecs()})
}

func (s *apiServer) handleShowSpec(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	if version == "active" {
		version = ""
	}
	g, err := s.svc.ShowSpec(version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *apiServer) handleActivateSpec(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.ActivateSpec(r.Context(), chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *apiServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := store.AuditFilter{EntityType: q.Get("entity_type"), Action: q.Get("action"), Limit: limit}
	if raw := q.Get("entity_id"); raw != "" {
		if filter.EntityID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			s.writeError(w, r, badRequest("parse query", "invalid entity_id", err))
			return
		}
	}
	if raw := q.Get("after_id"); raw != "" {
		if filter.AfterID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			s.writeError(w, r, badRequest("parse query", "invalid after_id", err))
			return
		}
	}
	if raw := q.Get("since"); raw != "" {
		if filter.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, r, badRequest("parse query", "since must be RFC3339", err))
			return
		}
	}
	events, err := s.svc.Audit(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
