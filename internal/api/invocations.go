package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/testrig/internal/engine"
	"github.com/seantiz/testrig/internal/model"
	"github.com/seantiz/testrig/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// invocationRequest is the JSON body for POST /v1/invocations and
// POST /v1/invocations/run.
type invocationRequest struct {
	Target   string            `json:"target"`
	Executor string            `json:"executor"`
	Command  []string          `json:"command"`
	Dir      string            `json:"dir"`
	Env      map[string]string `json:"env"`
	Args     []string          `json:"args"`
	TimeoutS int               `json:"timeout_s"`
}

// listInvocationsResponse wraps the paginated list response.
type listInvocationsResponse struct {
	Invocations []*model.Invocation `json:"invocations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// decodeInvocationRequest reads and validates the request body. It writes the
// error response itself and reports whether the caller should continue.
func (s *Server) decodeInvocationRequest(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var req invocationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return engine.Request{}, false
	}

	if req.Target == "" {
		s.writeError(w, http.StatusBadRequest, "target is required")
		return engine.Request{}, false
	}
	if len(req.Command) == 0 {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return engine.Request{}, false
	}
	if req.TimeoutS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_s must not be negative")
		return engine.Request{}, false
	}

	return engine.Request{
		Target:   model.Target(req.Target),
		Executor: model.ParseExecutorSpec(req.Executor),
		Command:  req.Command,
		Dir:      req.Dir,
		Env:      req.Env,
		Args:     req.Args,
		TimeoutS: req.TimeoutS,
	}, true
}

func (s *Server) handleSubmitInvocation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvocationRequest(w, r)
	if !ok {
		return
	}

	inv, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		s.logger.Error("submit invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit invocation")
		return
	}

	s.writeJSON(w, http.StatusAccepted, inv)
}

func (s *Server) handleRunInvocation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeInvocationRequest(w, r)
	if !ok {
		return
	}

	// The response is written only when the test finishes.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("clear write deadline for sync run", "error", err)
	}

	inv, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.logger.Error("run invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to run invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	invs, total, err := s.store.ListInvocations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}

	if invs == nil {
		invs = []*model.Invocation{}
	}

	s.writeJSON(w, http.StatusOK, listInvocationsResponse{
		Invocations: invs,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// handleCancelInvocation stops a running invocation. The response carries the
// record as stored at the time of the request; the terminal state follows
// shortly after.
func (s *Server) handleCancelInvocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for cancel", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	if !s.engine.Cancel(id) {
		s.writeError(w, http.StatusConflict, "invocation is not running")
		return
	}

	s.logger.Info("invocation cancelled", "invocation_id", id)
	s.writeJSON(w, http.StatusAccepted, inv)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
