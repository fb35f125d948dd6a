package api

import (
	"encoding/json"
	"net/http"
)

// healthResponse tells a client whether the server can take invocations and
// which executor runs them.
type healthResponse struct {
	Status          string `json:"status"`
	DefaultExecutor string `json:"default_executor"`
	Running         int    `json:"running"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := healthResponse{
		Status:          "ok",
		DefaultExecutor: s.registry.DefaultName(),
		Running:         s.engine.Running(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
