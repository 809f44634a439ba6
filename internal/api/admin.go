package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Rorqualx/browserfarm/internal/middleware"
	"github.com/Rorqualx/browserfarm/internal/types"
)

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	writeOK(w, http.StatusOK, "", s.pool.Stats(), start)
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	writeOK(w, http.StatusOK, "", s.pool.QueuedJobs(), start)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.pool.CancelJob(chi.URLParam(r, "jobID")) {
		writeErr(w, types.ErrJobNotFound, start)
		return
	}
	writeOK(w, http.StatusOK, "Job cancelled", nil, start)
}

func (s *Server) evaluateScaling(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	writeOK(w, http.StatusOK, "", s.pool.EvaluateScaling(), start)
}

type scalingResponse struct {
	Decision types.ScalingDecision `json:"decision"`
	Result   types.ScalingResult   `json:"result"`
}

// executeScaling runs one controller round, or applies the decision in the
// body when one is given.
func (s *Server) executeScaling(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var decision types.ScalingDecision
	if !decode(w, r, &decision, true, start) {
		return
	}

	var (
		result types.ScalingResult
		err    error
	)
	if decision.Action == "" {
		decision, result, err = s.pool.Scale(r.Context())
	} else {
		switch decision.Action {
		case types.ScaleUp, types.ScaleDown, types.Maintain:
		default:
			middleware.WriteError(w, http.StatusBadRequest, "unknown scaling action: "+string(decision.Action), start)
			return
		}
		if decision.TargetInstances < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "targetInstances cannot be negative", start)
			return
		}
		result, err = s.pool.ExecuteScaling(r.Context(), decision)
	}
	if err != nil {
		writeErr(w, err, start)
		return
	}
	writeOK(w, http.StatusOK, "", scalingResponse{Decision: decision, Result: result}, start)
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	writeOK(w, http.StatusOK, "", s.pool.Configuration(), start)
}

// updateConfig merges the body into the active configuration, so callers
// may send only the fields they change.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := s.pool.Configuration()
	if !decode(w, r, &cfg, false, start) {
		return
	}
	if cfg.MinInstances < 0 || cfg.MaxInstances < 1 {
		middleware.WriteError(w, http.StatusBadRequest, "minInstances cannot be negative and maxInstances must be at least 1", start)
		return
	}
	if err := s.pool.UpdateConfiguration(cfg); err != nil {
		writeErr(w, err, start)
		return
	}
	writeOK(w, http.StatusOK, "Configuration updated", s.pool.Configuration(), start)
}
