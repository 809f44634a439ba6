package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/middleware"
	"github.com/Rorqualx/browserfarm/internal/pool"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// requestBrowser assigns a browser to a job. A job that had to be queued is
// answered with 202 unless waitMs is set and an instance frees up in time.
func (s *Server) requestBrowser(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.BrowserRequest
	if !decode(w, r, &req, false, start) {
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	priority, _ := types.ParsePriority(req.Priority)

	opts := []pool.RequestOption{
		pool.WithJobType(req.Type),
		pool.WithMetadata(req.Metadata),
		pool.WithEstimatedDuration(time.Duration(req.EstimatedDurationMs) * time.Millisecond),
	}
	if req.JobID != "" {
		opts = append(opts, pool.WithJobID(req.JobID))
	}
	if req.Overrides != nil {
		opts = append(opts, pool.WithOverrides(req.Overrides))
	}

	a, err := s.pool.RequestBrowser(r.Context(), req.Requirements(), priority, opts...)
	if err != nil {
		writeErr(w, err, start)
		return
	}

	inst := a.Instance
	if a.Queued && req.WaitMs > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.WaitMs)*time.Millisecond)
		inst, err = a.Wait(ctx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			// Still queued; the caller polls or retries with the job id.
		case r.Context().Err() != nil:
			s.abandon(a)
			return
		default:
			writeErr(w, err, start)
			return
		}
	}

	resp := types.AssignmentResponse{JobID: a.Job.ID, Queued: inst == nil, Instance: inst}
	if inst == nil {
		writeOK(w, http.StatusAccepted, "Job queued", resp, start)
		return
	}
	writeOK(w, http.StatusOK, "Browser assigned", resp, start)
}

// abandon withdraws a job whose caller went away. If the job was assigned
// in the meantime the instance goes straight back to the pool.
func (s *Server) abandon(a *pool.Assignment) {
	if s.pool.CancelJob(a.Job.ID) {
		return
	}
	select {
	case <-a.Done():
	default:
		return
	}
	inst, err := a.Wait(context.Background())
	if err != nil || inst == nil {
		return
	}
	log.Info().Str("job_id", a.Job.ID).Str("instance_id", inst.ID).Msg("Returning browser assigned to a disconnected client")
	s.pool.ReleaseBrowser(context.Background(), inst.ID, types.JobResult{Success: true})
}

func (s *Server) releaseBrowser(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "instanceID")
	var req types.ReleaseRequest
	if !decode(w, r, &req, true, start) {
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	if _, ok := s.pool.Instance(id); !ok {
		writeErr(w, types.ErrInstanceNotFound, start)
		return
	}
	if !s.pool.ReleaseBrowser(r.Context(), id, req.Result()) {
		middleware.WriteError(w, http.StatusConflict, "Browser instance is not assigned to a job", start)
		return
	}
	writeOK(w, http.StatusOK, "Browser released", nil, start)
}

// createInstanceRequest starts an instance on a specific node.
type createInstanceRequest struct {
	NodeID      string                  `json:"nodeId"`
	BrowserType types.BrowserType       `json:"browserType,omitempty"`
	Headless    bool                    `json:"headless,omitempty"`
	Stealth     bool                    `json:"stealth,omitempty"`
	Mobile      bool                    `json:"mobile,omitempty"`
	Proxy       bool                    `json:"proxy,omitempty"`
	Overrides   *types.ProfileOverrides `json:"overrides,omitempty"`
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req createInstanceRequest
	if !decode(w, r, &req, false, start) {
		return
	}
	if req.NodeID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "nodeId is required", start)
		return
	}
	if req.Overrides != nil {
		if err := req.Overrides.Validate(); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "overrides: "+err.Error(), start)
			return
		}
	}

	inst, err := s.pool.CreateInstance(req.NodeID, req.Overrides, types.JobRequirements{
		BrowserType: req.BrowserType,
		Headless:    req.Headless,
		Stealth:     req.Stealth,
		Mobile:      req.Mobile,
		Proxy:       req.Proxy,
	})
	if err != nil {
		writeErr(w, err, start)
		return
	}
	writeOK(w, http.StatusAccepted, "Instance starting", inst, start)
}

func (s *Server) listInstances(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	writeOK(w, http.StatusOK, "", s.pool.Instances(), start)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	inst, ok := s.pool.Instance(chi.URLParam(r, "instanceID"))
	if !ok {
		writeErr(w, types.ErrInstanceNotFound, start)
		return
	}
	writeOK(w, http.StatusOK, "", inst, start)
}

func (s *Server) destroyInstance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !s.pool.DestroyInstance(r.Context(), chi.URLParam(r, "instanceID")) {
		writeErr(w, types.ErrInstanceNotFound, start)
		return
	}
	writeOK(w, http.StatusOK, "Instance destroyed", nil, start)
}

func (s *Server) rotateInstance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "instanceID")
	if _, ok := s.pool.Instance(id); !ok {
		writeErr(w, types.ErrInstanceNotFound, start)
		return
	}
	if !s.pool.RotateFingerprint(r.Context(), id) {
		middleware.WriteError(w, http.StatusConflict, "Browser instance is not available for rotation", start)
		return
	}
	inst, _ := s.pool.Instance(id)
	writeOK(w, http.StatusOK, "Fingerprint rotated", inst, start)
}
