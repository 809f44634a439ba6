package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/middleware"
	"github.com/Rorqualx/browserfarm/internal/types"
)

func (s *Server) listNodes(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	writeOK(w, http.StatusOK, "", s.pool.Nodes(), start)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	node, ok := s.pool.Node(chi.URLParam(r, "nodeID"))
	if !ok {
		writeErr(w, types.ErrNodeNotFound, start)
		return
	}
	writeOK(w, http.StatusOK, "", node, start)
}

func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.RegisterNodeRequest
	if !decode(w, r, &req, false, start) {
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	if err := s.pool.RegisterNode(req.Node()); err != nil {
		writeErr(w, err, start)
		return
	}
	node, _ := s.pool.Node(req.ID)
	writeOK(w, http.StatusCreated, "Node registered", node, start)
}

func (s *Server) unregisterNode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	budget, err := waitBudget(r, s.drainTimeout)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()

	if !s.pool.UnregisterNode(ctx, chi.URLParam(r, "nodeID")) {
		writeErr(w, types.ErrNodeNotFound, start)
		return
	}
	writeOK(w, http.StatusOK, "Node unregistered", nil, start)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "nodeID")
	var req types.HeartbeatRequest
	if !decode(w, r, &req, false, start) {
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	if !s.pool.UpdateHeartbeat(id, req.Resources, req.NodeHealth()) {
		writeErr(w, types.ErrNodeNotFound, start)
		return
	}
	node, _ := s.pool.Node(id)
	writeOK(w, http.StatusOK, "", node, start)
}

// drainNode blocks until the node's instances are released or the budget
// ends. A drain that times out leaves the node draining and reports 504.
func (s *Server) drainNode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "nodeID")
	budget, err := waitBudget(r, s.drainTimeout)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	if _, ok := s.pool.Node(id); !ok {
		writeErr(w, types.ErrNodeNotFound, start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()
	if !s.pool.DrainNode(ctx, id) {
		if ctx.Err() != nil {
			log.Warn().Str("node_id", id).Dur("budget", budget).Msg("Drain did not finish in time")
			middleware.WriteError(w, http.StatusGatewayTimeout, "Drain did not finish before timeout", start)
			return
		}
		writeErr(w, types.ErrNodeNotFound, start)
		return
	}
	node, _ := s.pool.Node(id)
	writeOK(w, http.StatusOK, "Node drained", node, start)
}

func (s *Server) setNodeStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "nodeID")
	var req types.NodeStatusRequest
	if !decode(w, r, &req, false, start) {
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error(), start)
		return
	}
	if err := s.pool.SetNodeStatus(id, req.Status); err != nil {
		writeErr(w, err, start)
		return
	}
	node, _ := s.pool.Node(id)
	writeOK(w, http.StatusOK, "", node, start)
}
