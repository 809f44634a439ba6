// Package api exposes the browser farm over an HTTP admin interface used by
// node agents, job dispatchers and operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/middleware"
	"github.com/Rorqualx/browserfarm/internal/pool"
	"github.com/Rorqualx/browserfarm/internal/types"
	"github.com/Rorqualx/browserfarm/pkg/version"
)

const (
	maxBodySize           = 1 << 20 // 1MB
	adminRequestTimeout   = 30 * time.Second
	browserRequestTimeout = 6 * time.Minute // covers MaxWaitMs plus an instance startup
	defaultDrainTimeout   = 30 * time.Second
)

// Server wires the admin routes to a pool manager.
type Server struct {
	router       chi.Router
	pool         *pool.Manager
	drainTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithDrainTimeout bounds how long drain and unregister requests wait for
// busy instances when the caller does not pass timeoutMs.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// NewServer builds the router with middleware and routes.
func NewServer(mgr *pool.Manager, opts ...Option) *Server {
	s := &Server{
		pool:         mgr,
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Timeout(browserRequestTimeout)).Post("/browsers", s.requestBrowser)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(adminRequestTimeout))

			r.Post("/browsers/{instanceID}/release", s.releaseBrowser)

			r.Get("/stats", s.stats)

			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", s.listNodes)
				r.Post("/", s.registerNode)
				r.Route("/{nodeID}", func(r chi.Router) {
					r.Get("/", s.getNode)
					r.Delete("/", s.unregisterNode)
					r.Post("/heartbeat", s.heartbeat)
					r.Post("/drain", s.drainNode)
					r.Put("/status", s.setNodeStatus)
				})
			})

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", s.listInstances)
				r.Post("/", s.createInstance)
				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/", s.getInstance)
					r.Delete("/", s.destroyInstance)
					r.Post("/rotate", s.rotateInstance)
				})
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listJobs)
				r.Delete("/{jobID}", s.cancelJob)
			})

			r.Route("/scaling", func(r chi.Router) {
				r.Post("/evaluate", s.evaluateScaling)
				r.Post("/execute", s.executeScaling)
			})

			r.Get("/config", s.getConfig)
			r.Put("/config", s.updateConfig)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	stats := s.pool.Stats()
	writeOK(w, http.StatusOK, "browserfarm is ready", map[string]int{
		"onlineNodes":    stats.OnlineNodes,
		"totalInstances": stats.TotalInstances,
		"queueDepth":     stats.QueueDepth,
	}, start)
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, "Not found", time.Now())
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", time.Now())
}

// decode reads a JSON body into dst. An empty body leaves dst untouched when
// allowEmpty is set. It writes the error response itself and reports whether
// the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool, start time.Time) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer(&requestBufferPool, requestBufferSize)
	defer putBuffer(&requestBufferPool, buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request", start)
		return false
	}
	if buf.Len() == 0 {
		if allowEmpty {
			return true
		}
		middleware.WriteError(w, http.StatusBadRequest, "Request body is required", start)
		return false
	}

	dec := json.NewDecoder(buf)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		log.Debug().Err(err).Msg("Failed to decode request")
		middleware.WriteError(w, http.StatusBadRequest, "Invalid JSON request: "+err.Error(), start)
		return false
	}
	return true
}

// writeOK encodes the success envelope before writing so an encoding failure
// never leaves a partial response.
func writeOK(w http.ResponseWriter, statusCode int, message string, data any, start time.Time) {
	buf := getBuffer(&responseBufferPool, responseBufferSize)
	defer putBuffer(&responseBufferPool, buf)

	resp := types.Response{
		Status:    types.ResponseOK,
		Message:   message,
		StartTime: start.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		Data:      data,
	}
	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		middleware.WriteError(w, http.StatusInternalServerError, "internal encoding error", start)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeErr maps a pool error to its HTTP status.
func writeErr(w http.ResponseWriter, err error, start time.Time) {
	middleware.WriteError(w, statusFor(err), err.Error(), start)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrNodeNotFound),
		errors.Is(err, types.ErrInstanceNotFound),
		errors.Is(err, types.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidNode),
		errors.Is(err, types.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNodeExists),
		errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrNodeUnavailable),
		errors.Is(err, types.ErrNodeAtCapacity),
		errors.Is(err, types.ErrPoolAtCapacity),
		errors.Is(err, types.ErrScalingInProgress),
		errors.Is(err, types.ErrScalingCooldown):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// waitBudget returns the timeoutMs query parameter or fallback.
func waitBudget(r *http.Request, fallback time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("timeoutMs")
	if raw == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 || ms > types.MaxTimeoutMs {
		return 0, errors.New("timeoutMs must be a positive integer no larger than 600000")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
