// Package middleware provides HTTP middleware for the admin API.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/metrics"
)

// Recovery converts a handler panic into a 500 envelope and counts it
// against the matched route. http.ErrAbortHandler is passed through so the
// server can drop the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			route := routeLabel(r)
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("method", r.Method).
				Str("route", route).
				Str("client", maskIP(r.RemoteAddr)).
				Msg("Handler panic recovered")
			metrics.RecordPanic(route)

			WriteError(w, http.StatusInternalServerError, "Internal server error", startTime)
		}()
		next.ServeHTTP(w, r)
	})
}
