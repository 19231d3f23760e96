// Package httpapi exposes the scheduling engine over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	logx "skillswap/pkg/logx"
)

// RouterDeps collects what NewRouter wires together. Nil optional fields
// leave their routes unmounted.
type RouterDeps struct {
	Availability AvailabilityService
	Swaps        SwapService
	Sessions     SessionService
	Gate         AccessService

	// Optional.
	Metrics   http.Handler
	Health    func(ctx context.Context) error
	Observer  Observer
	Pprof     bool
	RateLimit RateLimitConfig
	Now       func() time.Time
	Log       logx.Logger
}

// NewRouter builds the API router.
//
// Middleware order: RequestID → request log → recover, then caller identity
// and the per-user rate limit on /api.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(log, deps.Observer))
	r.Use(recoverer(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Pprof {
		r.Mount("/debug", chimw.Profiler())
	}

	ah := &availabilityHandler{svc: deps.Availability, log: log}
	sh := &swapHandler{svc: deps.Swaps, log: log}
	seh := &sessionHandler{svc: deps.Sessions, gate: deps.Gate, log: log, now: now}

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)
		if deps.RateLimit.Rate > 0 {
			r.Use(newRateLimiter(deps.RateLimit).middleware)
		}

		r.Route("/availability", func(r chi.Router) {
			r.Put("/", ah.Update)
			r.Get("/{userID}", ah.Get)
		})

		r.Route("/swap-requests", func(r chi.Router) {
			r.Post("/", sh.Create)
			r.Post("/{id}/accept", sh.Accept)
			r.Post("/{id}/reject", sh.Reject)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", seh.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", seh.Get)
				r.Post("/cancel", seh.Cancel)
				r.Post("/slots/{index}/access", seh.Access)
			})
		})
	})

	return r
}
