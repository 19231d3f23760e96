package httpapi

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	logx "skillswap/pkg/logx"
)

// UserHeader carries the caller identity set by the auth proxy.
const UserHeader = "X-User-ID"

type contextKey string

var userIDContextKey = contextKey("user_id")

var errNoUser = errors.New("no user in context")

// UserIDFromContext returns the authenticated caller.
func UserIDFromContext(ctx context.Context) (string, error) {
	v, ok := ctx.Value(userIDContextKey).(string)
	if !ok || v == "" {
		return "", errNoUser
	}
	return v, nil
}

// requireUser rejects requests without a caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(UserHeader))
		if uid == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "", "missing "+UserHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Observer receives one call per finished request.
type Observer interface {
	ObserveHTTP(route, method string, status int, d time.Duration)
}

func requestLogger(log logx.Logger, obs Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			d := time.Since(start)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			if obs != nil {
				obs.ObserveHTTP(route, r.Method, status, d)
			}

			fields := []logx.Field{
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.Duration("dur", d),
				logx.String("req_id", chimw.GetReqID(r.Context())),
			}
			if uid, err := UserIDFromContext(r.Context()); err == nil {
				fields = append(fields, logx.String("user", uid))
			}
			switch {
			case status >= 500:
				log.Error("http request", fields...)
			case status >= 400:
				log.Warn("http request", fields...)
			default:
				log.Debug("http request", fields...)
			}
		})
	}
}

func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("http handler panic",
						logx.String("path", r.URL.Path),
						logx.Any("panic", rec),
						logx.Stack(string(debug.Stack())),
					)
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitConfig bounds per-user request rates. A zero Rate disables it.
type RateLimitConfig struct {
	Rate  float64
	Burst int
	Idle  time.Duration
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter keeps one token bucket per caller.
type rateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*userLimiter
	ops      int
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 10 * time.Minute
	}
	return &rateLimiter{cfg: cfg, limiters: make(map[string]*userLimiter)}
}

func (rl *rateLimiter) allow(userID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.Rate), rl.cfg.Burst)}
		rl.limiters[userID] = ul
	}
	ul.lastAccess = now
	rl.ops++
	if rl.ops%1000 == 0 {
		for k, v := range rl.limiters {
			if now.Sub(v.lastAccess) > rl.cfg.Idle {
				delete(rl.limiters, k)
			}
		}
	}
	return ul.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromContext(r.Context())
		if !rl.allow(uid, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
