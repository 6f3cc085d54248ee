// Package web provides the HTTP API of the ingestion service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/salesingest/internal/blob"
	"github.com/JonMunkholm/salesingest/internal/config"
	"github.com/JonMunkholm/salesingest/internal/core"
	"github.com/JonMunkholm/salesingest/internal/metrics"
	"github.com/JonMunkholm/salesingest/internal/web/middleware"
)

// Options are the collaborators of the Server. Gatherer, HTTPMetrics and
// Workers are optional.
type Options struct {
	Config      *config.Config
	Service     *core.Service
	Blobs       blob.Store
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTP
	Workers     func() core.LimiterStatus
}

// Server is the HTTP server of the ingestion service.
type Server struct {
	cfg      *config.Config
	service  *core.Service
	blobs    blob.Store
	gatherer prometheus.Gatherer
	httpm    *metrics.HTTP
	workers  func() core.LimiterStatus
	now      func() time.Time

	router  *chi.Mux
	server  *http.Server
	limiter *rateLimiter
	uploads *rateLimiter
	done    chan struct{}
	once    sync.Once
}

// NewServer creates a new Server instance.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		service:  opts.Service,
		blobs:    opts.Blobs,
		gatherer: opts.Gatherer,
		httpm:    opts.HTTPMetrics,
		workers:  opts.Workers,
		now:      time.Now,
		router:   chi.NewRouter(),
		done:     make(chan struct{}),
	}
	if s.cfg.Rate.Enabled {
		s.limiter = newRateLimiter(s.cfg.Rate.RequestsPerMinute)
		s.uploads = newRateLimiter(s.cfg.Rate.UploadLimit)
		go s.limiter.cleanup(s.done)
		go s.uploads.cleanup(s.done)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.httpm != nil {
		s.router.Use(s.httpm.Middleware)
	}
	s.router.Use(chimw.Compress(5))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(securityHeaders)
	if s.limiter != nil {
		s.router.Use(s.limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Format catalog
		r.Get("/formats", s.handleListFormats)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireIdentity)

			// Uploads
			r.Group(func(r chi.Router) {
				if s.uploads != nil {
					r.Use(s.uploads.middleware)
				}
				r.Post("/batches", s.handleSubmit)
				r.Post("/batches/preview", s.handlePreview)
			})

			// Batch lifecycle
			r.Get("/batches/{batchID}", s.handleGetBatch)
			r.Get("/batches/{batchID}/errors", s.handleGetErrors)
			r.Post("/batches/{batchID}/approve", s.transition(s.service.Approve))
			r.Post("/batches/{batchID}/retry", s.transition(s.service.Retry))
			r.Post("/batches/{batchID}/revalidate", s.transition(s.service.Revalidate))
			r.Delete("/batches/{batchID}", s.handleDelete)

			// Product mappings
			r.Post("/mappings", s.handleConfirmMapping)
			r.Get("/mappings/suggest", s.handleSuggestMappings)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows perMinute requests per client, all of them in a burst.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     3 * time.Minute,
	}
}

// cleanup drops visitors idle for longer than rl.idle until done is closed.
func (rl *rateLimiter) cleanup(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if now.Sub(v.lastSeen) > rl.idle {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// middleware returns an HTTP middleware that rate limits by client address.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", "60")
			writeJSONStatus(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests",
				Action:  "Please wait a moment and try again",
				Code:    "RATE001",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port RemoteAddr carries for direct connections.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON encodes v as JSON with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON. Encoding errors are only logged since
// headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode", "error", err)
	}
}
