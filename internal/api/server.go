// Package api serves the trace collection over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unklstewy/ads-trace/internal/auth"
	"github.com/unklstewy/ads-trace/pkg/collector"
	"github.com/unklstewy/ads-trace/pkg/trace"
)

// TraceStore is the part of *collector.Collector the server uses.
type TraceStore interface {
	Get(ctx context.Context, id string) ([]trace.Point, bool, error)
	Destroy(ctx context.Context, id string) error
	Clean(ctx context.Context, now float64) error
	Stats(ctx context.Context) (collector.Snapshot, error)
}

// Options configures a Server. Only Traces is required.
type Options struct {
	Traces TraceStore

	// Auth guards DELETE and clean requests when set
	Auth *auth.Service

	// Gatherer backs /metrics; defaults to prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// Health reports database health for /healthz; nil means no database
	Health func(ctx context.Context) bool

	// DBStats adds database counters to /stats
	DBStats func(ctx context.Context) (map[string]interface{}, error)

	Logger *slog.Logger

	// Now supplies the reference time for clean requests
	Now func() time.Time
}

// Server holds the HTTP router and its dependencies
type Server struct {
	router *chi.Mux
	opts   Options
	logger *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		logger: opts.Logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Browser front ends poll traces from another origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Post("/auth/token", s.handleLogin)
		r.Get("/stats", s.handleStats)
		r.Get("/traces/{hex}", s.handleGetTrace)

		r.Group(func(r chi.Router) {
			r.Use(s.operatorOnly)

			r.Delete("/traces/{hex}", s.handleDestroyTrace)
			r.Post("/traces/clean", s.handleClean)
		})
	})
}

// operatorOnly rejects requests without an operator bearer token.
// It passes everything through when auth is not configured.
func (s *Server) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.opts.Auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		if !auth.CanModifyTraces(claims.Role) {
			http.Error(w, "Insufficient role", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.opts.Auth == nil {
		http.Error(w, "Authentication is not enabled", http.StatusNotFound)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := s.opts.Auth.Login(req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	hex := normalizeHex(chi.URLParam(r, "hex"))

	points, ok, err := s.opts.Traces.Get(r.Context(), hex)
	if err != nil {
		s.unavailable(w, "get trace", err)
		return
	}
	if !ok {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, collector.TraceReply{ID: hex, Points: points})
}

func (s *Server) handleDestroyTrace(w http.ResponseWriter, r *http.Request) {
	hex := normalizeHex(chi.URLParam(r, "hex"))

	if err := s.opts.Traces.Destroy(r.Context(), hex); err != nil {
		s.unavailable(w, "destroy trace", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	now := float64(s.opts.Now().UnixNano()) / 1e9

	if err := s.opts.Traces.Clean(r.Context(), now); err != nil {
		s.unavailable(w, "clean traces", err)
		return
	}
	// Stats is queued behind Clean, so it reflects the eviction.
	snap, err := s.opts.Traces.Stats(r.Context())
	if err != nil {
		s.unavailable(w, "stats", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type statsResponse struct {
	collector.Snapshot
	Database map[string]interface{} `json:"database,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Traces.Stats(r.Context())
	if err != nil {
		s.unavailable(w, "stats", err)
		return
	}

	resp := statsResponse{Snapshot: snap}
	if s.opts.DBStats != nil {
		dbStats, err := s.opts.DBStats(r.Context())
		if err != nil {
			s.logger.Warn("database stats failed", "error", err)
		} else {
			resp.Database = dbStats
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if s.opts.Health != nil {
		if s.opts.Health(r.Context()) {
			status["database"] = "ok"
		} else {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, status)
}

// unavailable reports a collector that did not answer before the request ended.
func (s *Server) unavailable(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("collector request failed", "op", op, "error", err)
	http.Error(w, "Collector unavailable", http.StatusServiceUnavailable)
}

func normalizeHex(hex string) string {
	return strings.ToLower(strings.TrimSpace(hex))
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
