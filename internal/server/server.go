// Package server assembles the HTTP routes and the middleware chain in
// front of the API handlers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/internal/api"
	"filevault/internal/auth"
	"filevault/internal/files"
	"filevault/internal/observability/logging"
	"filevault/internal/observability/metrics"
	"filevault/internal/serverutil"
	"filevault/internal/storage"
)

// Config carries everything needed to assemble and run the HTTP server.
type Config struct {
	Addr     string
	Store    storage.Repository
	Sessions *auth.SessionManager
	Files    *files.Service
	Logger   *slog.Logger
	Metrics  *metrics.Recorder

	Security  SecurityConfig
	RateLimit RateLimitConfig
	// RateLimitClient shares login counters between replicas when set;
	// otherwise counters live in process memory.
	RateLimitClient redis.UniversalClient

	TLSCertFile string
	TLSKeyFile  string

	ShutdownTimeout time.Duration
}

// Server is the assembled HTTP front end.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Recorder
	sessions  *auth.SessionManager
	store     storage.Repository
	rateLimit RateLimitConfig
	rateStore rateLimitStore
	handler   http.Handler
}

// New builds the route table and middleware chain.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "server"),
		metrics:   recorder,
		sessions:  cfg.Sessions,
		store:     cfg.Store,
		rateLimit: cfg.RateLimit.withDefaults(),
	}
	if cfg.RateLimitClient != nil {
		s.rateStore = newRedisRateLimitStore(cfg.RateLimitClient)
	} else {
		s.rateStore = newMemoryRateLimitStore()
	}

	handlers := api.NewHandler(cfg.Store, cfg.Sessions, cfg.Files, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", methodHandler(http.MethodGet, handlers.Status))
	mux.HandleFunc("/stats", methodHandler(http.MethodGet, handlers.Stats))
	mux.HandleFunc("/users", methodHandler(http.MethodPost, handlers.CreateUser))
	mux.HandleFunc("/users/me", methodHandler(http.MethodGet, handlers.CurrentUser))
	mux.HandleFunc("/connect", methodHandler(http.MethodGet, handlers.Connect))
	mux.HandleFunc("/disconnect", methodHandler(http.MethodGet, handlers.Disconnect))
	mux.HandleFunc("/files", handlers.FilesCollection)
	mux.HandleFunc("/files/", handlers.FileByID)
	mux.Handle("/metrics", recorder.Handler())

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = securityHeadersMiddleware(cfg.Security, handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler
	return s
}

// Handler exposes the fully wrapped route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	return serverutil.Run(ctx, serverutil.Config{
		Addr:            s.cfg.Addr,
		Handler:         s.handler,
		Logger:          s.logger,
		TLSCertFile:     s.cfg.TLSCertFile,
		TLSKeyFile:      s.cfg.TLSKeyFile,
		ShutdownTimeout: s.cfg.ShutdownTimeout,
	})
}

func methodHandler(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			api.WriteError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		handler(w, r)
	}
}

// authMiddleware resolves the X-Token header into a user on the request
// context. Endpoints that demand a user reject the request when none could
// be attached; the content endpoint merely degrades to anonymous access.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := api.ExtractToken(r); token != "" && r.URL.Path != "/disconnect" {
			userID, err := s.sessions.Validate(token)
			switch {
			case err == nil:
				if user, ok := s.store.GetUser(userID); ok {
					r = r.WithContext(api.ContextWithUser(r.Context(), user))
				}
			case !errors.Is(err, auth.ErrInvalidSession):
				logging.WithContext(r.Context(), s.logger).Error("validate token failed", "error", err.Error())
				api.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
		}

		if requiresAuthentication(r.URL.Path) {
			if _, ok := api.UserFromContext(r.Context()); !ok {
				api.WriteError(w, http.StatusUnauthorized, api.ErrUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requiresAuthentication(path string) bool {
	switch {
	case path == "/users/me", path == "/files":
		return true
	case strings.HasPrefix(path, "/files/"):
		// Raw content stays reachable for public documents.
		return !strings.HasSuffix(path, "/data")
	default:
		return false
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.WithContext(r.Context(), s.logger).Info("request handled",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", extractClientIP(r)),
		)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

// routeLabel collapses document identifiers so the metric label set stays
// bounded.
func routeLabel(path string) string {
	if !strings.HasPrefix(path, "/files/") {
		return path
	}
	rest := strings.Trim(strings.TrimPrefix(path, "/files/"), "/")
	segments := strings.Split(rest, "/")
	if len(segments) == 2 {
		switch segments[1] {
		case "publish", "unpublish", "data":
			return "/files/:id/" + segments[1]
		}
	}
	return "/files/:id"
}
