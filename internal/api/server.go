package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/config"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
)

// Gate admits each request id at most once.
type Gate interface {
	Admit(id string) bool
}

// Limiter is the per-address ingestion cooldown.
type Limiter interface {
	Allow(key string, now time.Time) bool
}

// Submitter hands an admitted submission to the background pipeline without
// blocking.
type Submitter interface {
	Submit(item beacon.QueueItem) error
}

// RequestIDs builds fallback request ids for clients that send none.
type RequestIDs interface {
	RequestID(address string, now time.Time) string
}

// Server wires HTTP handlers to the pipeline and the record store.
type Server struct {
	router    chi.Router
	store     beacon.RecordStore
	gate      Gate
	limiter   Limiter
	submitter Submitter
	ids       RequestIDs
	clock     beacon.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store beacon.RecordStore,
	gate Gate,
	limiter Limiter,
	submitter Submitter,
	ids RequestIDs,
	clock beacon.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		gate:      gate,
		limiter:   limiter,
		submitter: submitter,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(telemetry.Middleware)
	r.Use(s.loggingMiddleware)
	origins := allowedOrigins(cfg.Server.AllowedOrigins)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/analytics", func(r chi.Router) {
		r.Post("/log-ip", s.logVisit)
		r.With(s.recoverMiddleware).Get("/ip-logs", s.listVisits)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.notFound(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
}
