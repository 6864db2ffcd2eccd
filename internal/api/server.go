// Package api exposes the HTTP interface for the enrichment service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/enrich"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/flags"
	"github.com/SyN415/local-marketplace-lister-sub003/internal/metrics"
)

// Server wires HTTP handlers to the scheduler and its collaborators.
type Server struct {
	router    chi.Router
	scheduler *enrich.Scheduler
	checker   *enrich.PriceChecker
	cache     *enrich.ResultCache
	flags     *flags.Store
	ready     func(ctx context.Context) error
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The ready probe
// is optional; when nil the service reports ready unconditionally.
func NewServer(
	scheduler *enrich.Scheduler,
	checker *enrich.PriceChecker,
	cache *enrich.ResultCache,
	flagStore *flags.Store,
	ready func(ctx context.Context) error,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: scheduler,
		checker:   checker,
		cache:     cache,
		flags:     flagStore,
		ready:     ready,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/matches", s.submitMatch)
		r.Get("/price-check", s.priceCheck)
		r.Get("/status", s.status)
		r.Get("/flags", s.getFlags)
		r.Put("/flags", s.putFlags)
		r.Delete("/cache", s.clearCache)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(s.logger, w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	Enqueued     bool   `json:"enqueued"`
	Reason       string `json:"reason"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func (s *Server) submitMatch(w http.ResponseWriter, r *http.Request) {
	var m enrich.Match
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if m.ID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "match id is required")
		return
	}

	out := s.scheduler.Submit(r.Context(), m)
	status := http.StatusOK
	if out.Enqueued {
		status = http.StatusAccepted
	}
	writeJSON(s.logger, w, status, submitResponse{
		Enqueued:     out.Enqueued,
		Reason:       out.Reason,
		RetryAfterMs: out.RetryAfter.Milliseconds(),
	})
}

type priceCheckResponse struct {
	Query  string                   `json:"query"`
	Stats  enrich.PriceStats        `json:"stats"`
	Prices []enrich.CompetitorPrice `json:"prices,omitempty"`
	Stale  bool                     `json:"stale"`
}

func (s *Server) priceCheck(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	result, stale, err := s.checker.Check(r.Context(), query)
	switch {
	case errors.Is(err, enrich.ErrNoQuery):
		writeError(s.logger, w, http.StatusBadRequest, "query parameter q is required")
		return
	case errors.Is(err, enrich.ErrBreakerOpen):
		writeError(s.logger, w, http.StatusServiceUnavailable, "upstream circuit open")
		return
	case errors.Is(err, enrich.ErrNoComps):
		writeError(s.logger, w, http.StatusNotFound, "no comparable prices found")
		return
	case err != nil:
		writeError(s.logger, w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(s.logger, w, http.StatusOK, priceCheckResponse{
		Query:  result.Query,
		Stats:  result.Stats,
		Prices: result.Prices,
		Stale:  stale,
	})
}

type statusResponse struct {
	BreakerState string `json:"breaker_state"`
	QueueDepth   int    `json:"queue_depth"`
	ActiveCount  int    `json:"active_count"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, statusResponse{
		BreakerState: s.scheduler.BreakerState(),
		QueueDepth:   s.scheduler.QueueDepth(),
		ActiveCount:  s.scheduler.ActiveCount(),
	})
}

func (s *Server) getFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, s.flags.Current(r.Context()))
}

func (s *Server) putFlags(w http.ResponseWriter, r *http.Request) {
	var f enrich.Flags
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if f.SampleRate < 0 || f.SampleRate > 1 {
		writeError(s.logger, w, http.StatusBadRequest, "sample_rate must be in [0, 1]")
		return
	}
	if err := s.flags.Update(r.Context(), f); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, f)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := s.cache.ClearAll(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]int{"removed": removed})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
