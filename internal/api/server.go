// Package api exposes the HTTP status interface of the lead crawler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/checkpoint"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/metrics"
)

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the checkpoint backend.
type Server struct {
	router  chi.Router
	backend checkpoint.Backend
	ids     crawler.IDGenerator
	ready   ReadyFunc
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(backend checkpoint.Backend, ids crawler.IDGenerator, ready ReadyFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		ids:     ids,
		ready:   ready,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{run_id}/checkpoint", s.getCheckpoint)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runsResponse struct {
	Runs []string `json:"runs"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.backend.(checkpoint.Lister)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, "checkpoint backend cannot list runs")
		return
	}
	keys, err := lister.Keys(r.Context())
	if err != nil {
		s.logger.Warn("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "runs unavailable")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, runsResponse{Runs: keys})
}

type checkpointResponse struct {
	RunID              string `json:"run_id"`
	LastCompletedIndex int    `json:"last_completed_index"`
	Leads              int    `json:"leads"`
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	cp, err := checkpoint.Read(r.Context(), s.backend, runID)
	switch {
	case err != nil && errors.Is(err, crawler.ErrCheckpointIO):
		s.logger.Warn("checkpoint read failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "checkpoint unreadable")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	case cp == nil:
		s.writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	s.writeJSON(w, http.StatusOK, checkpointResponse{
		RunID:              runID,
		LastCompletedIndex: cp.LastCompletedIndex,
		Leads:              len(cp.Leads),
	})
}

type requestIDKey struct{}

// RequestID returns the request id stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" && s.ids != nil {
			if id, err := s.ids.NewID(); err == nil {
				reqID = id
			}
		}
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
			zap.String("request_id", RequestID(r.Context())),
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
