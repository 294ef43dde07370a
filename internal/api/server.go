// Package api exposes the HTTP interface for the catalog crawler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/metrics"
	"github.com/bling0390/vivbliss/internal/schedule"
)

// Server wires HTTP handlers to the scheduler.
type Server struct {
	router    chi.Router
	scheduler *schedule.Scheduler
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scheduler *schedule.Scheduler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: scheduler,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Get("/progress", s.getProgress)
		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", s.getScheduler)
			r.Post("/enable", s.enableScheduler)
			r.Post("/disable", s.disableScheduler)
		})
		r.Post("/directories/close", s.closeDirectory)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Stats())
}

// getProgress returns all directories, or a single one when the `path`
// query parameter is present.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	if path := r.URL.Query().Get("path"); path != "" {
		progress, ok := s.scheduler.Progress(path)
		if !ok {
			writeError(w, http.StatusNotFound, "directory not found")
			return
		}
		writeJSON(w, http.StatusOK, progress)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"directories": s.scheduler.ProgressReport(),
	})
}

func (s *Server) getScheduler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"priority_enabled": s.scheduler.Enabled(),
	})
}

func (s *Server) enableScheduler(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Enable()
	writeJSON(w, http.StatusOK, map[string]any{"priority_enabled": true})
}

func (s *Server) disableScheduler(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Disable()
	writeJSON(w, http.StatusOK, map[string]any{"priority_enabled": false})
}

type closeDirectoryRequest struct {
	Path string `json:"path"`
}

func (s *Server) closeDirectory(w http.ResponseWriter, r *http.Request) {
	var req closeDirectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "missing directory path")
		return
	}
	closed := s.scheduler.CloseDirectory(req.Path)
	if !closed {
		writeError(w, http.StatusConflict, "directory not closable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "status": "completed"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
