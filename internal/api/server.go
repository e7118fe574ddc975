// Package api exposes the HTTP interface for the clipper service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/clipper"
	"github.com/famotime/siyuan-scripts/internal/config"
	"github.com/famotime/siyuan-scripts/internal/metrics"
)

const (
	maxURLsPerRequest = 50
	requestTimeout    = 10 * time.Minute
)

// ClipRunner is the orchestrator surface the handlers need.
type ClipRunner interface {
	RunBatch(ctx context.Context, urls []string, target clipper.Target) []clipper.Outcome
	Resubmit(ctx context.Context, artifact clipper.ImportArtifact) clipper.Outcome
}

// OutcomeReader looks up recorded outcomes.
type OutcomeReader interface {
	Get(ctx context.Context, id string) (clipper.OutcomeRecord, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the pipeline and outcome store.
type Server struct {
	router   chi.Router
	runner   ClipRunner
	outcomes OutcomeReader
	checks   map[string]ReadinessCheck
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. outcomes may be
// nil, in which case GET /v1/clips/{id} answers 404.
func NewServer(
	runner ClipRunner,
	outcomes OutcomeReader,
	checks map[string]ReadinessCheck,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		outcomes: outcomes,
		checks:   checks,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/clips", func(r chi.Router) {
			r.Post("/", s.submitClips)
			r.Post("/resubmit", s.resubmit)
			r.Get("/{run_id}", s.getClip)
		})
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
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type clipRequest struct {
	URLs     []string `json:"urls"`
	Notebook string   `json:"notebook"`
	Path     string   `json:"path"`
}

type clipResponse struct {
	Outcomes []clipper.Outcome `json:"outcomes"`
}

func (s *Server) submitClips(w http.ResponseWriter, r *http.Request) {
	var req clipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	urls, err := cleanURLs(req.URLs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := clipper.Target{
		Notebook: valueOrDefault(req.Notebook, s.cfg.Pipeline.Notebook),
		Path:     valueOrDefault(req.Path, s.cfg.Pipeline.Path),
	}
	if target.Notebook == "" {
		s.writeError(w, http.StatusBadRequest, "notebook required")
		return
	}

	outcomes := s.runner.RunBatch(r.Context(), urls, target)
	s.writeJSON(w, statusFor(outcomes), clipResponse{Outcomes: outcomes})
}

func (s *Server) resubmit(w http.ResponseWriter, r *http.Request) {
	var artifact clipper.ImportArtifact
	if err := json.NewDecoder(r.Body).Decode(&artifact); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if artifact.Target.Notebook == "" || artifact.Target.Path == "" {
		s.writeError(w, http.StatusBadRequest, "artifact target required")
		return
	}
	outcome := s.runner.Resubmit(r.Context(), artifact)
	s.writeJSON(w, statusFor([]clipper.Outcome{outcome}), clipResponse{Outcomes: []clipper.Outcome{outcome}})
}

func (s *Server) getClip(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if s.outcomes == nil {
		s.writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	record, err := s.outcomes.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, clipper.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "clip not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load clip")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// statusFor answers 200 when every URL produced a document and 207 when at
// least one failed.
func statusFor(outcomes []clipper.Outcome) int {
	for _, o := range outcomes {
		if o.Status == clipper.StatusFailed {
			return http.StatusMultiStatus
		}
	}
	return http.StatusOK
}

func cleanURLs(raw []string) ([]string, error) {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	switch {
	case len(urls) == 0:
		return nil, errors.New("urls required")
	case len(urls) > maxURLsPerRequest:
		return nil, fmt.Errorf("at most %d urls per request", maxURLsPerRequest)
	}
	return urls, nil
}

func valueOrDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
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
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
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
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				_ = writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
