// Package server implements the kotoimi HTTP API: submission intake, the
// peer distribution for social mode, and the research endpoints.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/analysis"
	"github.com/kilupskalvis/kotoimi/internal/core"
	"github.com/kilupskalvis/kotoimi/internal/models"
)

// Service is the core API the handlers call into. *core.Service implements it.
type Service interface {
	Submit(ctx context.Context, req *core.SubmitRequest) (*models.Submission, error)
	MarkSawAlternatives(ctx context.Context, id string, saw bool) error
	FetchDistribution(ctx context.Context, category string) (*core.Distribution, error)
	Analyze(ctx context.Context, kind, category string) (interface{}, error)
	Stats(ctx context.Context) (*analysis.Stats, error)
	Export(ctx context.Context, w io.Writer) (int, error)
	Ping(ctx context.Context) error
}

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64    // bytes, for JSON endpoints
	RequestsPerMinute int      // per client IP, 0 disables
	ResearchToken     string   // guards /research routes when set
	AllowedOrigins    []string // CORS origins, "*" for any
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    64 * 1024, // 64KB
		RequestsPerMinute: 120,
		AllowedOrigins:    []string{"*"},
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(svc Service, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{svc: svc, cfg: cfg, logger: logger}
	rl := newRateLimiter(cfg.RequestsPerMinute)

	research := func(fn http.HandlerFunc) http.Handler {
		if cfg.ResearchToken == "" {
			return fn
		}
		return researchAuth(cfg.ResearchToken, fn)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	// Collection
	mux.HandleFunc("POST /submit", h.handleSubmit)
	mux.HandleFunc("POST /update_saw_alt_meanings", h.handleUpdateSawAlternatives)
	mux.HandleFunc("GET /fetch", h.handleFetch)

	// Research
	mux.Handle("GET /research", research(h.handleResearch))
	mux.Handle("GET /research/stats", research(h.handleStats))
	mux.Handle("GET /research/export", research(h.handleExport))

	// Apply global middleware
	handler := applyMiddleware(mux,
		requestIDMiddleware,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		securityHeadersMiddleware,
		corsMiddleware(cfg.AllowedOrigins),
		rl.middleware,
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	svc    Service
	cfg    *ServerConfig
	logger *slog.Logger
}

// --- Collection Handlers ---

func (h *handlers) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req core.SubmitRequest
	if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}

	sub, err := h.svc.Submit(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"record_id": sub.ID,
		"timestamp": sub.Timestamp.Format(time.RFC3339Nano),
	})
}

func (h *handlers) handleUpdateSawAlternatives(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecordID       string `json:"record_id"`
		SawAltMeanings bool   `json:"saw_alt_meanings"`
	}
	if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}

	if err := h.svc.MarkSawAlternatives(r.Context(), req.RecordID, req.SawAltMeanings); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) handleFetch(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.FetchDistribution(r.Context(), r.URL.Query().Get("event_tag"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- Research Handlers ---

func (h *handlers) handleResearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.Analyze(r.Context(), q.Get("type"), q.Get("event_tag"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	// Buffer so a failed export can still be reported as JSON.
	var buf bytes.Buffer
	if _, err := h.svc.Export(r.Context(), &buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("kotoimi_export_%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// --- Health Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Helpers ---

// writeError maps core errors to HTTP statuses. Unexpected errors are
// logged and reported without detail.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, core.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, core.ErrMissingParameter):
		status, code = http.StatusBadRequest, "missing_parameter"
	case errors.Is(err, analysis.ErrInvalidKind):
		status, code = http.StatusBadRequest, "invalid_type"
	case errors.Is(err, core.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	default:
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", requestID(r))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
