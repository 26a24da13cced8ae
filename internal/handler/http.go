package handler

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/domain"
	"github.com/grass-leaderboard/internal/observability"
	"github.com/grass-leaderboard/internal/websocket"
)

//go:embed templates/leaderboard.html
var templateFS embed.FS

const submitSuccessMessage = "Data received and processed"

// Ingester is the part of the ingest service the HTTP layer needs
type Ingester interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.LeaderboardEntry, error)
	Leaderboard() []domain.LeaderboardEntry
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	ingest   Ingester
	hub      *websocket.Hub
	page     *template.Template
	capacity int
	maxBody  int64
	uploads  http.Handler
	prefix   string
	checks   map[string]ReadinessCheck
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. The leaderboard page is loaded from
// cfg.TemplatePath when set, otherwise the built-in page is used.
func NewHandler(ingest Ingester, hub *websocket.Hub, cfg *config.ServerConfig, capacity int, logger *slog.Logger) (*Handler, error) {
	page, err := loadTemplate(cfg.TemplatePath)
	if err != nil {
		return nil, err
	}
	return &Handler{
		ingest:   ingest,
		hub:      hub,
		page:     page,
		capacity: capacity,
		maxBody:  cfg.MaxBodyBytes,
		checks:   make(map[string]ReadinessCheck),
		logger:   logger.With("component", "http"),
	}, nil
}

func loadTemplate(path string) (*template.Template, error) {
	funcs := template.FuncMap{
		"rank": func(i int) int { return i + 1 },
	}
	if path != "" {
		tmpl, err := template.New(filepath.Base(path)).Funcs(funcs).ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse leaderboard template: %w", err)
		}
		return tmpl, nil
	}
	return template.New("leaderboard.html").Funcs(funcs).ParseFS(templateFS, "templates/leaderboard.html")
}

// ServeUploads exposes locally stored images under prefix
func (h *Handler) ServeUploads(prefix, dir string) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	h.prefix = prefix
	h.uploads = http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
}

// AddReadinessCheck registers a dependency consulted by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Get("/", h.LeaderboardPage)
	r.Post("/receive", h.Receive)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	if h.uploads != nil {
		r.Handle(h.prefix+"*", h.uploads)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/submissions", h.Receive)
		r.Get("/leaderboard", h.GetLeaderboard)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Status: domain.StatusSuccess,
		Data:   data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, APIResponse{
		Status:  domain.StatusError,
		Message: message,
	})
}

// Receive handles a submission from the capture client
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest.Error())
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("{}")) {
		h.writeError(w, http.StatusBadRequest, "No data received")
		return
	}

	var sub domain.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		h.logger.Debug("malformed submission", "error", err)
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest.Error())
		return
	}

	entry, err := h.ingest.Submit(r.Context(), sub)
	if err != nil {
		if domain.IsClientError(err) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to process submission", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, domain.SubmitResponse{
		Status:       domain.StatusSuccess,
		Message:      submitSuccessMessage,
		EntryDetails: &entry,
	})
}

// LeaderboardPage renders the current ranking as HTML
func (h *Handler) LeaderboardPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Capacity int
		Entries  []domain.LeaderboardEntry
	}{
		Capacity: h.capacity,
		Entries:  h.ingest.Leaderboard(),
	}

	var buf bytes.Buffer
	if err := h.page.Execute(&buf, data); err != nil {
		h.logger.Error("failed to render leaderboard", "error", err)
		http.Error(w, "failed to render leaderboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// GetLeaderboard returns the current ranking as JSON
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.ingest.Leaderboard())
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Status:  domain.StatusError,
			Message: "not ready",
			Data:    failed,
		})
		return
	}

	h.writeSuccess(w, map[string]string{"status": "ready"})
}
