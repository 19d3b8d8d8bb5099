package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hypetrain/hypetrain/internal/database"
	"github.com/hypetrain/hypetrain/internal/ingestion"
	"github.com/hypetrain/hypetrain/internal/models"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolReporter is implemented by stores backed by a connection pool.
type PoolReporter interface {
	Stats() *database.PoolStats
}

// StreamStatus exposes the stream consumer's lifecycle state.
type StreamStatus interface {
	State() ingestion.StreamState
}

// Handler serves the queue and health endpoints.
type Handler struct {
	queue     models.QueueRepository
	store     Pinger
	stream    StreamStatus
	logger    *slog.Logger
	startTime time.Time
}

func NewHandler(queue models.QueueRepository, store Pinger, stream StreamStatus, logger *slog.Logger) *Handler {
	return &Handler{
		queue:     queue,
		store:     store,
		stream:    stream,
		logger:    logger,
		startTime: time.Now(),
	}
}

// QueueResponse is the body of GET /api/queue/pending.
type QueueResponse struct {
	Entries []models.QueueEntry `json:"entries"`
	Count   int                 `json:"count"`
	Pending int                 `json:"pending"`
}

// ListPending handles GET /api/queue/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r.URL.Query(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.queue.ListPending(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list pending tweets", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	pending, err := h.queue.CountPending(r.Context())
	if err != nil {
		h.logger.Error("failed to count pending tweets", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{Entries: entries, Count: len(entries), Pending: pending}, h.logger)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Stream   string              `json:"stream"`
	Uptime   string              `json:"uptime"`
	Pool     *database.PoolStats `json:"pool,omitempty"`
}

// Health handles GET /healthz. A stopped stream or an unreachable store
// makes the process unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Database: "ok",
		Stream:   "disabled",
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check: store unreachable", "error", err)
		resp.Database = "unreachable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if pr, ok := h.store.(PoolReporter); ok {
		resp.Pool = pr.Stats()
	}

	if h.stream != nil {
		state := h.stream.State()
		resp.Stream = state.String()
		if state == ingestion.StateFatalStop || state == ingestion.StateStopped {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
