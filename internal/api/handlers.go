package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/internal/history"
	"github.com/shehryarbajwa/watchparty/internal/session"
	"github.com/shehryarbajwa/watchparty/pkg/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	maxBodyBytes        = 1 << 20
)

// Queue is the playback queue as seen by the command layer.
type Queue interface {
	Enqueue(dest models.Destination, url string) models.PlaybackRequest
	Pending() []models.PlaybackRequest
	Skip(ctx context.Context, dest models.Destination) error
	Stop(ctx context.Context) error
}

// SessionStatus reports the shared browser state.
type SessionStatus interface {
	Status() models.SessionStatus
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	queue   Queue
	history history.Store
	session SessionStatus
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler. store may be nil.
func NewHandler(queue Queue, store history.Store, session SessionStatus, logger *zap.Logger) *Handler {
	return &Handler{
		queue:   queue,
		history: store,
		session: session,
		logger:  logger.Named("api"),
	}
}

// EnqueuePlayback handles POST /v1/playback
func (h *Handler) EnqueuePlayback(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.Destination.ServerID == "" || req.Destination.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "destination.serverId and destination.channelId are required")
		return
	}

	queued := h.queue.Enqueue(req.Destination, req.URL)
	writeJSON(w, http.StatusAccepted, queued)
}

// ListQueue handles GET /v1/playback/queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	pending := h.queue.Pending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	})
}

// SkipPlayback handles POST /v1/playback/skip
func (h *Handler) SkipPlayback(w http.ResponseWriter, r *http.Request) {
	var dest models.Destination
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &dest); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	h.writeControlResult(w, h.queue.Skip(r.Context(), dest))
}

// StopPlayback handles POST /v1/playback/stop
func (h *Handler) StopPlayback(w http.ResponseWriter, r *http.Request) {
	h.writeControlResult(w, h.queue.Stop(r.Context()))
}

func (h *Handler) writeControlResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		h.logger.Warn("playback control failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ListHistory handles GET /v1/playback/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries := []models.HistoryEntry{}
	if h.history != nil {
		recent, err := h.history.Recent(r.Context(), limit)
		if err != nil {
			h.logger.Warn("failed to read playback history", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read playback history")
			return
		}
		entries = append(entries, recent...)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetSession handles GET /v1/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
