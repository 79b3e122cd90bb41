package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
	historyTimeout      = 3 * time.Second
)

// SnapshotSource returns the live state of the running session.
type SnapshotSource interface {
	Snapshot() progress.Snapshot
}

// SessionHistory reads past sessions.
type SessionHistory interface {
	GetSession(ctx context.Context, id int64) (crawler.Session, error)
	ListSessions(ctx context.Context, limit int) ([]crawler.Session, error)
}

// ProgressHandler exposes read-only progress and session history endpoints.
type ProgressHandler struct {
	live    SnapshotSource
	history SessionHistory
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the tracker, the session store and the logger.
// Either source may be nil; its endpoints then answer 503.
func NewProgressHandler(live SnapshotSource, history SessionHistory, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		live:    live,
		history: history,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// Current handles GET /v1/progress with the tracker snapshot.
func (h *ProgressHandler) Current(w http.ResponseWriter, _ *http.Request) {
	if h.live == nil {
		writeError(w, http.StatusServiceUnavailable, "no session is running")
		return
	}
	writeJSON(w, http.StatusOK, h.live.Snapshot())
}

// ListSessions handles GET /v1/sessions?limit=. It returns {"sessions": [...]},
// newest first, 400 for an invalid limit, or 500 if the store call fails.
func (h *ProgressHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	limit, err := parseLimit(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessions, err := h.history.ListSessions(ctx, limit)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": toSessionDTOs(sessions)})
}

// GetSession handles GET /v1/sessions/{session_id}: 400 for a malformed id,
// 404 when the store reports crawler.ErrNotFound.
func (h *ProgressHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	id, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, err := h.history.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("get session failed", zap.Int64("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(sess)})
}

func parseSessionID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return 0, errors.New("session_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid session_id")
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func toSessionDTOs(in []crawler.Session) []sessionDTO {
	out := make([]sessionDTO, 0, len(in))
	for _, s := range in {
		out = append(out, toSessionDTO(s))
	}
	return out
}

func toSessionDTO(s crawler.Session) sessionDTO {
	dto := sessionDTO{
		ID:           s.ID,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		ErrorsNumber: s.ErrorsNumber,
		Status:       "running",
	}
	if s.EndedAt != nil {
		dto.Status = "finished"
		dto.DurationSeconds = s.EndedAt.Sub(s.StartedAt).Seconds()
	}
	return dto
}

type sessionDTO struct {
	ID              int64      `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	ErrorsNumber    int64      `json:"errors_number"`
	Status          string     `json:"status"`
}
