// Package handler exposes the moderation pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/api/validator"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/aicache"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/rulecache"
	apperrors "github.com/Significant-Gravitas/AutoModerate/pkg/errors"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
)

const projectIDHeader = "X-Project-ID"

// Moderator runs one submission through the pipeline.
type Moderator interface {
	Moderate(ctx context.Context, sub moderation.Submission) (*moderation.Response, error)
}

// Handler serves the moderation API.
type Handler struct {
	moderator   Moderator
	repo        moderation.Repository
	ruleCache   *rulecache.Cache
	resultCache aicache.Cache
	logger      *slog.Logger
}

// New creates a Handler. ruleCache and resultCache may be nil when the
// cache admin endpoints are not wanted.
func New(m Moderator, repo moderation.Repository, ruleCache *rulecache.Cache, resultCache aicache.Cache) *Handler {
	return &Handler{
		moderator:   m,
		repo:        repo,
		ruleCache:   ruleCache,
		resultCache: resultCache,
		logger:      slog.Default().With("component", "api-handler"),
	}
}

type moderateRequest struct {
	ProjectID string            `json:"project_id,omitempty"`
	Type      string            `json:"type,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Moderate handles POST /api/v1/moderate. The project id comes from the
// X-Project-ID header, with the body field as a fallback for clients that
// cannot set headers.
func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req moderateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, validator.MaxContentBytes*2)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	projectID := r.Header.Get(projectIDHeader)
	if projectID == "" {
		projectID = req.ProjectID
	}

	sub := moderation.Submission{
		ProjectID: projectID,
		Type:      moderation.ContentType(req.Type),
		Content:   req.Content,
		Metadata:  req.Metadata,
	}
	if err := validator.ValidateSubmission(&sub); err != nil {
		h.writeAppError(w, err)
		return
	}

	resp, err := h.moderator.Moderate(ctx, sub)
	if err != nil {
		log.Error("moderation failed",
			"project_id", projectID,
			"error", err)
		h.writeAppError(w, err)
		return
	}

	log.Info("moderation request served",
		"project_id", projectID,
		"content_id", resp.ContentID,
		"status", resp.Status,
		"latency_ms", time.Since(start).Milliseconds())
	h.writeJSON(w, http.StatusOK, resp)
}

// Content handles GET /api/v1/content/{id}: the item plus its audit trail.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "content id is required")
		return
	}

	item, outcomes, err := h.repo.ContentItem(r.Context(), id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrContentNotFound) {
			h.logger.Error("content lookup failed", "content_id", id, "error", err)
		}
		h.writeAppError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"content":  item,
		"outcomes": outcomes,
	})
}

// ProjectStats handles GET /api/v1/projects/{id}/stats.
func (h *Handler) ProjectStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "project id is required")
		return
	}

	stats, err := h.repo.ProjectStats(r.Context(), id)
	if err != nil {
		h.logger.Error("stats query failed", "project_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// InvalidateRules handles POST /api/v1/projects/{id}/cache/invalidate,
// dropping the project's cached rule set so edits take effect immediately.
func (h *Handler) InvalidateRules(w http.ResponseWriter, r *http.Request) {
	if h.ruleCache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "rule caching is disabled")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "project id is required")
		return
	}
	h.ruleCache.Invalidate(id)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "project_id": id})
}

// InvalidateResults handles POST /api/v1/cache/results/invalidate, dropping
// every cached AI verdict. Needed after bulk rule edits: verdict keys hash
// the rule id and content, so per-key invalidation cannot reach them.
func (h *Handler) InvalidateResults(w http.ResponseWriter, r *http.Request) {
	if h.resultCache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "result caching is disabled")
		return
	}
	if err := h.resultCache.Flush(r.Context()); err != nil {
		h.logger.Error("result cache flush failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "result cache flush failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// CacheStats handles GET /api/v1/cache/stats for both caches.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	body := make(map[string]any, 2)

	if h.ruleCache != nil {
		s := h.ruleCache.Stats()
		body["rules"] = map[string]any{
			"hits":     s.Hits,
			"misses":   s.Misses,
			"projects": s.Projects,
			"hit_rate": hitRate(s.Hits, s.Misses),
		}
	}
	if h.resultCache != nil {
		hits, misses := h.resultCache.Stats()
		body["ai_results"] = map[string]any{
			"hits":     hits,
			"misses":   misses,
			"hit_rate": hitRate(hits, misses),
		}
	}
	h.writeJSON(w, http.StatusOK, body)
}

func hitRate(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(hits)/float64(total)*100)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps a pipeline error onto its HTTP status, hiding internal
// detail for 5xx responses.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeError(w, status, message)
}
