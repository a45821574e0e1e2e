package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/tiktok-product-scout/internal/database"
	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/queue"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ProductStore is the read side of the product repository plus manual
// tracking.
type ProductStore interface {
	LatestCandidates(ctx context.Context, limit int) ([]models.Candidate, error)
	Candidate(ctx context.Context, id int64) (*models.Candidate, error)
	ScoreDetails(ctx context.Context, candidateID int64) ([]models.ScoreDetail, error)
	SetTrack(ctx context.Context, productID string, track bool) error
	Stats(ctx context.Context) (*database.Stats, error)
}

type Scheduler interface {
	BuildQueue(ctx context.Context, budget int, policy queue.FreshnessPolicy) (int, error)
	Pending(ctx context.Context, limit int) ([]queue.Entry, error)
	Consume(ctx context.Context, id int64, outcome queue.Outcome) (*queue.Entry, error)
}

// OutboxMonitor reports the relay backlog for the health check.
type OutboxMonitor interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

// QueueDefaults are used when a rebuild request omits a value.
type QueueDefaults struct {
	Budget            int
	DetailRefreshDays int
}

type Handlers struct {
	products  ProductStore
	scheduler Scheduler
	outbox    OutboxMonitor
	defaults  QueueDefaults
	logger    *slog.Logger
}

func NewHandlers(products ProductStore, scheduler Scheduler, outbox OutboxMonitor, defaults QueueDefaults, logger *slog.Logger) *Handlers {
	return &Handlers{
		products:  products,
		scheduler: scheduler,
		outbox:    outbox,
		defaults:  defaults,
		logger:    logger.With("component", "api"),
	}
}

// Health reports outbox backlog. A large dead-letter count marks the
// service unavailable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pendingCount, err := h.outbox.GetPendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending outbox events", "error", err)
		}
		deadLetterCount, err := h.outbox.GetDeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// ListCandidates returns the latest candidate of each product, best first.
func (h *Handlers) ListCandidates(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	candidates, err := h.products.LatestCandidates(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list candidates", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list candidates")
		return
	}
	if candidates == nil {
		candidates = []models.Candidate{}
	}

	h.respondJSON(w, http.StatusOK, candidates)
}

func (h *Handlers) GetCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "candidateID")
	if !ok {
		return
	}

	c, err := h.products.Candidate(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get candidate", "candidate_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get candidate")
		return
	}
	if c == nil {
		h.respondError(w, http.StatusNotFound, "candidate not found")
		return
	}

	h.respondJSON(w, http.StatusOK, c)
}

// GetScoreDetails returns the scoring audit trail of a candidate.
func (h *Handlers) GetScoreDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "candidateID")
	if !ok {
		return
	}

	details, err := h.products.ScoreDetails(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get score details", "candidate_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get score details")
		return
	}
	if len(details) == 0 {
		h.respondError(w, http.StatusNotFound, "candidate not found")
		return
	}

	h.respondJSON(w, http.StatusOK, details)
}

func (h *Handlers) TrackProduct(w http.ResponseWriter, r *http.Request) {
	h.setTrack(w, r, true)
}

func (h *Handlers) UntrackProduct(w http.ResponseWriter, r *http.Request) {
	h.setTrack(w, r, false)
}

func (h *Handlers) setTrack(w http.ResponseWriter, r *http.Request, track bool) {
	productID := chi.URLParam(r, "productID")
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "product ID is required")
		return
	}

	err := h.products.SetTrack(r.Context(), productID, track)
	if errors.Is(err, database.ErrProductNotFound) {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to update tracking", "product_id", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update tracking")
		return
	}

	h.logger.Info("tracking updated", "product_id", productID, "tracked", track)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"tracked":    track,
	})
}

// RebuildQueueRequest overrides the configured queue parameters.
type RebuildQueueRequest struct {
	Budget            *int `json:"budget"`
	DetailRefreshDays *int `json:"detail_refresh_days"`
}

func (h *Handlers) RebuildQueue(w http.ResponseWriter, r *http.Request) {
	var req RebuildQueueRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	budget := h.defaults.Budget
	if req.Budget != nil {
		if *req.Budget < 0 {
			h.respondError(w, http.StatusBadRequest, "budget must not be negative")
			return
		}
		budget = *req.Budget
	}
	policy := queue.FreshnessPolicy{DetailRefreshDays: h.defaults.DetailRefreshDays}
	if req.DetailRefreshDays != nil {
		if *req.DetailRefreshDays < 0 {
			h.respondError(w, http.StatusBadRequest, "detail_refresh_days must not be negative")
			return
		}
		policy.DetailRefreshDays = *req.DetailRefreshDays
	}

	enqueued, err := h.scheduler.BuildQueue(r.Context(), budget, policy)
	if err != nil {
		h.logger.Error("failed to rebuild queue", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to rebuild queue")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued})
}

func (h *Handlers) ListQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.scheduler.Pending(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list queue", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}

	h.respondJSON(w, http.StatusOK, entries)
}

type ConsumeRequest struct {
	Outcome string `json:"outcome"`
}

// ConsumeEntry lets an external worker report the outcome of a scrape.
func (h *Handlers) ConsumeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "queueID")
	if !ok {
		return
	}

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := queue.ParseOutcome(req.Outcome)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "outcome must be done or failed")
		return
	}

	entry, err := h.scheduler.Consume(r.Context(), id, outcome)
	switch {
	case errors.Is(err, queue.ErrTerminal):
		h.respondError(w, http.StatusConflict, "queue entry is already done or failed")
		return
	case err != nil:
		h.logger.Error("failed to consume queue entry", "queue_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to consume queue entry")
		return
	case entry == nil:
		h.respondError(w, http.StatusNotFound, "queue entry not found")
		return
	}

	h.respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.products.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func (h *Handlers) parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
