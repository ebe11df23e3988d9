package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-repo-insights/internal/aggregator"
	"github.com/kurihiro0119/github-repo-insights/internal/batch"
	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
	"github.com/kurihiro0119/github-repo-insights/internal/storage"
)

// Handler handles API requests
type Handler struct {
	aggregator aggregator.Aggregator
	manager    *batch.Manager
	store      storage.RunStore

	defaultToken     string
	hideMergeCommits bool
}

// HandlerOptions holds the server-side defaults applied to requests
type HandlerOptions struct {
	// DefaultToken is used when a request carries no Authorization header
	DefaultToken     string
	HideMergeCommits bool
}

// NewHandler creates a new API handler. store may be nil when the run journal is disabled.
func NewHandler(agg aggregator.Aggregator, manager *batch.Manager, store storage.RunStore, opts HandlerOptions) *Handler {
	return &Handler{
		aggregator:       agg,
		manager:          manager,
		store:            store,
		defaultToken:     opts.DefaultToken,
		hideMergeCommits: opts.HideMergeCommits,
	}
}

// AnalyzeRequest is the body of POST /api/v1/repositories/analyze
type AnalyzeRequest struct {
	Repo             string `json:"repo" binding:"required"`
	HideMergeCommits *bool  `json:"hideMergeCommits"`
}

// BatchRequest is the body of POST /api/v1/batches
type BatchRequest struct {
	Repos            []string `json:"repos" binding:"required"`
	HideMergeCommits *bool    `json:"hideMergeCommits"`
}

// AnalyzeRepository analyzes a single repository synchronously
// POST /api/v1/repositories/analyze
func (h *Handler) AnalyzeRepository(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}
	token, err := h.token(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.aggregator.AnalyzeRepository(c.Request.Context(), req.Repo, token, h.fetchOptions(req.HideMergeCommits))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
	})
}

// StartBatch starts a batch run in the background
// POST /api/v1/batches
func (h *Handler) StartBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}
	token, err := h.token(c)
	if err != nil {
		respondError(c, err)
		return
	}

	id, warnings, err := h.manager.Start(req.Repos, token, h.fetchOptions(req.HideMergeCommits))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":       id,
		"warnings": warnings,
	})
}

// GetBatch returns the live state of a batch run
// GET /api/v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	report, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// InterruptBatch asks a batch run to stop
// POST /api/v1/batches/:id/interrupt
func (h *Handler) InterruptBatch(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Interrupt(id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "interrupt requested",
	})
}

// ListRuns returns journaled batch runs, most recent first
// GET /api/v1/runs
func (h *Handler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"data": []runResponse{}})
		return
	}

	limit := storage.DefaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(c, apperrors.NewBadRequestError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, newRunResponse(r, nil))
	}
	c.JSON(http.StatusOK, gin.H{
		"data": out,
	})
}

// GetRun returns one journaled run with its items
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	if h.store == nil {
		respondError(c, apperrors.NewNotFoundError("run journal"))
		return
	}

	id := c.Param("id")
	run, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	items, err := h.store.GetRunItems(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": newRunResponse(run, items),
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// token resolves the GitHub credential for a request.
// It is passed through to GitHub and never stored or logged.
func (h *Handler) token(c *gin.Context) (string, error) {
	if auth := c.GetHeader("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && (strings.EqualFold(scheme, "bearer") || strings.EqualFold(scheme, "token")) && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
		return "", apperrors.NewUnauthorizedError("malformed Authorization header")
	}
	if h.defaultToken != "" {
		return h.defaultToken, nil
	}
	return "", apperrors.NewUnauthorizedError("a GitHub token is required")
}

func (h *Handler) fetchOptions(hideMergeCommits *bool) domain.FetchOptions {
	opts := domain.FetchOptions{HideMergeCommits: h.hideMergeCommits}
	if hideMergeCommits != nil {
		opts.HideMergeCommits = *hideMergeCommits
	}
	return opts
}

type runItemResponse struct {
	ItemID      string  `json:"itemId"`
	Position    int     `json:"position"`
	Input       string  `json:"url"`
	Owner       string  `json:"owner"`
	Repo        string  `json:"repo"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	StartedAt   *string `json:"startedAt,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

type runResponse struct {
	ID         string            `json:"id"`
	State      string            `json:"state"`
	Message    string            `json:"message,omitempty"`
	ItemCount  int               `json:"itemCount"`
	StartedAt  string            `json:"startedAt"`
	FinishedAt *string           `json:"finishedAt,omitempty"`
	Items      []runItemResponse `json:"items,omitempty"`
}

func newRunResponse(r *domain.BatchRun, items []*domain.BatchItemRecord) runResponse {
	out := runResponse{
		ID:         r.ID,
		State:      string(r.State),
		Message:    r.Message,
		ItemCount:  r.ItemCount,
		StartedAt:  r.StartedAt.Format(timeLayout),
		FinishedAt: formatTime(r.FinishedAt),
	}
	for _, it := range items {
		out.Items = append(out.Items, runItemResponse{
			ItemID:      it.ItemID,
			Position:    it.Position,
			Input:       it.Input,
			Owner:       it.Owner,
			Repo:        it.RepoName,
			Status:      string(it.Status),
			Error:       it.Error,
			StartedAt:   formatTime(it.StartedAt),
			CompletedAt: formatTime(it.CompletedAt),
		})
	}
	return out
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeBadRequest, apperrors.ErrCodeInvalidIdentifier:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		case apperrors.ErrCodeAggregation, apperrors.ErrCodeTransport:
			status = http.StatusBadGateway
		case apperrors.ErrCodeCancelled:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": errorMessage(appErr),
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}

// errorMessage joins the messages of nested application errors, naming the repository and the reason
func errorMessage(appErr *apperrors.AppError) string {
	msg := appErr.Message
	var cause *apperrors.AppError
	if appErr.Err != nil && errors.As(appErr.Err, &cause) {
		msg += ": " + errorMessage(cause)
	}
	return msg
}

const timeLayout = time.RFC3339

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeLayout)
	return &s
}
