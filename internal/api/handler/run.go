package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/rerasync/internal/api/middleware"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/repository"
)

// RunLister reads harvest run bookkeeping.
type RunLister interface {
	Get(ctx context.Context, id string) (*domain.HarvestRun, error)
	ListRecent(ctx context.Context, limit int) ([]domain.HarvestRun, error)
}

// RunHandler exposes harvest run history.
type RunHandler struct {
	runs RunLister
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runs RunLister) *RunHandler {
	return &RunHandler{runs: runs}
}

// ListRuns handles GET /api/v1/runs.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit == 0 || limit > 100 {
		limit = 100
	}

	runs, err := h.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}
	c.JSON(http.StatusOK, run)
}
