package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/rerasync/internal/api/middleware"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/replica"
)

// ProjectReader is the read side the project endpoints serve from.
type ProjectReader interface {
	Get(ctx context.Context, id int64) (*domain.ProjectRecord, error)
	List(ctx context.Context, f replica.Filter) (*replica.Page, error)
	Stats(ctx context.Context) (*replica.Stats, error)
}

// ProjectHandler handles project endpoints backed by the query replica.
type ProjectHandler struct {
	reader ProjectReader
}

// NewProjectHandler creates a new project handler.
// Parameters:
//   - reader: query replica reader.
// Returns:
//   - *ProjectHandler: initialized handler.
func NewProjectHandler(reader ProjectReader) *ProjectHandler {
	return &ProjectHandler{reader: reader}
}

// ListProjects handles GET /api/v1/projects.
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minID, err := intQuery(c, "min_id", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := replica.Filter{
		Name:     c.Query("name"),
		District: c.Query("district"),
		Type:     c.Query("type"),
		MinID:    int64(minID),
		Limit:    limit,
		Offset:   offset,
	}
	if status := c.Query("status"); status != "" {
		filter.Status = domain.ApprovalStatus(strings.ToUpper(status))
	}

	page, err := h.reader.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "list projects", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetProject handles GET /api/v1/projects/:id.
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Project ID must be a positive integer",
		})
		return
	}

	project, err := h.reader.Get(c.Request.Context(), id)
	if errors.Is(err, replica.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Project not found",
		})
		return
	}
	if err != nil {
		h.fail(c, "get project", err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// GetStats handles GET /api/v1/stats.
func (h *ProjectHandler) GetStats(c *gin.Context) {
	stats, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, "get stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ProjectHandler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, replica.ErrNotBuilt) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Dataset not available yet",
		})
		return
	}
	middleware.GetLogger(c).WithError(err).Errorf("Failed to %s", op)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Failed to " + op,
	})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}
