package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/rerasync/internal/replica"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	reader ProjectReader
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(reader ProjectReader) *HealthHandler {
	return &HealthHandler{reader: reader}
}

// Health returns the health status of the service. The process is healthy
// before the first replica exists; the dataset field reports readiness.
func (h *HealthHandler) Health(c *gin.Context) {
	dataset := "ready"
	if _, err := h.reader.Stats(c.Request.Context()); err != nil {
		if errors.Is(err, replica.ErrNotBuilt) {
			dataset = "missing"
		} else {
			dataset = "error"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"dataset": dataset,
	})
}
