package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragvault/src/core/knowledgebase"
)

const (
	defaultJobLimit = 20
	maxJobLimit     = 100
)

// GetJob handles GET /api/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	j, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	if j == nil {
		sendError(c, fmt.Errorf("job %s: %w", id, errNotFound))
		return
	}

	c.JSON(http.StatusOK, j)
}

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	limit := defaultJobLimit
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			sendError(c, fmt.Errorf("%w: invalid limit parameter", knowledgebase.ErrInvalidRequest))
			return
		}
		limit = min(parsed, maxJobLimit)
	}

	jobs, err := h.jobs.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": jobs,
		"limit": limit,
	})
}
