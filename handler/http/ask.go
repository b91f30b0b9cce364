package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragvault/src/core/knowledgebase"
)

type askRequest struct {
	Question string `json:"question"`
}

// Ask handles POST /api/ask
func (h *Handler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", knowledgebase.ErrInvalidRequest, err))
		return
	}

	answer, err := h.kb.Ask(c.Request.Context(), req.Question)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, answer)
}
