package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragvault/src/core/knowledgebase"
)

type teachRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Teach handles POST /api/teach
func (h *Handler) Teach(c *gin.Context) {
	var req teachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", knowledgebase.ErrInvalidRequest, err))
		return
	}

	chunk, err := h.kb.Teach(c.Request.Context(), req.Title, req.Text)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("Conhecimento '%s' adicionado com sucesso.", chunk.Title),
		"id":      chunk.ID,
	})
}
