package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CheckHealth handles GET /health
func (h *Handler) CheckHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"chunks": h.kb.StoreSize(),
	})
}
