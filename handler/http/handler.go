package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ragvault/src/core/knowledgebase"
	"ragvault/src/infrastructure/job"
)

// KnowledgeService is the part of knowledgebase.Service the handlers call.
type KnowledgeService interface {
	Teach(ctx context.Context, title, text string) (*knowledgebase.Chunk, error)
	Ask(ctx context.Context, question string) (*knowledgebase.Answer, error)
	DocumentIngested(name string) bool
	StoreSize() int
}

// JobQueue accepts uploads for background ingestion and reports their state.
type JobQueue interface {
	EnqueueUpload(ctx context.Context, filename string, data []byte) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, limit int) ([]job.Job, error)
}

type Handler struct {
	kb         KnowledgeService
	jobs       JobQueue
	extensions []string
	metrics    http.Handler
}

// NewHandler builds the API handlers. extensions limits the accepted upload
// types; an empty list accepts anything the extractor can be asked about.
func NewHandler(kb KnowledgeService, jobs JobQueue, extensions []string) *Handler {
	return &Handler{
		kb:         kb,
		jobs:       jobs,
		extensions: extensions,
		metrics:    promhttp.Handler(),
	}
}

// RegisterRoutes registers the API, health and metrics routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/teach", h.Teach)
	api.POST("/upload-pdf", h.Upload)
	api.POST("/ask", h.Ask)

	api.GET("/jobs", h.ListJobs)
	api.GET("/jobs/:id", h.GetJob)

	r.GET("/health", h.CheckHealth)
	r.GET("/metrics", gin.WrapH(h.metrics))
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errNotFound = errors.New("not found")

func sendError(c *gin.Context, err error) {
	var code string
	var status int
	switch {
	case errors.Is(err, knowledgebase.ErrInvalidRequest):
		code = "INVALID_REQUEST"
		status = http.StatusBadRequest
	case errors.Is(err, knowledgebase.ErrDuplicate):
		code = "DUPLICATE"
		status = http.StatusConflict
	case errors.Is(err, knowledgebase.ErrDocumentExists):
		code = "DOCUMENT_EXISTS"
		status = http.StatusConflict
	case errors.Is(err, knowledgebase.ErrQuotaExceeded):
		code = "QUOTA_EXCEEDED"
		status = http.StatusTooManyRequests
	case errors.Is(err, errNotFound), errors.Is(err, job.ErrJobNotFound):
		code = "NOT_FOUND"
		status = http.StatusNotFound
	case errors.Is(err, knowledgebase.ErrEmbedding), errors.Is(err, knowledgebase.ErrGeneration):
		code = "PROVIDER_ERROR"
		status = http.StatusBadGateway
	default:
		code = "INTERNAL_ERROR"
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}
