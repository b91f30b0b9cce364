package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"ragvault/src/core/knowledgebase"
)

// Upload handles POST /api/upload-pdf. The document is staged and ingested
// in the background; the response carries the job to poll.
func (h *Handler) Upload(c *gin.Context) {
	header, err := formFile(c, "documento", "file")
	if err != nil {
		sendError(c, fmt.Errorf("%w: no file uploaded", knowledgebase.ErrInvalidRequest))
		return
	}

	name := filepath.Base(header.Filename)
	if len(h.extensions) > 0 && !slices.Contains(h.extensions, strings.ToLower(filepath.Ext(name))) {
		sendError(c, fmt.Errorf("%w: unsupported file type %q", knowledgebase.ErrInvalidRequest, filepath.Ext(name)))
		return
	}

	if c.Query("resume") != "true" && h.kb.DocumentIngested(name) {
		sendError(c, fmt.Errorf("%w: %s", knowledgebase.ErrDocumentExists, name))
		return
	}

	file, err := header.Open()
	if err != nil {
		sendError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	queued, err := h.jobs.EnqueueUpload(c.Request.Context(), name, data)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("Arquivo '%s' recebido. O processamento foi iniciado em segundo plano.", name),
		"job_id":  queued.ID,
	})
}

func formFile(c *gin.Context, fields ...string) (*multipart.FileHeader, error) {
	var err error
	for _, field := range fields {
		var header *multipart.FileHeader
		header, err = c.FormFile(field)
		if err == nil {
			return header, nil
		}
	}
	return nil, err
}
