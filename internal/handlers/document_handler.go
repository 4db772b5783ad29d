package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// DocumentHandler handles HTTP requests for converted documents
type DocumentHandler struct {
	documents interfaces.DocumentStorage
	logger    arbor.ILogger
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(documents interfaces.DocumentStorage, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		logger:    logger,
	}
}

// ListHandler handles GET /api/documents
func (h *DocumentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := QueryInt(r, "limit", 20)
	offset := QueryInt(r, "offset", 0)

	docs, err := h.documents.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		WriteError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	// Listings omit the full markdown body.
	summaries := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, map[string]interface{}{
			"id":          doc.ID,
			"job_id":      doc.JobID,
			"title":       doc.Title,
			"metadata":    doc.Metadata,
			"chunk_count": doc.ChunkCount,
			"updated_at":  doc.UpdatedAt,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": summaries,
		"count":     len(summaries),
	})
}

// GetHandler handles GET /api/documents/{id}
func (h *DocumentHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	doc, err := h.documents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to load document")
		WriteError(w, http.StatusInternalServerError, "Failed to load document")
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

// StatsHandler handles GET /api/documents/stats
func (h *DocumentHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.documents.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute document stats")
		WriteError(w, http.StatusInternalServerError, "Failed to compute document stats")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}
