package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// SearchIndexHandler publishes the document to the full-text search engine.
// The sink upserts by document id, so a redelivered message re-indexes in
// place instead of duplicating.
type SearchIndexHandler struct {
	documents interfaces.DocumentStorage
	sink      interfaces.SearchSink
	logger    arbor.ILogger
}

// NewSearchIndexHandler creates the search index stage handler.
func NewSearchIndexHandler(documents interfaces.DocumentStorage, sink interfaces.SearchSink, logger arbor.ILogger) *SearchIndexHandler {
	return &SearchIndexHandler{documents: documents, sink: sink, logger: logger}
}

func (h *SearchIndexHandler) Stage() models.Stage {
	return models.StageIndexSearch
}

func (h *SearchIndexHandler) Process(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
	doc, err := h.documents.Get(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", job.DocumentID, err)
	}

	if err := h.sink.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	searchID, err := h.sink.Upsert(ctx, doc)
	if err != nil {
		return nil, err
	}

	doc.SearchDocID = searchID
	if err := h.documents.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to record search doc id: %w", err)
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("document_id", doc.ID).
		Str("search_doc_id", searchID).
		Msg("Document indexed for search")

	return &Result{Output: fmt.Sprintf("search indexed as %s", searchID)}, nil
}

var _ Handler = (*SearchIndexHandler)(nil)
