package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// VectorIndexHandler chunks the document, embeds the chunks, and writes the
// vectors. Chunk ids derive from the document id and ordinal, so the stage
// overwrites prior vectors on reprocessing.
type VectorIndexHandler struct {
	documents  interfaces.DocumentStorage
	llmSvc     interfaces.LLMService
	sink       interfaces.VectorSink
	chunker    *Chunker
	dimensions int
	logger     arbor.ILogger
}

// NewVectorIndexHandler creates the vector index stage handler.
func NewVectorIndexHandler(documents interfaces.DocumentStorage, llmSvc interfaces.LLMService, sink interfaces.VectorSink, chunker *Chunker, dimensions int, logger arbor.ILogger) *VectorIndexHandler {
	return &VectorIndexHandler{
		documents:  documents,
		llmSvc:     llmSvc,
		sink:       sink,
		chunker:    chunker,
		dimensions: dimensions,
		logger:     logger,
	}
}

func (h *VectorIndexHandler) Stage() models.Stage {
	return models.StageIndexVector
}

func (h *VectorIndexHandler) Process(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
	doc, err := h.documents.Get(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", job.DocumentID, err)
	}

	chunks := h.chunker.Split(doc.ID, doc.ContentMarkdown)
	if len(chunks) == 0 {
		return &Result{Output: "no content to index"}, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := h.llmSvc.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	progress.report(50)

	dims := h.dimensions
	if dims <= 0 && len(vectors) > 0 {
		dims = len(vectors[0])
	}
	if err := h.sink.EnsureCollection(ctx, dims); err != nil {
		return nil, err
	}

	count, err := h.sink.UpsertChunks(ctx, doc.ID, chunks, vectors)
	if err != nil {
		return nil, err
	}

	doc.ChunkCount = count
	if err := h.documents.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to record chunk count: %w", err)
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("document_id", doc.ID).
		Int("chunks", count).
		Str("provider", h.llmSvc.Provider()).
		Msg("Document vectors indexed")

	return &Result{Output: fmt.Sprintf("vector indexed %d chunks", count)}, nil
}

var _ Handler = (*VectorIndexHandler)(nil)
