package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
	"github.com/ternarybob/corpus/internal/services/llm"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MetadataHandler enriches the document with extracted metadata. The model
// does the semantic fields; structural counts come from the markdown AST. A
// provider failure degrades to heuristic extraction rather than failing the
// job, so a flaky API never blocks the pipeline.
type MetadataHandler struct {
	documents interfaces.DocumentStorage
	llmSvc    interfaces.LLMService
	logger    arbor.ILogger
}

// NewMetadataHandler creates the metadata extraction stage handler.
func NewMetadataHandler(documents interfaces.DocumentStorage, llmSvc interfaces.LLMService, logger arbor.ILogger) *MetadataHandler {
	return &MetadataHandler{documents: documents, llmSvc: llmSvc, logger: logger}
}

func (h *MetadataHandler) Stage() models.Stage {
	return models.StageExtractMetadata
}

func (h *MetadataHandler) Process(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
	doc, err := h.loadDocument(ctx, job)
	if err != nil {
		return nil, err
	}

	meta, err := h.llmSvc.ExtractMetadata(ctx, doc.Title, doc.ContentMarkdown)
	if err != nil {
		h.logger.Warn().
			Str("job_id", job.ID).
			Str("provider", h.llmSvc.Provider()).
			Err(err).
			Msg("Metadata extraction failed, falling back to heuristics")
		meta = llm.HeuristicMetadata(doc.Title, doc.ContentMarkdown)
	}
	progress.report(70)

	if meta.Title == "" {
		meta.Title = doc.Title
	}
	meta.WordCount, meta.HeadingCount = analyzeMarkdown(doc.ContentMarkdown)

	doc.Metadata = *meta
	if err := h.documents.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document metadata: %w", err)
	}

	mode := "llm"
	if meta.Heuristic {
		mode = "heuristic"
	}
	h.logger.Info().
		Str("job_id", job.ID).
		Str("document_id", doc.ID).
		Str("mode", mode).
		Int("word_count", meta.WordCount).
		Int("tags", len(meta.Tags)).
		Msg("Document metadata extracted")

	return &Result{
		Output: fmt.Sprintf("metadata extracted (%s, %d words, %d tags)", mode, meta.WordCount, len(meta.Tags)),
	}, nil
}

func (h *MetadataHandler) loadDocument(ctx context.Context, job *models.Job) (*models.Document, error) {
	if job.DocumentID != "" {
		return h.documents.Get(ctx, job.DocumentID)
	}
	return h.documents.GetByJobID(ctx, job.ID)
}

// analyzeMarkdown walks the goldmark AST for structural counts. Heading text
// and code blocks count toward words the same as prose.
func analyzeMarkdown(content string) (words, headings int) {
	source := []byte(content)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			headings++
		case *ast.Text:
			words += len(strings.Fields(string(node.Segment.Value(source))))
		}
		return ast.WalkContinue, nil
	})
	return words, headings
}
