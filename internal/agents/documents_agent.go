package agents

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// DocumentsAgent reports on the ingestion corpus: document counts, index
// coverage, and recent pipeline activity. It reads the stores directly and
// never calls the model.
type DocumentsAgent struct {
	name      string
	keywords  []string
	phrases   []string
	documents interfaces.DocumentStorage
	jobs      interfaces.JobStorage
	logger    arbor.ILogger
}

// NewDocumentsAgent creates the corpus status agent from its descriptor.
func NewDocumentsAgent(d Descriptor, documents interfaces.DocumentStorage, jobs interfaces.JobStorage, logger arbor.ILogger) *DocumentsAgent {
	return &DocumentsAgent{
		name:      d.Name,
		keywords:  d.Keywords,
		phrases:   d.Phrases,
		documents: documents,
		jobs:      jobs,
		logger:    logger,
	}
}

func (a *DocumentsAgent) Name() string { return a.name }

func (a *DocumentsAgent) Keywords() []string { return a.keywords }

func (a *DocumentsAgent) Phrases() []string { return a.phrases }

func (a *DocumentsAgent) Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error {
	if err := emit(models.StreamEvent{Type: models.StreamEventThinking, Content: "Checking the corpus..."}); err != nil {
		return err
	}

	stats, err := a.documents.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load document stats: %w", err)
	}

	summary := fmt.Sprintf("The corpus holds %d documents, %d of them searchable.",
		stats.TotalDocuments, stats.IndexedDocuments)
	if stats.TotalDocuments > 0 {
		summary += fmt.Sprintf(" Average document size is %d bytes.", stats.AverageContentSize)
	}
	if err := emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: summary + "\n"}); err != nil {
		return err
	}

	for _, status := range []models.JobStatus{models.JobStatusProcessing, models.JobStatusQueued, models.JobStatusFailed} {
		jobs, err := a.jobs.List(ctx, status, 0)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			continue
		}
		if err := emit(models.StreamEvent{
			Type:    models.StreamEventContentChunk,
			Content: fmt.Sprintf("%d jobs %s.\n", len(jobs), status),
		}); err != nil {
			return err
		}
	}
	return nil
}

var _ interfaces.Agent = (*DocumentsAgent)(nil)
