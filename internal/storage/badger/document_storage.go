package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

type documentStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewDocumentStorage creates a badgerhold-backed document store.
func NewDocumentStorage(conn *Connection, logger arbor.ILogger) interfaces.DocumentStorage {
	return &documentStorage{store: conn.Store(), logger: logger}
}

func (s *documentStorage) Save(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	doc.UpdatedAt = time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}
	if err := s.store.Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *documentStorage) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.store.Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *documentStorage) GetByJobID(ctx context.Context, jobID string) (*models.Document, error) {
	var docs []models.Document
	if err := s.store.Find(&docs, badgerhold.Where("JobID").Eq(jobID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query documents for job %s: %w", jobID, err)
	}
	if len(docs) == 0 {
		return nil, models.ErrNotFound
	}
	return &docs[0], nil
}

func (s *documentStorage) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	var docs []models.Document
	query := badgerhold.Where("ID").Ne("").SortBy("UpdatedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.store.Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	out := make([]*models.Document, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

func (s *documentStorage) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(id, &models.Document{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (s *documentStorage) Count(ctx context.Context) (int, error) {
	count, err := s.store.Count(&models.Document{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

func (s *documentStorage) Stats(ctx context.Context) (*models.DocumentStats, error) {
	var docs []models.Document
	if err := s.store.Find(&docs, nil); err != nil {
		return nil, fmt.Errorf("failed to load documents for stats: %w", err)
	}
	stats := &models.DocumentStats{TotalDocuments: len(docs)}
	totalSize := 0
	for i := range docs {
		totalSize += len(docs[i].ContentMarkdown)
		if docs[i].SearchDocID != "" {
			stats.IndexedDocuments++
		}
		if docs[i].UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = docs[i].UpdatedAt
		}
	}
	if len(docs) > 0 {
		stats.AverageContentSize = totalSize / len(docs)
	}
	return stats, nil
}
