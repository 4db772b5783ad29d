package interfaces

import (
	"context"

	"github.com/ternarybob/corpus/internal/models"
)

// SearchHit is a single full-text search result.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// SearchSink writes documents to the full-text search engine. Upsert is keyed
// by document id, so reprocessing the same document overwrites in place
// rather than duplicating.
type SearchSink interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, doc *models.Document) (string, error)
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Delete(ctx context.Context, documentID string) error
}

// Chunk is a contiguous slice of a document prepared for embedding.
type Chunk struct {
	ID      string `json:"id"`
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// VectorSink writes embedded chunks to the vector store. Chunk ids are
// derived from the document id and ordinal, so re-indexing overwrites the
// previous vectors for the same document.
type VectorSink interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	UpsertChunks(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) (int, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// ObjectStore persists raw source payloads and converted artifacts outside
// the record store.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
