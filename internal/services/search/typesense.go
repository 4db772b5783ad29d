package search

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

// Sink writes documents to a Typesense collection. Documents are keyed by
// their document id, so upserting the same document twice leaves one entry.
type Sink struct {
	client     *typesense.Client
	collection string
	logger     arbor.ILogger
}

// NewSink creates the Typesense-backed search sink.
func NewSink(cfg *common.SearchConfig, logger arbor.ILogger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("search url is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "documents"
	}

	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(common.Duration(cfg.Timeout, 10*time.Second)),
	)

	return &Sink{client: client, collection: collection, logger: logger}, nil
}

// searchDocument is the wire shape stored in the collection.
type searchDocument struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Language    string   `json:"language"`
	UpdatedAt   int64    `json:"updated_at"`
}

func (s *Sink) EnsureCollection(ctx context.Context) error {
	if _, err := s.client.Collection(s.collection).Retrieve(ctx); err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: s.collection,
		Fields: []api.Field{
			{Name: "title", Type: "string"},
			{Name: "content", Type: "string"},
			{Name: "description", Type: "string", Optional: pointer.True()},
			{Name: "tags", Type: "string[]", Optional: pointer.True(), Facet: pointer.True()},
			{Name: "language", Type: "string", Optional: pointer.True(), Facet: pointer.True()},
			{Name: "updated_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("updated_at"),
	}

	if _, err := s.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("failed to create search collection %s: %w", s.collection, err)
	}
	s.logger.Info().Str("collection", s.collection).Msg("Search collection created")
	return nil
}

func (s *Sink) Upsert(ctx context.Context, doc *models.Document) (string, error) {
	title := doc.Metadata.Title
	if title == "" {
		title = doc.Title
	}

	entry := searchDocument{
		ID:          doc.ID,
		Title:       title,
		Content:     doc.ContentMarkdown,
		Description: doc.Metadata.Description,
		Tags:        doc.Metadata.Tags,
		Language:    doc.Metadata.Language,
		UpdatedAt:   time.Now().Unix(),
	}

	if _, err := s.client.Collection(s.collection).Documents().Upsert(ctx, entry, &api.DocumentIndexParameters{}); err != nil {
		return "", fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}

	s.logger.Debug().Str("document_id", doc.ID).Str("collection", s.collection).Msg("Document indexed for search")
	return doc.ID, nil
}

func (s *Sink) Search(ctx context.Context, query string, limit int) ([]interfaces.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	params := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String("title,content,description,tags"),
		PerPage: pointer.Int(limit),
	}

	result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]interfaces.SearchHit, 0)
	if result.Hits == nil {
		return hits, nil
	}
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document
		sh := interfaces.SearchHit{}
		if id, ok := doc["id"].(string); ok {
			sh.DocumentID = id
		}
		if title, ok := doc["title"].(string); ok {
			sh.Title = title
		}
		if desc, ok := doc["description"].(string); ok {
			sh.Snippet = desc
		}
		if hit.TextMatch != nil {
			sh.Score = float64(*hit.TextMatch)
		}
		hits = append(hits, sh)
	}
	return hits, nil
}

func (s *Sink) Delete(ctx context.Context, documentID string) error {
	if _, err := s.client.Collection(s.collection).Document(documentID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document %s from search: %w", documentID, err)
	}
	return nil
}
