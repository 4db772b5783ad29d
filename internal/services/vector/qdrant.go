package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
)

// pointNamespace seeds deterministic point ids. The store requires UUID or
// integer ids, so the readable chunk id is hashed into a UUID and kept in the
// payload instead. The same chunk always maps to the same point, which is
// what makes re-indexing overwrite rather than accumulate.
var pointNamespace = uuid.MustParse("6f1f94aa-3b0c-4a5e-9d2e-8c1d33cf94b1")

// Sink writes embedded chunks to a Qdrant-compatible points API over HTTP.
type Sink struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
	logger     arbor.ILogger
}

// NewSink creates the vector sink.
func NewSink(cfg *common.VectorConfig, logger arbor.ILogger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vector url is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "document_chunks"
	}

	return &Sink{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: collection,
		client: &http.Client{
			Timeout: common.Duration(cfg.Timeout, 15*time.Second),
		},
		logger: logger,
	}, nil
}

func (s *Sink) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, payload)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (s *Sink) EnsureCollection(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		dimensions = 256
	}

	_, status, err := s.do(ctx, http.MethodGet, "/collections/"+s.collection, nil)
	if err != nil {
		return fmt.Errorf("failed to check vector collection: %w", err)
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	data, status, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body)
	if err != nil {
		return fmt.Errorf("failed to create vector collection: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("vector collection create returned %d: %s", status, string(data))
	}

	s.logger.Info().Str("collection", s.collection).Int("dimensions", dimensions).Msg("Vector collection created")
	return nil
}

func (s *Sink) UpsertChunks(ctx context.Context, documentID string, chunks []interfaces.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	points := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		points[i] = map[string]any{
			"id":     uuid.NewSHA1(pointNamespace, []byte(chunk.ID)).String(),
			"vector": vectors[i],
			"payload": map[string]any{
				"document_id": documentID,
				"chunk_id":    chunk.ID,
				"ordinal":     chunk.Ordinal,
				"text":        chunk.Text,
			},
		}
	}

	data, status, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", map[string]any{
		"points": points,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert vectors for %s: %w", documentID, err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("vector upsert returned %d: %s", status, string(data))
	}

	s.logger.Debug().Str("document_id", documentID).Int("points", len(points)).Msg("Vectors upserted")
	return len(points), nil
}

func (s *Sink) DeleteDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	data, status, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", body)
	if err != nil {
		return fmt.Errorf("failed to delete vectors for %s: %w", documentID, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("vector delete returned %d: %s", status, string(data))
	}
	return nil
}
