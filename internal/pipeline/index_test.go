package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// memSearchSink records upserts in memory.
type memSearchSink struct {
	mu        sync.Mutex
	ensured   bool
	docs      map[string]*models.Document
	upsertErr error
}

func newMemSearchSink() *memSearchSink {
	return &memSearchSink{docs: make(map[string]*models.Document)}
}

func (s *memSearchSink) EnsureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = true
	return nil
}

func (s *memSearchSink) Upsert(ctx context.Context, doc *models.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return "", s.upsertErr
	}
	s.docs[doc.ID] = doc
	return doc.ID, nil
}

func (s *memSearchSink) Search(ctx context.Context, query string, limit int) ([]interfaces.SearchHit, error) {
	return nil, nil
}

func (s *memSearchSink) Delete(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

// memVectorSink records chunk upserts in memory.
type memVectorSink struct {
	mu         sync.Mutex
	dimensions int
	chunks     map[string][]interfaces.Chunk
	vectors    map[string][][]float32
}

func newMemVectorSink() *memVectorSink {
	return &memVectorSink{
		chunks:  make(map[string][]interfaces.Chunk),
		vectors: make(map[string][][]float32),
	}
}

func (s *memVectorSink) EnsureCollection(ctx context.Context, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimensions = dimensions
	return nil
}

func (s *memVectorSink) UpsertChunks(ctx context.Context, documentID string, chunks []interfaces.Chunk, vectors [][]float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunks) != len(vectors) {
		return 0, errors.New("chunk and vector counts differ")
	}
	s.chunks[documentID] = chunks
	s.vectors[documentID] = vectors
	return len(chunks), nil
}

func (s *memVectorSink) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	delete(s.vectors, documentID)
	return nil
}

// embedLLM embeds every text as a fixed-size vector.
type embedLLM struct {
	fakeLLM
	dims     int
	embedErr error
}

func (e *embedLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.embedErr != nil {
		return nil, e.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func TestSearchIndexHandler_UpsertsAndRecordsID(t *testing.T) {
	documents := newMemDocumentStorage()
	sink := newMemSearchSink()
	h := NewSearchIndexHandler(documents, sink, arbor.NewLogger())
	ctx := context.Background()

	saveTestDocument(t, documents, "job_1", "# Guide\n\nbody")

	job := models.NewJob("job_1", "sources/job_1/guide.md")
	job.DocumentID = "doc_meta"
	result, err := h.Process(ctx, job, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "doc_meta")

	assert.True(t, sink.ensured)
	assert.Contains(t, sink.docs, "doc_meta")

	doc, err := documents.Get(ctx, "doc_meta")
	require.NoError(t, err)
	assert.Equal(t, "doc_meta", doc.SearchDocID)
}

func TestSearchIndexHandler_SinkErrorPropagates(t *testing.T) {
	documents := newMemDocumentStorage()
	sink := newMemSearchSink()
	sink.upsertErr = errors.New("typesense unavailable")
	h := NewSearchIndexHandler(documents, sink, arbor.NewLogger())
	ctx := context.Background()

	saveTestDocument(t, documents, "job_1", "# Guide\n\nbody")

	job := models.NewJob("job_1", "sources/job_1/guide.md")
	job.DocumentID = "doc_meta"
	_, err := h.Process(ctx, job, nil)
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "a sink outage should be retried")
}

func TestVectorIndexHandler_ChunksEmbedsAndUpserts(t *testing.T) {
	documents := newMemDocumentStorage()
	sink := newMemVectorSink()
	svc := &embedLLM{dims: 8}
	h := NewVectorIndexHandler(documents, svc, sink, NewChunker(40, 10), 8, arbor.NewLogger())
	ctx := context.Background()

	content := strings.Repeat("chunked content flows through embedding. ", 6)
	saveTestDocument(t, documents, "job_1", content)

	job := models.NewJob("job_1", "sources/job_1/long.md")
	job.DocumentID = "doc_meta"
	result, err := h.Process(ctx, job, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Output, "vector indexed")

	chunks := sink.chunks["doc_meta"]
	require.NotEmpty(t, chunks)
	assert.Equal(t, 8, sink.dimensions)
	assert.Len(t, sink.vectors["doc_meta"], len(chunks))

	doc, err := documents.Get(ctx, "doc_meta")
	require.NoError(t, err)
	assert.Equal(t, len(chunks), doc.ChunkCount)
}

func TestVectorIndexHandler_EmptyDocumentIsNoop(t *testing.T) {
	documents := newMemDocumentStorage()
	sink := newMemVectorSink()
	h := NewVectorIndexHandler(documents, &embedLLM{dims: 8}, sink, NewChunker(40, 10), 8, arbor.NewLogger())
	ctx := context.Background()

	saveTestDocument(t, documents, "job_1", "")

	job := models.NewJob("job_1", "sources/job_1/empty.md")
	job.DocumentID = "doc_meta"
	result, err := h.Process(ctx, job, nil)
	require.NoError(t, err)
	assert.Equal(t, "no content to index", result.Output)
	assert.Empty(t, sink.chunks)
}

func TestVectorIndexHandler_DimensionsFromFirstVector(t *testing.T) {
	documents := newMemDocumentStorage()
	sink := newMemVectorSink()
	h := NewVectorIndexHandler(documents, &embedLLM{dims: 16}, sink, NewChunker(40, 10), 0, arbor.NewLogger())
	ctx := context.Background()

	saveTestDocument(t, documents, "job_1", "short but indexable content")

	job := models.NewJob("job_1", "sources/job_1/short.md")
	job.DocumentID = "doc_meta"
	_, err := h.Process(ctx, job, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, sink.dimensions)
}

func TestVectorIndexHandler_EmbedErrorPropagates(t *testing.T) {
	documents := newMemDocumentStorage()
	h := NewVectorIndexHandler(documents, &embedLLM{embedErr: errors.New("quota exceeded")}, newMemVectorSink(), NewChunker(40, 10), 8, arbor.NewLogger())
	ctx := context.Background()

	saveTestDocument(t, documents, "job_1", "content to embed")

	job := models.NewJob("job_1", "sources/job_1/fail.md")
	job.DocumentID = "doc_meta"
	_, err := h.Process(ctx, job, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding failed")
}
