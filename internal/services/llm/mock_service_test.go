package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
)

func TestMockService_CompleteEchoesLastUserMessage(t *testing.T) {
	s := NewMockService(arbor.NewLogger())

	reply, err := s.Complete(context.Background(), "system", []interfaces.LLMMessage{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "an answer"},
		{Role: "user", Content: "second question"},
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "second question")
	assert.NotContains(t, reply, "an answer")
}

func TestMockService_CompleteIsDeterministic(t *testing.T) {
	s := NewMockService(arbor.NewLogger())
	messages := []interfaces.LLMMessage{{Role: "user", Content: "hello"}}

	first, err := s.Complete(context.Background(), "", messages)
	require.NoError(t, err)
	second, err := s.Complete(context.Background(), "", messages)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMockService_CompleteStreamReassembles(t *testing.T) {
	s := NewMockService(arbor.NewLogger())
	messages := []interfaces.LLMMessage{{Role: "user", Content: "stream me"}}

	full, err := s.Complete(context.Background(), "", messages)
	require.NoError(t, err)

	var got strings.Builder
	err = s.CompleteStream(context.Background(), "", messages, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, full, got.String())
}

func TestMockService_CompleteStreamCancelled(t *testing.T) {
	s := NewMockService(arbor.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.CompleteStream(ctx, "", []interfaces.LLMMessage{{Role: "user", Content: "x"}}, func(string) error {
		t.Fatal("should not emit after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalEmbedder_DimensionsAndDeterminism(t *testing.T) {
	s := NewMockService(arbor.NewLogger())

	vectors, err := s.Embed(context.Background(), []string{"alpha beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], mockEmbeddingDimensions)

	again, err := s.Embed(context.Background(), []string{"alpha beta"})
	require.NoError(t, err)
	assert.Equal(t, vectors[0], again[0])
}

func TestLocalEmbedder_Normalized(t *testing.T) {
	e := newLocalEmbedder()

	vec := e.embedOne("the quick brown fox jumps over the lazy dog")

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestLocalEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := newLocalEmbedder()

	base := e.embedOne("document ingestion pipeline with search indexing")
	similar := e.embedOne("pipeline for document ingestion and indexing")
	unrelated := e.embedOne("recipe for chocolate cake with vanilla frosting")

	assert.Greater(t, dot(base, similar), dot(base, unrelated))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Hello, World! go2go")
	assert.Equal(t, []string{"hello", "world", "go2go"}, tokens)
}

func TestHeuristicMetadata(t *testing.T) {
	content := "# Ingestion Guide\n\nThis guide explains the ingestion pipeline stages and their retry behavior.\n\nMore pipeline detail about pipeline stages."

	meta := HeuristicMetadata("Ingestion Guide", content)

	assert.Equal(t, "Ingestion Guide", meta.Title)
	assert.True(t, meta.Heuristic)
	assert.Equal(t, "en", meta.Language)
	// Description comes from the first non-heading paragraph.
	assert.True(t, strings.HasPrefix(meta.Description, "This guide explains"))
	assert.Equal(t, meta.Description, meta.Summary)
	assert.Contains(t, meta.Tags, "pipeline")
}

func TestHeuristicMetadata_LongParagraphTruncated(t *testing.T) {
	long := strings.Repeat("word ", 100)

	meta := HeuristicMetadata("T", long)

	assert.LessOrEqual(t, len([]rune(meta.Description)), 240)
}

func TestFirstRunes(t *testing.T) {
	assert.Equal(t, "abc", firstRunes("abc", 10))
	assert.Equal(t, "ab", firstRunes("abcdef", 2))
	assert.Equal(t, "héllo", firstRunes("héllo world", 5))
}

func TestMockService_Provider(t *testing.T) {
	s := NewMockService(arbor.NewLogger())

	assert.Equal(t, "mock", s.Provider())
	assert.True(t, s.Available(context.Background()))
}

var _ interfaces.LLMService = (*MockService)(nil)
