package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

const mockEmbeddingDimensions = 256

// localEmbedder produces deterministic bag-of-words vectors by hashing tokens
// into a fixed number of buckets and normalizing. The vectors carry enough
// signal for similarity over small corpora and never change between runs,
// which is what the tests and the no-API-key degradation path need.
type localEmbedder struct {
	dims int
}

func newLocalEmbedder() *localEmbedder {
	return &localEmbedder{dims: mockEmbeddingDimensions}
}

func (e *localEmbedder) Embed(texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors
}

func (e *localEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%e.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// MockService is the deterministic fallback provider. It answers completions
// with a fixed preamble plus an echo of the request, extracts metadata with
// local heuristics, and embeds with the hashing embedder.
type MockService struct {
	embedder *localEmbedder
	logger   arbor.ILogger
}

// NewMockService creates the mock provider.
func NewMockService(logger arbor.ILogger) *MockService {
	return &MockService{embedder: newLocalEmbedder(), logger: logger}
}

func (s *MockService) Complete(ctx context.Context, system string, messages []interfaces.LLMMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			last = messages[i].Content
			break
		}
	}
	return fmt.Sprintf("[mock] No language model is configured. Received: %s", firstRunes(last, 200)), nil
}

func (s *MockService) CompleteStream(ctx context.Context, system string, messages []interfaces.LLMMessage, emit func(chunk string) error) error {
	text, err := s.Complete(ctx, system, messages)
	if err != nil {
		return err
	}
	// Stream word by word so downstream chunk handling gets exercised.
	for _, word := range strings.SplitAfter(text, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(word); err != nil {
			return err
		}
	}
	return nil
}

func (s *MockService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.embedder.Embed(texts), nil
}

func (s *MockService) ExtractMetadata(ctx context.Context, title, content string) (*models.DocumentMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return HeuristicMetadata(title, content), nil
}

func (s *MockService) Provider() string {
	return string(common.LLMProviderMock)
}

func (s *MockService) Available(ctx context.Context) bool {
	return true
}

// HeuristicMetadata derives metadata from the text alone: description from
// the first paragraph, tags from token frequency. Used by the mock provider
// and as the extraction fallback when a real provider errors.
func HeuristicMetadata(title, content string) *models.DocumentMetadata {
	meta := &models.DocumentMetadata{
		Title:     title,
		Heuristic: true,
		Language:  "en",
	}

	for _, para := range strings.Split(content, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		meta.Description = firstRunes(trimmed, 240)
		break
	}
	meta.Summary = meta.Description
	meta.Tags = topTokens(content, 5)
	return meta
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "with": {},
	"that": {}, "this": {}, "from": {}, "have": {}, "has": {}, "not": {},
	"you": {}, "your": {}, "but": {}, "can": {}, "will": {}, "its": {},
	"all": {}, "one": {}, "our": {}, "their": {}, "they": {}, "them": {},
}

func topTokens(text string, n int) []string {
	counts := make(map[string]int)
	for _, token := range tokenize(text) {
		if len(token) < 4 {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		counts[token]++
	}

	tokens := make([]string, 0, len(counts))
	for t := range counts {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return tokens
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
