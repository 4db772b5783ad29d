package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
	"google.golang.org/genai"
)

type geminiService struct {
	client         *genai.Client
	model          string
	embeddingModel string
	temperature    float32
	timeout        time.Duration
	logger         arbor.ILogger
}

func newGeminiService(cfg *common.LLMConfig, timeout time.Duration, logger arbor.ILogger) (interfaces.LLMService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  resolveAPIKey(cfg),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}

	logger.Info().Str("model", model).Str("embedding_model", embeddingModel).Msg("Gemini provider initialized")

	return &geminiService{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    cfg.Temperature,
		timeout:        timeout,
		logger:         logger,
	}, nil
}

func (s *geminiService) contents(messages []interfaces.LLMMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(msg.Content, role))
	}
	return out
}

func (s *geminiService) config(system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if s.temperature > 0 {
		config.Temperature = genai.Ptr(s.temperature)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return config
}

func (s *geminiService) Complete(ctx context.Context, system string, messages []interfaces.LLMMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Models.GenerateContent(ctx, s.model, s.contents(messages), s.config(system))
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text.String(), nil
}

func (s *geminiService) CompleteStream(ctx context.Context, system string, messages []interfaces.LLMMessage, emit func(chunk string) error) error {
	for resp, err := range s.client.Models.GenerateContentStream(ctx, s.model, s.contents(messages), s.config(system)) {
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *geminiService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := s.client.Models.EmbedContent(ctx, s.embeddingModel, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned unexpected embedding count")
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (s *geminiService) ExtractMetadata(ctx context.Context, title, content string) (*models.DocumentMetadata, error) {
	text, err := s.Complete(ctx, metadataSystemPrompt, []interfaces.LLMMessage{
		{Role: "user", Content: metadataPrompt(title, content)},
	})
	if err != nil {
		return nil, err
	}
	return parseMetadataResponse(text)
}

func (s *geminiService) Provider() string {
	return string(common.LLMProviderGemini)
}

func (s *geminiService) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.Embed(ctx, []string{"ping"})
	return err == nil
}
