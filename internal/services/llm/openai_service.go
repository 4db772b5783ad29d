package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

type openaiService struct {
	client         openai.Client
	model          string
	embeddingModel string
	maxTokens      int
	temperature    float32
	timeout        time.Duration
	logger         arbor.ILogger
}

func newOpenAIService(cfg *common.LLMConfig, timeout time.Duration, logger arbor.ILogger) (interfaces.LLMService, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(resolveAPIKey(cfg)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	logger.Info().Str("model", model).Str("embedding_model", embeddingModel).Msg("OpenAI provider initialized")

	return &openaiService{
		client:         openai.NewClient(opts...),
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		timeout:        timeout,
		logger:         logger,
	}, nil
}

func (s *openaiService) params(system string, messages []interfaces.LLMMessage) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		converted = append(converted, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			converted = append(converted, openai.AssistantMessage(msg.Content))
		default:
			converted = append(converted, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: converted,
	}
	if s.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(s.maxTokens))
	}
	if s.temperature > 0 {
		params.Temperature = openai.Float(float64(s.temperature))
	}
	return params
}

func (s *openaiService) Complete(ctx context.Context, system string, messages []interfaces.LLMMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Chat.Completions.New(ctx, s.params(system, messages))
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *openaiService) CompleteStream(ctx context.Context, system string, messages []interfaces.LLMMessage, emit func(chunk string) error) error {
	stream := s.client.Chat.Completions.NewStreaming(ctx, s.params(system, messages))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := emit(delta); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai stream failed: %w", err)
	}
	return nil
}

func (s *openaiService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: s.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *openaiService) ExtractMetadata(ctx context.Context, title, content string) (*models.DocumentMetadata, error) {
	text, err := s.Complete(ctx, metadataSystemPrompt, []interfaces.LLMMessage{
		{Role: "user", Content: metadataPrompt(title, content)},
	})
	if err != nil {
		return nil, err
	}
	return parseMetadataResponse(text)
}

func (s *openaiService) Provider() string {
	return string(common.LLMProviderOpenAI)
}

func (s *openaiService) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.Models.Get(ctx, s.model)
	return err == nil
}
