package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

type anthropicService struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      arbor.ILogger
	// Anthropic has no embedding endpoint; vectors come from the local
	// deterministic embedder so the vector stage still functions.
	embedder *localEmbedder
}

func newAnthropicService(cfg *common.LLMConfig, timeout time.Duration, logger arbor.ILogger) (interfaces.LLMService, error) {
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	logger.Info().Str("model", model).Msg("Anthropic provider initialized")

	return &anthropicService{
		client:      anthropic.NewClient(option.WithAPIKey(resolveAPIKey(cfg))),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		logger:      logger,
		embedder:    newLocalEmbedder(),
	}, nil
}

func (s *anthropicService) params(system string, messages []interfaces.LLMMessage) anthropic.MessageNewParams {
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		Messages:  converted,
	}
	if s.temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (s *anthropicService) Complete(ctx context.Context, system string, messages []interfaces.LLMMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Messages.New(ctx, s.params(system, messages))
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}
	return text.String(), nil
}

func (s *anthropicService) CompleteStream(ctx context.Context, system string, messages []interfaces.LLMMessage, emit func(chunk string) error) error {
	stream := s.client.Messages.NewStreaming(ctx, s.params(system, messages))

	for stream.Next() {
		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if err := emit(delta.Text); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream failed: %w", err)
	}
	return nil
}

func (s *anthropicService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embedder.Embed(texts), nil
}

func (s *anthropicService) ExtractMetadata(ctx context.Context, title, content string) (*models.DocumentMetadata, error) {
	text, err := s.Complete(ctx, metadataSystemPrompt, []interfaces.LLMMessage{
		{Role: "user", Content: metadataPrompt(title, content)},
	})
	if err != nil {
		return nil, err
	}
	return parseMetadataResponse(text)
}

func (s *anthropicService) Provider() string {
	return string(common.LLMProviderAnthropic)
}

func (s *anthropicService) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := s.params("", []interfaces.LLMMessage{{Role: "user", Content: "ping"}})
	params.MaxTokens = 1
	_, err := s.client.Messages.New(ctx, params)
	return err == nil
}
