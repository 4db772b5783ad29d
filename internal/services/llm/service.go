package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// NewService builds the configured completion/embedding backend. A missing
// API key downgrades to the mock provider so the pipeline and chat layers
// keep working with deterministic output instead of failing at startup.
func NewService(cfg *common.LLMConfig, logger arbor.ILogger) (interfaces.LLMService, error) {
	timeout := common.Duration(cfg.Timeout, 30*time.Second)

	provider := cfg.Provider
	if provider != common.LLMProviderMock && resolveAPIKey(cfg) == "" {
		logger.Warn().
			Str("provider", string(provider)).
			Msg("No API key configured, falling back to mock LLM provider")
		provider = common.LLMProviderMock
	}

	switch provider {
	case common.LLMProviderOpenAI:
		return newOpenAIService(cfg, timeout, logger)
	case common.LLMProviderAnthropic:
		return newAnthropicService(cfg, timeout, logger)
	case common.LLMProviderGemini:
		return newGeminiService(cfg, timeout, logger)
	case common.LLMProviderMock, "":
		return NewMockService(logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

func resolveAPIKey(cfg *common.LLMConfig) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return common.ProviderEnvAPIKey(cfg.Provider)
}

const metadataSystemPrompt = `You extract structured metadata from markdown documents.
Respond with a single JSON object and nothing else, using this shape:
{"title": string, "description": string, "tags": [string], "summary": string, "language": string}
Tags are 3-8 lowercase topic keywords. Language is an ISO 639-1 code.`

// metadataPrompt truncates long documents so extraction requests stay inside
// model context limits. Word and heading counts are computed locally, not
// asked of the model.
func metadataPrompt(title, content string) string {
	const maxRunes = 12000
	runes := []rune(content)
	if len(runes) > maxRunes {
		content = string(runes[:maxRunes])
	}
	var b strings.Builder
	if title != "" {
		b.WriteString("Document title: ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString("Document content:\n\n")
	b.WriteString(content)
	return b.String()
}

// parseMetadataResponse tolerates code fences and leading prose around the
// JSON object that models sometimes emit.
func parseMetadataResponse(text string) (*models.DocumentMetadata, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in metadata response")
	}

	var meta models.DocumentMetadata
	if err := json.Unmarshal([]byte(text[start:end+1]), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata response: %w", err)
	}
	return &meta, nil
}
